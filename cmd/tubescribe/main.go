// Command tubescribe is the main entry point for the tubescribe
// transcription server. Without flags it serves the HTTP API; with -url
// it transcribes a single video, prints the transcript to stdout and
// exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tubescribe/tubescribe/internal/app"
	"github.com/tubescribe/tubescribe/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (default $TUBESCRIBE_CONFIG, then built-in defaults)")
	logLevel := flag.String("log-level", "", "override the configured log level (debug|info|warn|error)")
	oneShotURL := flag.String("url", "", "transcribe a single video URL, print the transcript and exit")
	language := flag.String("language", "", "language hint for -url mode (ISO 639-1 code, default auto-detect)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tubescribe: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tubescribe: %v\n", err)
		}
		return 1
	}
	if *logLevel != "" {
		lvl := config.LogLevel(*logLevel)
		if !lvl.IsValid() {
			fmt.Fprintf(os.Stderr, "tubescribe: unknown log level %q\n", *logLevel)
			return 1
		}
		cfg.Server.LogLevel = lvl
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("tubescribe starting",
		"config", *configPath,
		"addr", cfg.Addr(),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── One-shot mode ─────────────────────────────────────────────────────────
	// Logs go to stderr, so stdout carries only the transcript and the
	// output pipes cleanly into other tools.
	if *oneShotURL != "" {
		res, err := application.Transcribe(ctx, *oneShotURL, *language)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if serr := application.Shutdown(shutdownCtx); serr != nil {
			slog.Warn("shutdown error", "err", serr)
		}

		if err != nil {
			slog.Error("transcription failed", "err", err)
			return 1
		}
		fmt.Println(res.Text)
		return 0
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	printStartupSummary(cfg)

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      tubescribe — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Addr())
	printRow("Default mode", string(cfg.Pipeline.Mode))
	if cfg.Pipeline.Mode == config.ModeLocal {
		printRow("Engine", string(cfg.Local.Engine)+" / "+cfg.Local.Model)
	} else {
		printRow("Provider", string(cfg.Pipeline.Provider))
	}
	printRow("Cache", fmt.Sprintf("%d entries", cfg.Pipeline.CacheCapacity))
	printRow("Correction", onOff(cfg.Pipeline.Correction))
	if cfg.SummaryEnabled() {
		printRow("Summary", cfg.Summary.Provider+" / "+cfg.Summary.Model)
	} else {
		printRow("Summary", "(disabled)")
	}
	printRow("MCP", onOff(cfg.MCP.Enabled))
	printRow("Metrics", onOff(cfg.Telemetry.Metrics))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s : %-19s ║\n", label, value)
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level.Level()}))
}
