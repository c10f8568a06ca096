// Package app wires all tubescribe subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects every
// subsystem in dependency order, Run serves HTTP until the context ends,
// and Shutdown tears the rest down. Transcribe drives a single request
// through the same pipeline without the HTTP surface, for the -url CLI
// mode.
//
// For testing, inject stand-ins via functional options (WithResolver,
// WithFetcher, WithLocalBackend, ...). When an option is not provided,
// New builds the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/tubescribe/tubescribe/internal/cache"
	"github.com/tubescribe/tubescribe/internal/config"
	"github.com/tubescribe/tubescribe/internal/health"
	"github.com/tubescribe/tubescribe/internal/mcpserver"
	"github.com/tubescribe/tubescribe/internal/observe"
	"github.com/tubescribe/tubescribe/internal/pipeline"
	"github.com/tubescribe/tubescribe/internal/resilience"
	"github.com/tubescribe/tubescribe/internal/server"
	"github.com/tubescribe/tubescribe/internal/summary"
	"github.com/tubescribe/tubescribe/internal/transcript"
	"github.com/tubescribe/tubescribe/internal/video"
	"github.com/tubescribe/tubescribe/pkg/provider/llm"
	"github.com/tubescribe/tubescribe/pkg/provider/llm/anyllm"
	llmopenai "github.com/tubescribe/tubescribe/pkg/provider/llm/openai"
	"github.com/tubescribe/tubescribe/pkg/provider/transcribe"
	"github.com/tubescribe/tubescribe/pkg/provider/transcribe/deepgram"
	transcribeopenai "github.com/tubescribe/tubescribe/pkg/provider/transcribe/openai"
	"github.com/tubescribe/tubescribe/pkg/provider/transcribe/whispercli"
	"github.com/tubescribe/tubescribe/pkg/provider/transcribe/whispernative"
)

const (
	// telemetryFlushTimeout bounds the final metrics and trace flush when
	// the telemetry closer runs during Shutdown.
	telemetryFlushTimeout = 5 * time.Second

	// drainTimeout is how long Run waits for in-flight requests after the
	// context ends. Streaming responses for long jobs can exceed it; those
	// connections are cut.
	drainTimeout = 15 * time.Second

	// readHeaderTimeout guards the listener against idle half-open
	// connections. Response writing stays unbounded: SSE and WebSocket
	// streams hold their connection for the whole job.
	readHeaderTimeout = 10 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	log *slog.Logger

	// Injectable units, filled from options or built in New.
	resolver pipeline.VideoResolver
	fetcher  pipeline.AudioFetcher
	local    transcribe.Provider

	pipeline   *pipeline.Pipeline
	summarizer *summary.Summarizer
	metrics    *observe.Metrics
	health     *health.Handler
	srv        *http.Server

	// closers run in reverse order during Shutdown.
	closers []func() error

	// stopOnce makes Shutdown idempotent.
	stopOnce sync.Once
}

// Option is a functional option for New; tests use these to swap in doubles.
type Option func(*App)

// WithResolver injects a metadata resolver instead of the yt-dlp one.
func WithResolver(r pipeline.VideoResolver) Option {
	return func(a *App) { a.resolver = r }
}

// WithFetcher injects an audio fetcher instead of the yt-dlp one.
func WithFetcher(f pipeline.AudioFetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithLocalBackend injects the local-mode transcription backend instead of
// building a whisper.cpp engine from the config.
func WithLocalBackend(p transcribe.Provider) Option {
	return func(a *App) { a.local = p }
}

// WithSummarizer injects a summarizer instead of building the LLM chain
// from the config.
func WithSummarizer(s *summary.Summarizer) Option {
	return func(a *App) { a.summarizer = s }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together in dependency
// order. Construction is synchronous; a native whisper engine loads its
// model here, everything else defers real work to the first request.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	a := &App{
		cfg: cfg,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if cfg.Telemetry.Metrics {
		shutdown, err := observe.InitProvider(observe.Config{ServiceName: "tubescribe"})
		if err != nil {
			return nil, fmt.Errorf("app: init telemetry: %w", err)
		}
		a.closers = append(a.closers, func() error {
			fctx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
			defer cancel()
			return shutdown(fctx)
		})
	}
	a.metrics = observe.DefaultMetrics()

	// ── 2. Video tooling ─────────────────────────────────────────────────
	if a.resolver == nil {
		a.resolver = video.NewResolver()
	}
	if a.fetcher == nil {
		f, err := video.NewFetcher(cfg.Pipeline.TempDir)
		if err != nil {
			return nil, fmt.Errorf("app: init fetcher: %w", err)
		}
		a.fetcher = f
	}

	// ── 3. Local engine ──────────────────────────────────────────────────
	// Built even when the default mode is api: any request can still ask
	// for local transcription with an X-Mode header.
	if a.local == nil {
		local, err := a.buildLocalEngine()
		if err != nil {
			return nil, fmt.Errorf("app: init local engine: %w", err)
		}
		a.local = local
	}

	// ── 4. Pipeline ──────────────────────────────────────────────────────
	p, err := a.buildPipeline()
	if err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.pipeline = p

	// ── 5. Summarizer ────────────────────────────────────────────────────
	if a.summarizer == nil && cfg.SummaryEnabled() {
		s, err := a.buildSummarizer()
		if err != nil {
			return nil, fmt.Errorf("app: init summarizer: %w", err)
		}
		a.summarizer = s
	}

	// ── 6. Health ────────────────────────────────────────────────────────
	a.health = health.New(a.buildCheckers()...)

	// ── 7. HTTP server ───────────────────────────────────────────────────
	if err := a.buildServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// buildLocalEngine constructs the configured whisper.cpp integration. The
// cli engine validates lazily per request; the native engine loads the
// model immediately and registers its closer.
func (a *App) buildLocalEngine() (transcribe.Provider, error) {
	local := a.cfg.Local

	switch local.Engine {
	case config.EngineNative:
		p, err := whispernative.New(whispercli.ModelFile(local.ModelDir, local.Model))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		return p, nil

	case config.EngineCLI, "":
		var opts []whispercli.Option
		if local.Binary != "" {
			opts = append(opts, whispercli.WithBinary(local.Binary))
		}
		if local.ModelDir != "" {
			opts = append(opts, whispercli.WithModelDir(local.ModelDir))
		}
		if a.cfg.Pipeline.TempDir != "" {
			opts = append(opts, whispercli.WithScratchDir(a.cfg.Pipeline.TempDir))
		}
		return whispercli.New(local.Model, opts...)

	default:
		return nil, fmt.Errorf("unknown local engine %q", local.Engine)
	}
}

// buildPipeline assembles the backend factory and the request pipeline
// from the config.
func (a *App) buildPipeline() (*pipeline.Pipeline, error) {
	factoryOpts := []pipeline.FactoryOption{
		pipeline.WithLocalBackend(a.local),
	}
	if key := a.cfg.OpenAI.APIKey; key != "" {
		factoryOpts = append(factoryOpts, pipeline.WithOpenAIKey(key))
	}
	var oaiOpts []transcribeopenai.Option
	if a.cfg.OpenAI.Endpoint != "" {
		oaiOpts = append(oaiOpts, transcribeopenai.WithEndpoint(a.cfg.OpenAI.Endpoint))
	}
	if a.cfg.OpenAI.Model != "" {
		oaiOpts = append(oaiOpts, transcribeopenai.WithModel(a.cfg.OpenAI.Model))
	}
	if len(oaiOpts) > 0 {
		factoryOpts = append(factoryOpts, pipeline.WithOpenAIOptions(oaiOpts...))
	}
	if key := a.cfg.Deepgram.APIKey; key != "" {
		factoryOpts = append(factoryOpts, pipeline.WithDeepgramKey(key))
	}
	if a.cfg.Deepgram.Endpoint != "" {
		factoryOpts = append(factoryOpts, pipeline.WithDeepgramOptions(deepgram.WithEndpoint(a.cfg.Deepgram.Endpoint)))
	}

	popts := []pipeline.Option{
		pipeline.WithDefaultMode(string(a.cfg.Pipeline.Mode)),
		pipeline.WithMaxDuration(a.cfg.Pipeline.MaxDurationSeconds),
		pipeline.WithCache(cache.New[pipeline.Result](a.cfg.Pipeline.CacheCapacity)),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.log),
	}
	if a.cfg.Pipeline.StageTimeoutSeconds > 0 {
		popts = append(popts, pipeline.WithStageTimeout(time.Duration(a.cfg.Pipeline.StageTimeoutSeconds)*time.Second))
	}
	if a.cfg.Pipeline.Correction {
		popts = append(popts, pipeline.WithCorrector(transcript.New(transcript.WithLogger(a.log))))
	}

	return pipeline.New(a.resolver, a.fetcher, pipeline.NewFactory(factoryOpts...), popts...)
}

// buildSummarizer constructs the LLM provider chain named in the config.
// With a fallback configured, the primary and fallback each get their own
// circuit breaker through the chain.
func (a *App) buildSummarizer() (*summary.Summarizer, error) {
	sc := a.cfg.Summary

	primary, err := a.newLLMProvider(sc.Provider, sc.Model, sc.APIKey)
	if err != nil {
		return nil, fmt.Errorf("summary provider %q: %w", sc.Provider, err)
	}

	var provider llm.Provider = primary
	if sc.FallbackProvider != "" {
		// The configured key belongs to the primary; the fallback
		// authenticates through its conventional environment variable.
		fb, err := a.newLLMProvider(sc.FallbackProvider, sc.FallbackModel, "")
		if err != nil {
			return nil, fmt.Errorf("summary fallback %q: %w", sc.FallbackProvider, err)
		}
		chain := resilience.NewLLMChain(primary, sc.Provider+"/"+sc.Model, resilience.ChainConfig{Logger: a.log})
		chain.AddFallback(sc.FallbackProvider+"/"+sc.FallbackModel, fb)
		provider = chain
	}

	return summary.New(provider, summary.WithLogger(a.log))
}

// newLLMProvider maps a summary provider name onto an llm.Provider.
// "openai" uses the first-party client and shares the transcription key
// unless the summary section carries its own; everything else goes through
// the any-llm multiplexer.
func (a *App) newLLMProvider(name, model, apiKey string) (llm.Provider, error) {
	if name == "openai" {
		if apiKey == "" {
			apiKey = a.cfg.OpenAI.APIKey
		}
		return llmopenai.New(apiKey, model)
	}
	var opts []anyllmlib.Option
	if apiKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(apiKey))
	}
	return anyllm.New(name, model, opts...)
}

// buildCheckers assembles the readiness probes. Local-engine probes are
// only wired when local is the default mode, so an api-mode server does
// not report unready over an optional capability.
func (a *App) buildCheckers() []health.Checker {
	checkers := []health.Checker{
		health.TempDirWritable(a.cfg.Pipeline.TempDir),
		health.BinaryOnPath("downloader", video.DefaultBinary),
	}
	if a.cfg.Pipeline.Mode == config.ModeLocal {
		switch a.cfg.Local.Engine {
		case config.EngineNative:
			// The native engine proved the model loads during New; what
			// remains doubtful at request time is the PCM decoder.
			checkers = append(checkers, health.BinaryOnPath("decoder", whispernative.DefaultFFmpegBinary))
		default:
			checkers = append(checkers,
				health.BinaryOnPath("recognizer", a.cfg.Local.Binary),
				health.ModelFile(whispercli.ModelFile(a.cfg.Local.ModelDir, a.cfg.Local.Model)),
			)
		}
	}
	return checkers
}

// buildServer assembles the HTTP surface, including the optional MCP
// mount, and the net/http server around it.
func (a *App) buildServer() error {
	opts := []server.Option{
		server.WithHealth(a.health),
		server.WithMetrics(a.metrics),
		server.WithLogger(a.log),
	}
	if a.summarizer != nil {
		opts = append(opts, server.WithSummarizer(a.summarizer))
	}
	if a.cfg.MCP.Enabled {
		m, err := mcpserver.New(a.pipeline, a.resolver,
			mcpserver.WithDefaultMode(string(a.cfg.Pipeline.Mode)),
			mcpserver.WithLogger(a.log),
		)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithMCP(m.Handler()))
	}

	web, err := server.New(a.cfg, a.pipeline, a.resolver, opts...)
	if err != nil {
		return err
	}
	a.srv = &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           web.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx ends, then drains in-flight requests and
// returns. A nil return means the server stopped cleanly.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("listening",
		"addr", a.srv.Addr,
		"mode", a.cfg.Pipeline.Mode,
		"engine", a.cfg.Local.Engine,
		"mcp", a.cfg.MCP.Enabled,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := a.srv.Shutdown(dctx); err != nil {
			return fmt.Errorf("app: drain connections: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Transcribe runs one request through the pipeline and returns the
// finished result, bypassing the HTTP surface. Progress events are
// collected in memory and discarded.
func (a *App) Transcribe(ctx context.Context, rawURL, language string) (*pipeline.Result, error) {
	sink := &pipeline.MemorySink{}
	if err := a.pipeline.Run(ctx, pipeline.Request{URL: rawURL, Language: language}, sink); err != nil {
		return nil, err
	}
	last, ok := sink.Last()
	if !ok || last.Status != pipeline.StatusComplete || last.Data == nil {
		return nil, errors.New("app: pipeline finished without a result")
	}
	return last.Data, nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown runs the registered closers in reverse-init order, so the
// telemetry flush goes last. It respects the context deadline: once ctx
// ends, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}
