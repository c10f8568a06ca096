// Package config provides the configuration schema and loader for the
// tubescribe server.
//
// Configuration comes from an optional YAML file layered over built-in
// defaults, with a small set of environment overrides on top. The
// environment alone is enough to run the server; the file exists for
// deployments that want everything in one place.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// LogLevel controls log verbosity for the tubescribe server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l names one of the four supported levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto the slog level scale. Unrecognised values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Mode selects where transcription runs.
type Mode string

const (
	// ModeLocal transcribes on this machine with a whisper.cpp engine.
	ModeLocal Mode = "local"

	// ModeAPI transcribes through a cloud speech-to-text provider.
	ModeAPI Mode = "api"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeLocal || m == ModeAPI
}

// Provider selects the cloud transcription backend used in api mode.
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderDeepgram Provider = "deepgram"
)

// IsValid reports whether p is a recognised provider.
func (p Provider) IsValid() bool {
	return p == ProviderOpenAI || p == ProviderDeepgram
}

// Engine selects the local whisper.cpp integration.
type Engine string

const (
	// EngineCLI shells out to the whisper-cli binary per request.
	EngineCLI Engine = "cli"

	// EngineNative loads the model in-process through the whisper.cpp
	// bindings.
	EngineNative Engine = "native"
)

// IsValid reports whether e is a recognised engine.
func (e Engine) IsValid() bool {
	return e == EngineCLI || e == EngineNative
}

// Config is the root configuration structure for tubescribe.
// It is typically produced by [Load]; [Default] supplies every value a
// fresh install needs.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Local     LocalConfig     `yaml:"local"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Deepgram  DeepgramConfig  `yaml:"deepgram"`
	Summary   SummaryConfig   `yaml:"summary"`
	MCP       MCPConfig       `yaml:"mcp"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// Port is the TCP port the HTTP server listens on.
	Port int `yaml:"port"`

	// LogLevel selects the slog verbosity floor.
	LogLevel LogLevel `yaml:"log_level"`
}

// PipelineConfig tunes the transcription pipeline.
type PipelineConfig struct {
	// Mode is the default transcription mode when a request names none.
	Mode Mode `yaml:"mode"`

	// Provider is the default cloud provider for api mode.
	Provider Provider `yaml:"provider"`

	// MaxDurationSeconds rejects videos longer than this. Zero disables
	// the ceiling.
	MaxDurationSeconds int `yaml:"max_duration_seconds"`

	// TempDir is where downloaded audio lands before transcription.
	// Empty means a tubescribe directory under the OS temp dir.
	TempDir string `yaml:"temp_dir"`

	// StageTimeoutSeconds bounds the download and transcription stages
	// individually. Zero disables the per-stage timeout.
	StageTimeoutSeconds int `yaml:"stage_timeout_seconds"`

	// CacheCapacity is the number of finished transcripts kept in memory.
	// Zero means the built-in default.
	CacheCapacity int `yaml:"cache_capacity"`

	// Correction enables the phonetic vocabulary corrector.
	Correction bool `yaml:"correction"`
}

// LocalConfig configures local whisper.cpp transcription.
type LocalConfig struct {
	// Engine selects cli or native integration.
	Engine Engine `yaml:"engine"`

	// Binary is the whisper-cli executable name or path (cli engine).
	Binary string `yaml:"binary"`

	// Model is the whisper model size, e.g. "base" or "large-v3-turbo".
	Model string `yaml:"model"`

	// ModelDir is where ggml model files live. Empty means the engine's
	// default lookup.
	ModelDir string `yaml:"model_dir"`
}

// OpenAIConfig configures the OpenAI transcription backend.
type OpenAIConfig struct {
	// APIKey is the server-side key used when a request carries none.
	APIKey string `yaml:"api_key"`

	// Endpoint overrides the default API base URL. Useful for
	// OpenAI-compatible servers.
	Endpoint string `yaml:"endpoint"`

	// Model is the transcription model, e.g. "whisper-1".
	Model string `yaml:"model"`
}

// DeepgramConfig configures the Deepgram transcription backend.
type DeepgramConfig struct {
	// APIKey is the server-side key used when a request carries none.
	APIKey string `yaml:"api_key"`

	// Endpoint overrides the default API base URL.
	Endpoint string `yaml:"endpoint"`
}

// SummaryConfig configures the optional transcript summarizer. An empty
// Provider leaves summarization off.
type SummaryConfig struct {
	// Provider is the LLM backend name, e.g. "openai" or "ollama".
	Provider string `yaml:"provider"`

	// Model is the model identifier for Provider.
	Model string `yaml:"model"`

	// APIKey authenticates against Provider when it needs one.
	APIKey string `yaml:"api_key"`

	// FallbackProvider, when set, is tried after Provider fails.
	FallbackProvider string `yaml:"fallback_provider"`

	// FallbackModel is the model identifier for FallbackProvider.
	FallbackModel string `yaml:"fallback_model"`
}

// MCPConfig controls the Model Context Protocol surface.
type MCPConfig struct {
	// Enabled mounts the /mcp streamable-HTTP endpoint.
	Enabled bool `yaml:"enabled"`
}

// TelemetryConfig controls metrics exposition.
type TelemetryConfig struct {
	// Metrics mounts the Prometheus /metrics endpoint.
	Metrics bool `yaml:"metrics"`
}

// Default returns the configuration a fresh install runs with.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8787,
			LogLevel: LogInfo,
		},
		Pipeline: PipelineConfig{
			Mode:               ModeLocal,
			Provider:           ProviderOpenAI,
			MaxDurationSeconds: 10800,
			TempDir:            filepath.Join(os.TempDir(), "tubescribe"),
			CacheCapacity:      50,
		},
		Local: LocalConfig{
			Engine: EngineCLI,
			Binary: "whisper-cli",
			Model:  "base",
		},
		OpenAI: OpenAIConfig{
			Model: "whisper-1",
		},
		Telemetry: TelemetryConfig{
			Metrics: true,
		},
	}
}

// Addr returns the listen address derived from the configured port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// SummaryEnabled reports whether a summarizer is configured.
func (c *Config) SummaryEnabled() bool {
	return c.Summary.Provider != ""
}
