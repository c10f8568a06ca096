package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/tubescribe/tubescribe/pkg/provider/transcribe/whispercli"
)

// summaryProviderNames are the LLM backends the summarizer knows how to
// construct. Unknown names are not fatal; they are warned about so a typo
// shows up before the first summarize request fails.
var summaryProviderNames = []string{
	"openai",
	"anthropic",
	"gemini",
	"ollama",
	"deepseek",
	"mistral",
	"groq",
	"llamacpp",
	"llamafile",
}

// Load builds the effective configuration. The YAML file at path is
// layered over [Default], then environment overrides are applied and the
// result is validated. An empty path falls back to the TUBESCRIBE_CONFIG
// environment variable; if that is empty too, no file is read and the
// defaults plus environment are used.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TUBESCRIBE_CONFIG")
	}

	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	normalize(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over [Default] and validates the
// result. Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	normalize(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// decode parses YAML strictly: unknown keys are an error, so a typoed
// setting fails loudly instead of silently running on defaults.
func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse: %w", err)
	}
	return nil
}

// applyEnv overlays environment variables on cfg. The environment wins
// over the file so containerised deployments can override single values
// without editing YAML.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("TUBESCRIBE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: parse TUBESCRIBE_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("TUBESCRIBE_MODE"); v != "" {
		cfg.Pipeline.Mode = Mode(v)
	}
	if v := os.Getenv("TUBESCRIBE_MODEL"); v != "" {
		cfg.Local.Model = v
	}
	if v := os.Getenv("TUBESCRIBE_TEMP_DIR"); v != "" {
		cfg.Pipeline.TempDir = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("DEEPGRAM_API_KEY"); v != "" {
		cfg.Deepgram.APIKey = v
	}
	return nil
}

// normalize fills fields an explicit empty value would otherwise leave
// unusable.
func normalize(cfg *Config) {
	if cfg.Pipeline.TempDir == "" {
		cfg.Pipeline.TempDir = Default().Pipeline.TempDir
	}
	if cfg.Pipeline.CacheCapacity == 0 {
		cfg.Pipeline.CacheCapacity = Default().Pipeline.CacheCapacity
	}
}

// Validate checks cfg for values that cannot work. All problems are
// reported at once so a broken file is fixed in one edit.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level must be one of debug, info, warn, error, got %q", c.Server.LogLevel))
	}

	if !c.Pipeline.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.mode must be %q or %q, got %q", ModeLocal, ModeAPI, c.Pipeline.Mode))
	}
	if !c.Pipeline.Provider.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.provider must be %q or %q, got %q", ProviderOpenAI, ProviderDeepgram, c.Pipeline.Provider))
	}
	if c.Pipeline.MaxDurationSeconds < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_duration_seconds must not be negative, got %d", c.Pipeline.MaxDurationSeconds))
	}
	if c.Pipeline.StageTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("pipeline.stage_timeout_seconds must not be negative, got %d", c.Pipeline.StageTimeoutSeconds))
	}
	if c.Pipeline.CacheCapacity < 0 {
		errs = append(errs, fmt.Errorf("pipeline.cache_capacity must not be negative, got %d", c.Pipeline.CacheCapacity))
	}

	if !c.Local.Engine.IsValid() {
		errs = append(errs, fmt.Errorf("local.engine must be %q or %q, got %q", EngineCLI, EngineNative, c.Local.Engine))
	}
	if c.Local.Binary == "" {
		errs = append(errs, errors.New("local.binary must not be empty"))
	}
	if !whispercli.ValidModel(c.Local.Model) {
		errs = append(errs, fmt.Errorf("local.model must be one of %v, got %q", whispercli.ModelSizes, c.Local.Model))
	}

	if c.OpenAI.Model == "" {
		errs = append(errs, errors.New("openai.model must not be empty"))
	}

	errs = append(errs, c.Summary.validate()...)

	return errors.Join(errs...)
}

// validate checks the summarizer section. The section is optional; rules
// only kick in once a provider is named.
func (s *SummaryConfig) validate() []error {
	var errs []error

	if s.Provider == "" {
		if s.FallbackProvider != "" {
			errs = append(errs, errors.New("summary.fallback_provider requires summary.provider to be set"))
		}
		return errs
	}

	warnUnknownProvider("summary.provider", s.Provider)
	if s.Model == "" {
		errs = append(errs, errors.New("summary.model must be set when summary.provider is set"))
	}
	if s.FallbackProvider != "" {
		warnUnknownProvider("summary.fallback_provider", s.FallbackProvider)
		if s.FallbackModel == "" {
			errs = append(errs, errors.New("summary.fallback_model must be set when summary.fallback_provider is set"))
		}
	}
	return errs
}

func warnUnknownProvider(field, name string) {
	if !slices.Contains(summaryProviderNames, name) {
		slog.Warn("unrecognized summary provider, requests may fail",
			"field", field,
			"provider", name,
			"known", summaryProviderNames)
	}
}
