// Package whispercli provides a transcription backend that shells out to a
// local whisper.cpp command-line recognizer.
//
// The recognizer is invoked once per audio file with JSON output enabled
// (-oj). whisper.cpp writes its result to <output-base>.json plus, depending
// on build flags, sibling subtitle files with the same base name; all of
// these are recognizer byproducts, not request outputs, and are removed
// after the JSON has been read.
//
// Usage:
//
//	p, err := whispercli.New("base",
//	    whispercli.WithModelDir("/opt/whisper/models"),
//	    whispercli.WithScratchDir("/tmp/tubescribe"),
//	)
//	res, err := p.Transcribe(ctx, "/tmp/tubescribe/dQw4w9WgXcQ.mp3", transcribe.Options{})
package whispercli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/tubescribe/tubescribe/pkg/provider/transcribe"
)

const (
	// DefaultBinary is the recognizer executable searched for on PATH when no
	// explicit binary is configured.
	DefaultBinary = "whisper-cli"

	// DefaultModelDir is the directory searched for ggml model files when no
	// explicit directory is configured.
	DefaultModelDir = "models"
)

// ModelSizes is the fixed set of recognized model-size names, ordered from
// fastest to most accurate. Model files are expected on disk as
// ggml-<size>.bin.
var ModelSizes = []string{"tiny", "base", "small", "medium", "large-v3", "large-v3-turbo"}

// byproductExts lists the extensions of recognizer output files that share
// the audio's base name and must be removed after reading.
var byproductExts = []string{".json", ".srt", ".vtt", ".txt", ".lrc", ".csv"}

// ValidModel reports whether size is one of the recognized model sizes.
func ValidModel(size string) bool {
	return slices.Contains(ModelSizes, size)
}

// ModelFile returns the conventional on-disk path of the ggml model file
// for size inside dir. An empty dir means [DefaultModelDir]. The same
// naming rule is used by the CLI and native engines.
func ModelFile(dir, size string) string {
	if dir == "" {
		dir = DefaultModelDir
	}
	return filepath.Join(dir, "ggml-"+size+".bin")
}

// Compile-time assertion that Provider implements transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBinary overrides the recognizer executable name or path.
// Defaults to [DefaultBinary], resolved via PATH.
func WithBinary(binary string) Option {
	return func(p *Provider) {
		p.binary = binary
	}
}

// WithModelDir sets the directory containing ggml-<size>.bin model files.
// Defaults to [DefaultModelDir].
func WithModelDir(dir string) Option {
	return func(p *Provider) {
		p.modelDir = dir
	}
}

// WithScratchDir sets the directory the recognizer writes its output files
// into. Defaults to the system temp directory.
func WithScratchDir(dir string) Option {
	return func(p *Provider) {
		p.scratchDir = dir
	}
}

// WithThreads sets the recognizer's worker thread count (-t). Zero leaves
// the recognizer's own default in place.
func WithThreads(n int) Option {
	return func(p *Provider) {
		p.threads = n
	}
}

// Provider implements transcribe.Provider by spawning a whisper.cpp CLI
// process per request. Safe for concurrent use; concurrent requests must use
// distinct audio files, which the pipeline guarantees by naming temp files
// after the video identifier.
type Provider struct {
	model      string
	binary     string
	modelDir   string
	scratchDir string
	threads    int
}

// New creates a Provider for the given model size. The size must be one of
// [ModelSizes]. Functional options may be provided to override defaults.
func New(model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("whispercli: model must not be empty")
	}
	if !ValidModel(model) {
		return nil, fmt.Errorf("whispercli: unknown model size %q; valid sizes: %s", model, strings.Join(ModelSizes, ", "))
	}
	p := &Provider{
		model:      model,
		binary:     DefaultBinary,
		modelDir:   DefaultModelDir,
		scratchDir: os.TempDir(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name returns the backend identifier "whisper-cli".
func (p *Provider) Name() string {
	return "whisper-cli"
}

// ModelPath returns the on-disk path of the configured ggml model file.
func (p *Provider) ModelPath() string {
	return ModelFile(p.modelDir, p.model)
}

// Transcribe runs the recognizer over audioPath and reads back its JSON
// output file. The output file's name is derived from the audio's base
// filename; it and any sibling subtitle files are deleted after reading.
func (p *Provider) Transcribe(ctx context.Context, audioPath string, opts transcribe.Options) (transcribe.Result, error) {
	bin, err := exec.LookPath(p.binary)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("whispercli: recognizer %q not found in PATH: %w", p.binary, err)
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	outBase := filepath.Join(p.scratchDir, base)

	args := []string{
		"-m", p.ModelPath(),
		"-f", audioPath,
		"-oj",
		"-of", outBase,
	}
	if !opts.AutoDetect() {
		args = append(args, "-l", opts.Language)
	}
	if p.threads > 0 {
		args = append(args, "-t", strconv.Itoa(p.threads))
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return transcribe.Result{}, fmt.Errorf("whispercli: recognizer cancelled: %w", ctx.Err())
		}
		return transcribe.Result{}, fmt.Errorf("whispercli: recognizer failed: %w: %s", err, tail(out, 500))
	}

	// Whatever happens from here on, the recognizer's output files are
	// byproducts and must not outlive this call.
	defer p.removeByproducts(outBase)

	jsonPath := outBase + ".json"
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("whispercli: recognizer exited cleanly but output file %q is missing: %w", jsonPath, err)
	}

	res, err := parseOutput(data)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("whispercli: parse %q: %w", jsonPath, err)
	}
	return res, nil
}

// cliOutput mirrors the whisper.cpp -oj JSON file shape. Offsets are
// milliseconds from the start of the audio.
type cliOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseOutput converts the recognizer's JSON file into a normalized Result.
func parseOutput(data []byte) (transcribe.Result, error) {
	var out cliOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return transcribe.Result{}, fmt.Errorf("decode recognizer output: %w", err)
	}

	segments := make([]transcribe.Segment, 0, len(out.Transcription))
	for _, t := range out.Transcription {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		segments = append(segments, transcribe.Segment{
			Start: float64(t.Offsets.From) / 1000.0,
			End:   float64(t.Offsets.To) / 1000.0,
			Text:  text,
		})
	}

	lang := out.Result.Language
	if lang == "" {
		lang = transcribe.LanguageUnknown
	}

	return transcribe.Result{
		Text:     transcribe.JoinSegments(segments),
		Language: lang,
		Segments: segments,
	}, nil
}

// removeByproducts deletes the recognizer's output files sharing outBase.
// Failures are logged, never surfaced: a leftover byproduct must not fail a
// transcription that already succeeded.
func (p *Provider) removeByproducts(outBase string) {
	for _, ext := range byproductExts {
		path := outBase + ext
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("whispercli: failed to remove recognizer byproduct", "path", path, "err", err)
		}
	}
}

// tail returns the last n bytes of b as a trimmed string, for embedding
// subprocess output in error messages without flooding them.
func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
