// Package whispernative runs whisper.cpp inference in-process through its
// CGO bindings, so no recognizer subprocess is spawned per request. Building
// the package needs the whisper.cpp static library and headers on the
// compiler search paths (LIBRARY_PATH, C_INCLUDE_PATH).
//
// A Provider loads its ggml model once and reuses it for every request;
// each Transcribe call gets a fresh inference context. Input audio of any
// container format is first decoded to 16 kHz mono PCM via ffmpeg.
package whispernative

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/tubescribe/tubescribe/pkg/provider/transcribe"
)

const (
	// DefaultFFmpegBinary is the decoder executable looked up on PATH.
	DefaultFFmpegBinary = "ffmpeg"

	// decodeSampleRate is the PCM sample rate whisper.cpp expects.
	decodeSampleRate = 16000
)

// Compile-time assertion that Provider implements transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithFFmpegBinary overrides the decoder executable name or path.
func WithFFmpegBinary(bin string) Option {
	return func(p *Provider) {
		if bin != "" {
			p.ffmpeg = bin
		}
	}
}

// Provider implements transcribe.Provider on top of an in-process
// whisper.cpp model. The shared model is safe for concurrent use; each
// inference runs on a fresh context.
type Provider struct {
	model     whisperlib.Model
	modelPath string
	ffmpeg    string
}

// New loads the ggml model at modelPath into memory. Close frees it again;
// until then the Provider may serve any number of concurrent requests.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whispernative: model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispernative: load ggml model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:     model,
		modelPath: modelPath,
		ffmpeg:    DefaultFFmpegBinary,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name returns the backend identifier "whisper-native".
func (p *Provider) Name() string {
	return "whisper-native"
}

// ModelPath returns the path the model was loaded from.
func (p *Provider) ModelPath() string {
	return p.modelPath
}

// Close frees the loaded model. The provider must not be used afterwards.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe decodes the audio file to PCM, runs whisper.cpp inference on a
// fresh context, and collects the timed segments.
func (p *Provider) Transcribe(ctx context.Context, audioPath string, opts transcribe.Options) (transcribe.Result, error) {
	samples, err := p.decode(ctx, audioPath)
	if err != nil {
		return transcribe.Result{}, err
	}
	if len(samples) == 0 {
		return transcribe.Result{}, fmt.Errorf("whispernative: %q decoded to zero samples", audioPath)
	}

	// Contexts cannot be shared between requests; only the model can.
	wctx, err := p.model.NewContext()
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("whispernative: allocate inference context: %w", err)
	}

	lang := opts.Language
	if opts.AutoDetect() {
		lang = transcribe.LanguageAuto
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whispernative: language not applied, model default in effect", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return transcribe.Result{}, fmt.Errorf("whispernative: run inference: %w", err)
	}

	var segments []transcribe.Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return transcribe.Result{}, fmt.Errorf("whispernative: collect segments: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segments = append(segments, transcribe.Segment{
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  text,
		})
	}

	result := transcribe.Result{
		Text:     transcribe.JoinSegments(segments),
		Language: opts.Language,
		Segments: segments,
	}
	if opts.AutoDetect() {
		result.Language = wctx.DetectedLanguage()
	}
	if result.Language == "" {
		result.Language = transcribe.LanguageUnknown
	}
	return result, nil
}

// decode shells out to ffmpeg to convert the audio file into 16 kHz mono
// 16-bit little-endian PCM on stdout.
func (p *Provider) decode(ctx context.Context, audioPath string) ([]float32, error) {
	bin, err := exec.LookPath(p.ffmpeg)
	if err != nil {
		return nil, fmt.Errorf("whispernative: decoder binary %q not found: %w", p.ffmpeg, err)
	}

	args := []string{
		"-i", audioPath,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprint(decodeSampleRate),
		"-ac", "1",
		"-loglevel", "error",
		"-",
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("whispernative: decode audio: %w", ctxErr)
		}
		return nil, fmt.Errorf("whispernative: decode audio: %w: %s", err, tail(stderr.String(), 500))
	}

	return samplesFromPCM(stdout.Bytes()), nil
}

// tail returns at most the last n bytes of s, trimmed of surrounding
// whitespace.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
