// Package openai provides a transcription backend for OpenAI-compatible
// speech-to-text HTTP APIs.
//
// The audio file is uploaded as multipart form data to the transcriptions
// endpoint with the verbose response format, so the reply already carries
// timed segments. Temperature is pinned to 0 for deterministic decoding.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tubescribe/tubescribe/pkg/provider/transcribe"
)

const (
	// DefaultEndpoint is the OpenAI audio transcriptions endpoint.
	DefaultEndpoint = "https://api.openai.com/v1/audio/transcriptions"

	// DefaultModel is the transcription model requested when none is
	// configured.
	DefaultModel = "whisper-1"
)

// Compile-time assertion that Provider implements transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithEndpoint overrides the transcriptions endpoint URL. Useful for
// OpenAI-compatible servers and for tests.
func WithEndpoint(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.endpoint = url
		}
	}
}

// WithModel overrides the transcription model. Defaults to [DefaultModel].
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithHTTPClient replaces the HTTP client used for uploads.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements transcribe.Provider against an OpenAI-compatible
// transcriptions API. Safe for concurrent use.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	httpClient *http.Client
}

// New creates a Provider authenticating with apiKey. apiKey must not be
// empty; the endpoint and model default to the OpenAI hosted API.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		model:    DefaultModel,
		// Uploads of long audio take a while; the request context governs
		// cancellation, this is only a hard upper bound.
		httpClient: &http.Client{Timeout: 15 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name returns the backend identifier "openai".
func (p *Provider) Name() string {
	return "openai"
}

// Transcribe uploads the audio file and normalizes the verbose response.
func (p *Provider) Transcribe(ctx context.Context, audioPath string, opts transcribe.Options) (transcribe.Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("openai: open audio file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("openai: create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return transcribe.Result{}, fmt.Errorf("openai: read audio file: %w", err)
	}

	fields := map[string]string{
		"model":           p.model,
		"response_format": "verbose_json",
		"temperature":     "0",
	}
	if !opts.AutoDetect() {
		fields["language"] = opts.Language
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return transcribe.Result{}, fmt.Errorf("openai: write form field %q: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return transcribe.Result{}, fmt.Errorf("openai: finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("openai: upload audio: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("openai: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return transcribe.Result{}, fmt.Errorf("openai: transcription request failed: %s", remoteError(resp.StatusCode, raw))
	}

	return parseVerboseResponse(raw)
}

// verboseResponse mirrors the verbose_json transcription reply.
type verboseResponse struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// errorResponse mirrors the API's JSON error envelope.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// parseVerboseResponse normalizes a verbose_json reply into a Result.
func parseVerboseResponse(raw []byte) (transcribe.Result, error) {
	var vr verboseResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		return transcribe.Result{}, fmt.Errorf("openai: decode response: %w", err)
	}

	segments := make([]transcribe.Segment, 0, len(vr.Segments))
	for _, s := range vr.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segments = append(segments, transcribe.Segment{Start: s.Start, End: s.End, Text: text})
	}

	lang := vr.Language
	if lang == "" {
		lang = transcribe.LanguageUnknown
	}

	text := strings.TrimSpace(vr.Text)
	if text == "" {
		text = transcribe.JoinSegments(segments)
	}

	return transcribe.Result{
		Text:     text,
		Language: lang,
		Segments: segments,
	}, nil
}

// remoteError extracts the API's error message from a non-2xx response
// body, falling back to the HTTP status and a body excerpt.
func remoteError(status int, raw []byte) string {
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	excerpt := strings.TrimSpace(string(raw))
	if len(excerpt) > 200 {
		excerpt = excerpt[:200] + "..."
	}
	if excerpt == "" {
		return fmt.Sprintf("HTTP %d", status)
	}
	return fmt.Sprintf("HTTP %d: %s", status, excerpt)
}
