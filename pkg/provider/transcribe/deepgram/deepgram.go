// Package deepgram provides a transcription backend for the Deepgram
// prerecorded speech API.
//
// The audio file is sent as raw bytes (no multipart wrapper) to the listen
// endpoint. Two models are in play: a fast general model used for languages
// on its supported list (and for auto-detection), and a slower
// general-purpose model for everything else.
//
// Deepgram's prerecorded response carries word-level timestamps only, so
// this backend synthesizes fixed-width five-second segments: words are
// scanned in timestamp order and accumulated into the current segment while
// their start time is before the segment's end boundary; a word starting at
// or past the boundary opens a new segment aligned to the nearest
// five-second mark. Buckets that would contain no words are never emitted.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tubescribe/tubescribe/pkg/provider/transcribe"
)

const (
	// DefaultEndpoint is the Deepgram prerecorded transcription endpoint.
	DefaultEndpoint = "https://api.deepgram.com/v1/listen"

	// FastModel is the cheap low-latency model used when the requested
	// language is on its supported list, or when auto-detecting.
	FastModel = "nova-2"

	// GeneralModel is the slower model used for languages outside the fast
	// model's list.
	GeneralModel = "whisper-large"

	// segmentWindow is the fixed width, in seconds, of synthesized segments.
	segmentWindow = 5.0
)

// fastModelLanguages is the fixed set of language codes the fast model
// supports. Requests for any other code are routed to [GeneralModel].
var fastModelLanguages = map[string]bool{
	"bg": true, "ca": true, "cs": true, "da": true, "de": true,
	"el": true, "en": true, "es": true, "et": true, "fi": true,
	"fr": true, "hi": true, "hu": true, "id": true, "it": true,
	"ja": true, "ko": true, "lt": true, "lv": true, "ms": true,
	"nl": true, "no": true, "pl": true, "pt": true, "ro": true,
	"ru": true, "sk": true, "sv": true, "th": true, "tr": true,
	"uk": true, "vi": true, "zh": true,
}

// Compile-time assertion that Provider implements transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithEndpoint overrides the listen endpoint URL. Useful for tests.
func WithEndpoint(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.endpoint = u
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

// Provider implements transcribe.Provider against the Deepgram prerecorded
// API. Safe for concurrent use.
type Provider struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// New creates a Provider authenticating with apiKey. apiKey must not be
// empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: 15 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name returns the backend identifier "deepgram".
func (p *Provider) Name() string {
	return "deepgram"
}

// ModelForLanguage returns the remote model used for the given language
// hint: the fast model for codes on its supported list and for
// auto-detection, the general model otherwise. Region subtags are ignored
// for the membership check ("en-GB" matches "en").
func ModelForLanguage(lang string) string {
	if lang == "" || lang == transcribe.LanguageAuto {
		return FastModel
	}
	code := strings.ToLower(lang)
	if fastModelLanguages[code] {
		return FastModel
	}
	if base, _, ok := strings.Cut(code, "-"); ok && fastModelLanguages[base] {
		return FastModel
	}
	return GeneralModel
}

// Transcribe uploads the raw audio bytes and synthesizes segments from the
// word-level timing in the response.
func (p *Provider) Transcribe(ctx context.Context, audioPath string, opts transcribe.Options) (transcribe.Result, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("deepgram: read audio file: %w", err)
	}

	reqURL, err := p.buildURL(opts)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("deepgram: build request URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("deepgram: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/mpeg")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("deepgram: upload audio: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("deepgram: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return transcribe.Result{}, fmt.Errorf("deepgram: transcription request failed: %s", remoteError(resp.StatusCode, raw))
	}

	return parseResponse(raw, opts)
}

// buildURL constructs the listen endpoint URL with the model and feature
// flags for this request. Smart formatting is always on and diarization
// always off; the language parameter is elided for auto-detection.
func (p *Provider) buildURL(opts transcribe.Options) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", ModelForLanguage(opts.Language))
	q.Set("smart_format", "true")
	q.Set("diarize", "false")
	if opts.AutoDetect() {
		q.Set("detect_language", "true")
	} else {
		q.Set("language", opts.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// prerecordedResponse is the JSON structure returned by Deepgram for a
// prerecorded transcription.
type prerecordedResponse struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string `json:"transcript"`
				Words      []struct {
					Word           string  `json:"word"`
					Start          float64 `json:"start"`
					End            float64 `json:"end"`
					PunctuatedWord string  `json:"punctuated_word"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// deepgramError is the JSON error envelope returned on failures.
type deepgramError struct {
	ErrCode string `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

// word is one timed word extracted from the response.
type word struct {
	text  string
	start float64
}

// parseResponse normalizes a prerecorded reply into a Result.
func parseResponse(raw []byte, opts transcribe.Options) (transcribe.Result, error) {
	var pr prerecordedResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return transcribe.Result{}, fmt.Errorf("deepgram: decode response: %w", err)
	}
	if len(pr.Results.Channels) == 0 || len(pr.Results.Channels[0].Alternatives) == 0 {
		return transcribe.Result{}, errors.New("deepgram: response contains no transcription channel")
	}

	ch := pr.Results.Channels[0]
	alt := ch.Alternatives[0]

	words := make([]word, 0, len(alt.Words))
	for _, w := range alt.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		words = append(words, word{text: text, start: w.Start})
	}

	segments := synthesizeSegments(words)
	if len(segments) == 0 && alt.Transcript != "" {
		// Degenerate response without word timing: one segment spanning the
		// whole transcript, timestamps zeroed.
		segments = []transcribe.Segment{{Start: 0, End: 0, Text: alt.Transcript}}
	}

	lang := ch.DetectedLanguage
	if lang == "" && !opts.AutoDetect() {
		lang = opts.Language
	}
	if lang == "" {
		lang = transcribe.LanguageUnknown
	}

	return transcribe.Result{
		Text:     alt.Transcript,
		Language: lang,
		Segments: segments,
	}, nil
}

// synthesizeSegments buckets words into fixed five-second segments. A word
// whose start time reaches or exceeds the current segment's end boundary
// closes it and opens a new segment aligned down to the nearest boundary,
// so sparse audio never produces empty buckets.
func synthesizeSegments(words []word) []transcribe.Segment {
	var (
		segments []transcribe.Segment
		texts    []string
		curStart float64
		curEnd   float64
	)

	flush := func() {
		if len(texts) == 0 {
			return
		}
		segments = append(segments, transcribe.Segment{
			Start: curStart,
			End:   curEnd,
			Text:  strings.Join(texts, " "),
		})
		texts = nil
	}

	for i, w := range words {
		if i == 0 || w.start >= curEnd {
			flush()
			curStart = math.Floor(w.start/segmentWindow) * segmentWindow
			curEnd = curStart + segmentWindow
		}
		texts = append(texts, w.text)
	}
	flush()

	return segments
}

// remoteError extracts Deepgram's error message from a non-2xx response
// body, falling back to the HTTP status and a body excerpt.
func remoteError(status int, raw []byte) string {
	var de deepgramError
	if err := json.Unmarshal(raw, &de); err == nil && de.ErrMsg != "" {
		return de.ErrMsg
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
