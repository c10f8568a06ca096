// Package pipeline orchestrates a single transcription request from URL to
// finished transcript.
//
// A request walks a fixed sequence of stages:
//
//	received → validating → resolving-video → checking-limits →
//	downloading-audio → transcribing → finalizing → {complete | error}
//
// Stages run strictly in order with no parallelism inside one request;
// concurrency exists only across requests, which share nothing but the
// bounded result cache. Progress is reported as typed events onto a [Sink],
// keeping the transport framing (SSE, WebSocket, in-memory) out of the
// orchestration logic.
//
// The downloaded audio file is removed on every exit path, including
// errors, cancellation, and panics. Cleanup failures are logged and never
// surfaced to the caller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tubescribe/tubescribe/internal/cache"
	"github.com/tubescribe/tubescribe/internal/video"
	"github.com/tubescribe/tubescribe/pkg/provider/transcribe"
)

// Modes and providers accepted on a Request. The sets are closed: the
// factory rejects anything else during validation.
const (
	ModeLocal = "local"
	ModeAPI   = "api"

	ProviderOpenAI   = "openai"
	ProviderDeepgram = "deepgram"
)

const (
	// defaultMaxDurationSeconds caps accepted video length at three hours.
	defaultMaxDurationSeconds = 10800

	// progressStep is the minimum advance, in percentage points, between
	// two download progress events.
	progressStep = 10.0
)

// Request describes one transcription job. It exists for the duration of
// the request and is never stored.
type Request struct {
	// URL is the video page URL as supplied by the caller.
	URL string

	// Language hints the spoken language (e.g., "en"). Empty or "auto"
	// requests detection by the backend.
	Language string

	// Mode selects "local" or "api" transcription. Empty uses the server
	// default.
	Mode string

	// Provider selects the api backend ("openai" or "deepgram"). Empty
	// defaults to openai. Ignored in local mode.
	Provider string

	// Credential is the caller-supplied API key. It takes precedence over
	// any server-configured key and is never logged.
	Credential string
}

// Result is the assembled payload of a complete event.
type Result struct {
	VideoID         string               `json:"videoId"`
	Title           string               `json:"title"`
	Channel         string               `json:"channel"`
	DurationSeconds int                  `json:"duration"`
	Text            string               `json:"text"`
	Language        string               `json:"language"`
	Segments        []transcribe.Segment `json:"segments"`
	Mode            string               `json:"mode"`
	Provider        string               `json:"provider"`
}

// VideoResolver resolves a URL into video metadata.
type VideoResolver interface {
	Resolve(ctx context.Context, rawURL string) (video.Info, error)
}

// AudioFetcher downloads a video's audio track into a scratch directory.
type AudioFetcher interface {
	// OutputPath returns where Fetch will place the audio for videoID. It
	// is known before the download starts so cleanup can be registered up
	// front.
	OutputPath(videoID string) string

	// Fetch downloads rawURL's audio and returns the produced file path.
	Fetch(ctx context.Context, rawURL, videoID string, progress video.ProgressFunc) (string, error)
}

// Corrector post-processes a finished transcript using the video's
// metadata as vocabulary.
type Corrector interface {
	Correct(ctx context.Context, res transcribe.Result, info video.Info) transcribe.Result
}

// Metrics receives pipeline instrumentation callbacks. Implementations
// must be safe for concurrent use; a nil Metrics disables instrumentation.
type Metrics interface {
	// JobStarted marks the beginning of a request.
	JobStarted()
	// JobFinished marks the end of a request with outcome "complete" or
	// "error".
	JobFinished(outcome string)
	// StageObserved records how long one stage of a request took.
	StageObserved(stage string, elapsed time.Duration)
	// CacheHit and CacheMiss count result-cache lookups.
	CacheHit()
	CacheMiss()
}

// Pipeline drives transcription requests. A single Pipeline serves many
// concurrent requests; per-request state lives on the stack of Run.
type Pipeline struct {
	resolver VideoResolver
	fetcher  AudioFetcher
	factory  BackendFactory

	cache        *cache.Cache[Result]
	corrector    Corrector
	metrics      Metrics
	log          *slog.Logger
	defaultMode  string
	maxDuration  int
	stageTimeout time.Duration
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithCache installs the bounded result cache consulted after resolution.
// Without it every request downloads and transcribes.
func WithCache(c *cache.Cache[Result]) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithCorrector installs a transcript corrector applied during finalizing.
func WithCorrector(c Corrector) Option {
	return func(p *Pipeline) { p.corrector = c }
}

// WithMetrics installs pipeline instrumentation.
func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithDefaultMode sets the mode used when a request does not specify one.
// Default is local.
func WithDefaultMode(mode string) Option {
	return func(p *Pipeline) {
		if mode != "" {
			p.defaultMode = mode
		}
	}
}

// WithMaxDuration sets the accepted video length ceiling in seconds.
// Exactly the ceiling is accepted; zero or negative disables the check.
// Default is 10800 (three hours).
func WithMaxDuration(seconds int) Option {
	return func(p *Pipeline) { p.maxDuration = seconds }
}

// WithStageTimeout bounds the download and transcription stages. Zero
// disables per-stage timeouts.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.stageTimeout = d }
}

// New constructs a Pipeline over the given resolver, fetcher, and backend
// factory. All three are required.
func New(resolver VideoResolver, fetcher AudioFetcher, factory BackendFactory, opts ...Option) (*Pipeline, error) {
	if resolver == nil {
		return nil, errors.New("pipeline: resolver must not be nil")
	}
	if fetcher == nil {
		return nil, errors.New("pipeline: fetcher must not be nil")
	}
	if factory == nil {
		return nil, errors.New("pipeline: factory must not be nil")
	}
	p := &Pipeline{
		resolver:    resolver,
		fetcher:     fetcher,
		factory:     factory,
		log:         slog.Default(),
		defaultMode: ModeLocal,
		maxDuration: defaultMaxDurationSeconds,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Run executes one transcription request, emitting progress onto sink.
// It returns nil after the terminal complete event, or the classified
// error after the terminal error event. When the sink's receiver goes away
// mid-stream the request is aborted without a terminal event.
func (p *Pipeline) Run(ctx context.Context, req Request, sink Sink) error {
	req = p.normalize(req)
	log := p.log.With("mode", req.Mode, "provider", req.Provider)

	if p.metrics != nil {
		p.metrics.JobStarted()
	}
	outcome := "error"
	defer func() {
		if p.metrics != nil {
			p.metrics.JobFinished(outcome)
		}
	}()

	res, err := p.run(ctx, req, sink, log)
	if err != nil {
		log.Warn("transcription request failed", "err", err)
		// Best effort: the receiver may already be gone.
		_ = sink.Send(ctx, errorEvent(err))
		return err
	}
	if err := sink.Send(ctx, completeEvent(res)); err != nil {
		return fmt.Errorf("pipeline: send complete event: %w", err)
	}
	outcome = "complete"
	return nil
}

// run walks the stages for one request and returns the assembled result.
// Errors come back classified; Run turns them into the terminal event.
func (p *Pipeline) run(ctx context.Context, req Request, sink Sink, log *slog.Logger) (*Result, error) {
	// ── validating ────────────────────────────────────────────────────────

	if strings.TrimSpace(req.URL) == "" {
		return nil, classify(ErrValidation, "missing video URL", nil)
	}
	if _, err := video.ExtractVideoID(req.URL); err != nil {
		return nil, classify(ErrValidation, "not a recognized YouTube URL", nil)
	}
	backend, err := p.factory.Backend(req)
	if err != nil {
		return nil, err
	}

	// ── resolving-video ───────────────────────────────────────────────────

	if err := emit(ctx, sink, infoEvent("Fetching video information")); err != nil {
		return nil, err
	}
	stageStart := time.Now()
	info, err := p.resolver.Resolve(ctx, req.URL)
	p.observeStage("resolving-video", stageStart)
	if err != nil {
		return nil, classify(ErrResolution, "could not resolve video", err)
	}
	log = log.With("video_id", info.ID)
	log.Info("video resolved", "title", info.Title, "duration_s", info.DurationSeconds, "live", info.IsLive)

	if p.cache != nil {
		if cached, ok := p.cache.Get(info.ID); ok {
			if p.metrics != nil {
				p.metrics.CacheHit()
			}
			log.Info("returning cached transcript")
			if err := emit(ctx, sink, infoEvent("Using cached transcript")); err != nil {
				return nil, err
			}
			return &cached, nil
		}
		if p.metrics != nil {
			p.metrics.CacheMiss()
		}
	}

	// ── checking-limits ───────────────────────────────────────────────────

	if info.IsLive {
		return nil, classify(ErrLimitExceeded, "live streams cannot be transcribed", nil)
	}
	if p.maxDuration > 0 && info.DurationSeconds > p.maxDuration {
		return nil, classify(ErrLimitExceeded, fmt.Sprintf("video is %s long, the limit is %s",
			formatDuration(info.DurationSeconds), formatDuration(p.maxDuration)), nil)
	}

	// ── downloading-audio ─────────────────────────────────────────────────

	if err := emit(ctx, sink, infoEvent("Downloading audio")); err != nil {
		return nil, err
	}
	// Register cleanup before the downloader runs so a failed or cancelled
	// download still leaves nothing behind.
	audioTarget := p.fetcher.OutputPath(info.ID)
	defer p.removeAudio(audioTarget, log)

	stageStart = time.Now()
	dctx, cancelDownload := p.stageContext(ctx)
	audioPath, err := p.fetcher.Fetch(dctx, req.URL, info.ID, p.progressFunc(ctx, sink))
	cancelDownload()
	p.observeStage("downloading-audio", stageStart)
	if err != nil {
		if errors.Is(err, video.ErrToolMissing) {
			return nil, classify(ErrFetch, "audio downloader is not installed", err)
		}
		return nil, classify(ErrFetch, "audio download failed", err)
	}

	// ── transcribing ──────────────────────────────────────────────────────

	if err := emit(ctx, sink, infoEvent("Transcribing audio with "+backend.Name())); err != nil {
		return nil, err
	}
	stageStart = time.Now()
	tctx, cancelTranscribe := p.stageContext(ctx)
	tres, err := backend.Transcribe(tctx, audioPath, transcribe.Options{Language: req.Language})
	cancelTranscribe()
	p.observeStage("transcribing", stageStart)
	if err != nil {
		return nil, transcriptionError(err)
	}

	// ── finalizing ────────────────────────────────────────────────────────

	if p.corrector != nil {
		tres = p.corrector.Correct(ctx, tres, info)
	}
	res := &Result{
		VideoID:         info.ID,
		Title:           info.Title,
		Channel:         info.Channel,
		DurationSeconds: info.DurationSeconds,
		Text:            tres.Text,
		Language:        tres.Language,
		Segments:        tres.Segments,
		Mode:            req.Mode,
		Provider:        backend.Name(),
	}
	if p.cache != nil {
		p.cache.Put(info.ID, *res)
	}
	log.Info("transcription complete", "language", res.Language, "segments", len(res.Segments))
	return res, nil
}

// normalize fills request defaults: auto language, server-default mode,
// openai provider. Mode and provider are matched case-insensitively.
func (p *Pipeline) normalize(req Request) Request {
	if req.Language == "" {
		req.Language = transcribe.LanguageAuto
	}
	req.Mode = strings.ToLower(strings.TrimSpace(req.Mode))
	if req.Mode == "" {
		req.Mode = p.defaultMode
	}
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	if req.Provider == "" {
		req.Provider = ProviderOpenAI
	}
	return req
}

// stageContext derives the context for a download or transcription stage,
// applying the configured per-stage timeout when one is set.
func (p *Pipeline) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.stageTimeout > 0 {
		return context.WithTimeout(ctx, p.stageTimeout)
	}
	return context.WithCancel(ctx)
}

// progressFunc builds the download progress callback, forwarding progress
// as info events throttled to steps of at least progressStep points. Send
// failures are ignored here; a gone receiver surfaces at the next stage
// boundary.
func (p *Pipeline) progressFunc(ctx context.Context, sink Sink) video.ProgressFunc {
	var last float64
	return func(percent float64) {
		if percent-last < progressStep {
			return
		}
		last = percent
		_ = sink.Send(ctx, infoEvent(fmt.Sprintf("Downloading audio: %.0f%%", percent)))
	}
}

// removeAudio deletes the downloaded audio file and its doubled-extension
// variant. Failures other than absence are logged, never surfaced.
func (p *Pipeline) removeAudio(path string, log *slog.Logger) {
	for _, candidate := range []string{path, path + ".mp3"} {
		if err := os.Remove(candidate); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("temp audio cleanup failed", "path", candidate, "err", err)
		}
	}
}

// observeStage records a stage duration when metrics are installed.
func (p *Pipeline) observeStage(stage string, start time.Time) {
	if p.metrics != nil {
		p.metrics.StageObserved(stage, time.Since(start))
	}
}

// emit sends ev and wraps a failure so callers can abort the request.
func emit(ctx context.Context, sink Sink, ev Event) error {
	if err := sink.Send(ctx, ev); err != nil {
		return fmt.Errorf("pipeline: emit event: %w", err)
	}
	return nil
}

// formatDuration renders whole seconds as "1h2m3s" for limit messages.
func formatDuration(seconds int) string {
	return (time.Duration(seconds) * time.Second).String()
}
