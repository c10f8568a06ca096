package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tubescribe/tubescribe/internal/cache"
	"github.com/tubescribe/tubescribe/internal/pipeline"
	"github.com/tubescribe/tubescribe/internal/video"
	"github.com/tubescribe/tubescribe/pkg/provider/transcribe"
	tmock "github.com/tubescribe/tubescribe/pkg/provider/transcribe/mock"
)

const watchURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func sampleInfo() video.Info {
	return video.Info{
		ID:              "dQw4w9WgXcQ",
		Title:           "Never Gonna Give You Up",
		Channel:         "Rick Astley",
		DurationSeconds: 212,
	}
}

// ---- stubs ----

type stubResolver struct {
	info  video.Info
	err   error
	calls int
}

func (r *stubResolver) Resolve(_ context.Context, _ string) (video.Info, error) {
	r.calls++
	return r.info, r.err
}

// stubFetcher writes a real file into dir so cleanup behaviour is
// observable on the filesystem.
type stubFetcher struct {
	t        *testing.T
	dir      string
	ext      string // produced file extension, default ".mp3"
	err      error
	progress []float64
	calls    int
	lastID   string
}

func (f *stubFetcher) OutputPath(videoID string) string {
	return filepath.Join(f.dir, videoID+".mp3")
}

func (f *stubFetcher) Fetch(_ context.Context, _, videoID string, progress video.ProgressFunc) (string, error) {
	f.calls++
	f.lastID = videoID
	for _, pct := range f.progress {
		if progress != nil {
			progress(pct)
		}
	}
	if f.err != nil {
		return "", f.err
	}
	ext := f.ext
	if ext == "" {
		ext = ".mp3"
	}
	path := filepath.Join(f.dir, videoID+ext)
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		f.t.Fatalf("write stub audio: %v", err)
	}
	return path, nil
}

// blockingFetcher waits for its context to end before failing.
type blockingFetcher struct {
	dir string
}

func (f *blockingFetcher) OutputPath(videoID string) string {
	return filepath.Join(f.dir, videoID+".mp3")
}

func (f *blockingFetcher) Fetch(ctx context.Context, _, _ string, _ video.ProgressFunc) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type upperCorrector struct {
	calls int
}

func (c *upperCorrector) Correct(_ context.Context, res transcribe.Result, _ video.Info) transcribe.Result {
	c.calls++
	res.Text = strings.ToUpper(res.Text)
	return res
}

type recordingMetrics struct {
	mu       sync.Mutex
	started  int
	outcomes []string
	stages   []string
	hits     int
	misses   int
}

func (m *recordingMetrics) JobStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *recordingMetrics) JobFinished(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) StageObserved(stage string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stage)
}

func (m *recordingMetrics) CacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
}

func (m *recordingMetrics) CacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}

// ---- helpers ----

func newTestPipeline(t *testing.T, resolver *stubResolver, fetcher pipeline.AudioFetcher, backend transcribe.Provider, opts ...pipeline.Option) *pipeline.Pipeline {
	t.Helper()
	factory := pipeline.NewFactory(pipeline.WithLocalBackend(backend))
	p, err := pipeline.New(resolver, fetcher, factory, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func assertTerminal(t *testing.T, events []pipeline.Event, status string) pipeline.Event {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	last := events[len(events)-1]
	if last.Status != status {
		t.Fatalf("terminal event status = %q, want %q (events: %+v)", last.Status, status, events)
	}
	for _, ev := range events[:len(events)-1] {
		if ev.Status != pipeline.StatusInfo {
			t.Errorf("non-terminal event has status %q, want info", ev.Status)
		}
	}
	return last
}

func infoMessages(events []pipeline.Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Status == pipeline.StatusInfo {
			out = append(out, ev.Message)
		}
	}
	return out
}

func assertGone(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected %s to be removed, stat err = %v", p, err)
		}
	}
}

// ---- construction ----

func TestNew_RequiresDependencies(t *testing.T) {
	resolver := &stubResolver{}
	fetcher := &stubFetcher{dir: t.TempDir()}
	factory := pipeline.NewFactory()

	if _, err := pipeline.New(nil, fetcher, factory); err == nil {
		t.Error("expected error for nil resolver")
	}
	if _, err := pipeline.New(resolver, nil, factory); err == nil {
		t.Error("expected error for nil fetcher")
	}
	if _, err := pipeline.New(resolver, fetcher, nil); err == nil {
		t.Error("expected error for nil factory")
	}
}

// ---- happy path ----

func TestRun_CompleteFlow(t *testing.T) {
	dir := t.TempDir()
	resolver := &stubResolver{info: sampleInfo()}
	fetcher := &stubFetcher{t: t, dir: dir}
	backend := &tmock.Provider{
		ProviderName: "whisper-cli",
		Result: transcribe.Result{
			Text:     "never gonna give you up",
			Language: "en",
			Segments: []transcribe.Segment{{Start: 0, End: 5, Text: "never gonna give you up"}},
		},
	}
	p := newTestPipeline(t, resolver, fetcher, backend)
	sink := &pipeline.MemorySink{}

	if err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	last := assertTerminal(t, sink.Events(), pipeline.StatusComplete)
	res := last.Data
	if res == nil {
		t.Fatal("complete event carries no data")
	}
	if res.VideoID != "dQw4w9WgXcQ" || res.Title != "Never Gonna Give You Up" || res.Channel != "Rick Astley" {
		t.Errorf("unexpected video fields: %+v", res)
	}
	if res.DurationSeconds != 212 {
		t.Errorf("duration = %d, want 212", res.DurationSeconds)
	}
	if res.Text != "never gonna give you up" || res.Language != "en" || len(res.Segments) != 1 {
		t.Errorf("unexpected transcript fields: %+v", res)
	}
	if res.Mode != pipeline.ModeLocal || res.Provider != "whisper-cli" {
		t.Errorf("mode/provider = %q/%q, want local/whisper-cli", res.Mode, res.Provider)
	}

	if fetcher.calls != 1 || fetcher.lastID != "dQw4w9WgXcQ" {
		t.Errorf("fetcher calls = %d (last id %q), want 1 for dQw4w9WgXcQ", fetcher.calls, fetcher.lastID)
	}
	if got := backend.TranscribeCalls[0].Opts.Language; got != transcribe.LanguageAuto {
		t.Errorf("backend language = %q, want auto by default", got)
	}

	audio := fetcher.OutputPath("dQw4w9WgXcQ")
	assertGone(t, audio, audio+".mp3")
}

func TestRun_InfoEventOrder(t *testing.T) {
	resolver := &stubResolver{info: sampleInfo()}
	fetcher := &stubFetcher{t: t, dir: t.TempDir()}
	backend := &tmock.Provider{ProviderName: "whisper-cli"}
	p := newTestPipeline(t, resolver, fetcher, backend)
	sink := &pipeline.MemorySink{}

	if err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{
		"Fetching video information",
		"Downloading audio",
		"Transcribing audio with whisper-cli",
	}
	got := infoMessages(sink.Events())
	if len(got) != len(want) {
		t.Fatalf("info messages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("info[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRun_LanguageHintForwarded(t *testing.T) {
	resolver := &stubResolver{info: sampleInfo()}
	fetcher := &stubFetcher{t: t, dir: t.TempDir()}
	backend := &tmock.Provider{}
	p := newTestPipeline(t, resolver, fetcher, backend)

	if err := p.Run(context.Background(), pipeline.Request{URL: watchURL, Language: "de"}, &pipeline.MemorySink{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := backend.TranscribeCalls[0].Opts.Language; got != "de" {
		t.Errorf("backend language = %q, want de", got)
	}
}

func TestRun_DownloadProgressThrottled(t *testing.T) {
	resolver := &stubResolver{info: sampleInfo()}
	fetcher := &stubFetcher{t: t, dir: t.TempDir(), progress: []float64{5, 12, 40, 95, 100}}
	backend := &tmock.Provider{}
	p := newTestPipeline(t, resolver, fetcher, backend)
	sink := &pipeline.MemorySink{}

	if err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := strings.Join(infoMessages(sink.Events()), "\n")
	for _, want := range []string{"Downloading audio: 12%", "Downloading audio: 40%", "Downloading audio: 95%"} {
		if !strings.Contains(msgs, want) {
			t.Errorf("missing progress event %q in:\n%s", want, msgs)
		}
	}
	for _, unwanted := range []string{"Downloading audio: 5%", "Downloading audio: 100%"} {
		if strings.Contains(msgs, unwanted) {
			t.Errorf("unexpected progress event %q (throttle step is 10 points)", unwanted)
		}
	}
}

// ---- validation ----

func TestRun_MissingURL(t *testing.T) {
	resolver := &stubResolver{info: sampleInfo()}
	fetcher := &stubFetcher{t: t, dir: t.TempDir()}
	p := newTestPipeline(t, resolver, fetcher, &tmock.Provider{})
	sink := &pipeline.MemorySink{}

	err := p.Run(context.Background(), pipeline.Request{URL: "  "}, sink)
	if !errors.Is(err, pipeline.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	assertTerminal(t, sink.Events(), pipeline.StatusError)
	if resolver.calls != 0 || fetcher.calls != 0 {
		t.Errorf("resolver/fetcher calls = %d/%d, want 0/0", resolver.calls, fetcher.calls)
	}
}

func TestRun_UnrecognizedURL_NoSubprocess(t *testing.T) {
	resolver := &stubResolver{info: sampleInfo()}
	fetcher := &stubFetcher{t: t, dir: t.TempDir()}
	backend := &tmock.Provider{}
	p := newTestPipeline(t, resolver, fetcher, backend)
	sink := &pipeline.MemorySink{}

	err := p.Run(context.Background(), pipeline.Request{URL: "https://example.com/video/123"}, sink)
	if !errors.Is(err, pipeline.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if resolver.calls != 0 || fetcher.calls != 0 || backend.CallCount() != 0 {
		t.Error("expected zero external invocations for an unrecognized URL")
	}
}

func TestRun_APIMode_MissingCredential(t *testing.T) {
	resolver := &stubResolver{info: sampleInfo()}
	fetcher := &stubFetcher{t: t, dir: t.TempDir()}
	p, err := pipeline.New(resolver, fetcher, pipeline.NewFactory())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sink := &pipeline.MemorySink{}

	err = p.Run(context.Background(), pipeline.Request{URL: watchURL, Mode: pipeline.ModeAPI}, sink)
	if !errors.Is(err, pipeline.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	last := assertTerminal(t, sink.Events(), pipeline.StatusError)
	if !strings.Contains(last.Error, "API key") {
		t.Errorf("error event = %q, want mention of the missing API key", last.Error)
	}
	if resolver.calls != 0 {
		t.Error("resolver must not run before credentials are validated")
	}
}

// ---- limits ----

func TestRun_DurationCeiling(t *testing.T) {
	info := sampleInfo()
	info.DurationSeconds = 212

	// Exactly the ceiling is accepted.
	resolver := &stubResolver{info: info}
	fetcher := &stubFetcher{t: t, dir: t.TempDir()}
	p := newTestPipeline(t, resolver, fetcher, &tmock.Provider{}, pipeline.WithMaxDuration(212))
	if err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, &pipeline.MemorySink{}); err != nil {
		t.Fatalf("Run at exact ceiling: %v", err)
	}

	// One second over is rejected before any download.
	fetcher = &stubFetcher{t: t, dir: t.TempDir()}
	p = newTestPipeline(t, &stubResolver{info: info}, fetcher, &tmock.Provider{}, pipeline.WithMaxDuration(211))
	err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, &pipeline.MemorySink{})
	if !errors.Is(err, pipeline.ErrLimitExceeded) {
		t.Fatalf("error = %v, want ErrLimitExceeded", err)
	}
	if fetcher.calls != 0 {
		t.Error("no download may start for an over-limit video")
	}
}

func TestRun_LiveStreamRejected(t *testing.T) {
	info := sampleInfo()
	info.IsLive = true
	info.DurationSeconds = 10
	fetcher := &stubFetcher{t: t, dir: t.TempDir()}
	p := newTestPipeline(t, &stubResolver{info: info}, fetcher, &tmock.Provider{})
	sink := &pipeline.MemorySink{}

	err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, sink)
	if !errors.Is(err, pipeline.ErrLimitExceeded) {
		t.Fatalf("error = %v, want ErrLimitExceeded", err)
	}
	last := assertTerminal(t, sink.Events(), pipeline.StatusError)
	if !strings.Contains(last.Error, "live") {
		t.Errorf("error event = %q, want mention of the live stream", last.Error)
	}
	if fetcher.calls != 0 {
		t.Error("no download may start for a live stream")
	}
}

// ---- stage failures ----

func TestRun_ResolutionFailure(t *testing.T) {
	resolver := &stubResolver{err: errors.New("yt-dlp: Video unavailable")}
	fetcher := &stubFetcher{t: t, dir: t.TempDir()}
	p := newTestPipeline(t, resolver, fetcher, &tmock.Provider{})

	err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, &pipeline.MemorySink{})
	if !errors.Is(err, pipeline.ErrResolution) {
		t.Fatalf("error = %v, want ErrResolution", err)
	}
	if fetcher.calls != 0 {
		t.Error("no download may start after a resolution failure")
	}
}

func TestRun_FetchToolMissing(t *testing.T) {
	resolver := &stubResolver{info: sampleInfo()}
	fetcher := &stubFetcher{t: t, dir: t.TempDir(), err: fmt.Errorf("%w: exec: not found", video.ErrToolMissing)}
	p := newTestPipeline(t, resolver, fetcher, &tmock.Provider{})
	sink := &pipeline.MemorySink{}

	err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, sink)
	if !errors.Is(err, pipeline.ErrFetch) {
		t.Fatalf("error = %v, want ErrFetch", err)
	}
	last := assertTerminal(t, sink.Events(), pipeline.StatusError)
	if !strings.Contains(last.Error, "not installed") {
		t.Errorf("error event = %q, want the tool-missing wording", last.Error)
	}
}

func TestRun_FetchFailure(t *testing.T) {
	resolver := &stubResolver{info: sampleInfo()}
	fetcher := &stubFetcher{t: t, dir: t.TempDir(), err: errors.New("exit status 1: This video is private")}
	p := newTestPipeline(t, resolver, fetcher, &tmock.Provider{})
	sink := &pipeline.MemorySink{}

	err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, sink)
	if !errors.Is(err, pipeline.ErrFetch) {
		t.Fatalf("error = %v, want ErrFetch", err)
	}
	last := assertTerminal(t, sink.Events(), pipeline.StatusError)
	if !strings.Contains(last.Error, "This video is private") {
		t.Errorf("error event = %q, want the downloader detail folded in", last.Error)
	}
}

func TestRun_TranscriptionFailureCleansUp(t *testing.T) {
	resolver := &stubResolver{info: sampleInfo()}
	fetcher := &stubFetcher{t: t, dir: t.TempDir()}
	backend := &tmock.Provider{Err: errors.New("model exploded")}
	p := newTestPipeline(t, resolver, fetcher, backend)
	sink := &pipeline.MemorySink{}

	err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, sink)
	if !errors.Is(err, pipeline.ErrTranscription) {
		t.Fatalf("error = %v, want ErrTranscription", err)
	}
	assertTerminal(t, sink.Events(), pipeline.StatusError)

	audio := fetcher.OutputPath("dQw4w9WgXcQ")
	assertGone(t, audio, audio+".mp3")
}

func TestRun_AuthFailureRewritten(t *testing.T) {
	resolver := &stubResolver{info: sampleInfo()}
	fetcher := &stubFetcher{t: t, dir: t.TempDir()}
	backend := &tmock.Provider{Err: errors.New("HTTP 401: invalid api key")}
	p := newTestPipeline(t, resolver, fetcher, backend)
	sink := &pipeline.MemorySink{}

	if err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, sink); err == nil {
		t.Fatal("expected transcription error")
	}
	last := assertTerminal(t, sink.Events(), pipeline.StatusError)
	if !strings.HasPrefix(last.Error, "Authentication Failed: ") {
		t.Errorf("error event = %q, want the auth prefix", last.Error)
	}
}

func TestRun_StageTimeout(t *testing.T) {
	resolver := &stubResolver{info: sampleInfo()}
	fetcher := &blockingFetcher{dir: t.TempDir()}
	p := newTestPipeline(t, resolver, fetcher, &tmock.Provider{}, pipeline.WithStageTimeout(50*time.Millisecond))

	err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, &pipeline.MemorySink{})
	if !errors.Is(err, pipeline.ErrFetch) {
		t.Fatalf("error = %v, want ErrFetch", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want a wrapped deadline", err)
	}
}

// ---- cleanup ----

func TestRun_CleanupDoubleExtension(t *testing.T) {
	dir := t.TempDir()
	resolver := &stubResolver{info: sampleInfo()}
	fetcher := &stubFetcher{t: t, dir: dir, ext: ".mp3.mp3"}
	p := newTestPipeline(t, resolver, fetcher, &tmock.Provider{})

	if err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, &pipeline.MemorySink{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	assertGone(t,
		filepath.Join(dir, "dQw4w9WgXcQ.mp3"),
		filepath.Join(dir, "dQw4w9WgXcQ.mp3.mp3"),
	)
}

// ---- cache ----

func TestRun_CacheHitSkipsSubprocesses(t *testing.T) {
	resolver := &stubResolver{info: sampleInfo()}
	fetcher := &stubFetcher{t: t, dir: t.TempDir()}
	backend := &tmock.Provider{
		ProviderName: "whisper-cli",
		Result:       transcribe.Result{Text: "cached text", Language: "en"},
	}
	store := cache.New[pipeline.Result](10)
	p := newTestPipeline(t, resolver, fetcher, backend, pipeline.WithCache(store))

	if err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, &pipeline.MemorySink{}); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	sink := &pipeline.MemorySink{}
	if err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, sink); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	last := assertTerminal(t, sink.Events(), pipeline.StatusComplete)
	if last.Data == nil || last.Data.Text != "cached text" {
		t.Fatalf("cached result = %+v", last.Data)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher calls = %d, want 1 (second request served from cache)", fetcher.calls)
	}
	if backend.CallCount() != 1 {
		t.Errorf("backend calls = %d, want 1", backend.CallCount())
	}
	msgs := strings.Join(infoMessages(sink.Events()), "\n")
	if !strings.Contains(msgs, "cached") {
		t.Errorf("info messages = %q, want a cached-transcript notice", msgs)
	}
}

func TestRun_CorrectorAppliedAndCached(t *testing.T) {
	resolver := &stubResolver{info: sampleInfo()}
	fetcher := &stubFetcher{t: t, dir: t.TempDir()}
	backend := &tmock.Provider{Result: transcribe.Result{Text: "hello world", Language: "en"}}
	corrector := &upperCorrector{}
	store := cache.New[pipeline.Result](10)
	p := newTestPipeline(t, resolver, fetcher, backend,
		pipeline.WithCache(store),
		pipeline.WithCorrector(corrector),
	)

	sink := &pipeline.MemorySink{}
	if err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}
	last := assertTerminal(t, sink.Events(), pipeline.StatusComplete)
	if last.Data.Text != "HELLO WORLD" {
		t.Errorf("corrected text = %q, want HELLO WORLD", last.Data.Text)
	}
	if corrector.calls != 1 {
		t.Errorf("corrector calls = %d, want 1", corrector.calls)
	}

	// The cache stores the corrected transcript.
	cached, ok := store.Get("dQw4w9WgXcQ")
	if !ok || cached.Text != "HELLO WORLD" {
		t.Errorf("cached text = %q (hit=%v), want HELLO WORLD", cached.Text, ok)
	}
}

// ---- metrics ----

func TestRun_MetricsRecorded(t *testing.T) {
	resolver := &stubResolver{info: sampleInfo()}
	fetcher := &stubFetcher{t: t, dir: t.TempDir()}
	backend := &tmock.Provider{}
	metrics := &recordingMetrics{}
	store := cache.New[pipeline.Result](10)
	p := newTestPipeline(t, resolver, fetcher, backend,
		pipeline.WithCache(store),
		pipeline.WithMetrics(metrics),
	)

	if err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, &pipeline.MemorySink{}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := p.Run(context.Background(), pipeline.Request{URL: watchURL}, &pipeline.MemorySink{}); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if metrics.started != 2 {
		t.Errorf("started = %d, want 2", metrics.started)
	}
	if len(metrics.outcomes) != 2 || metrics.outcomes[0] != "complete" || metrics.outcomes[1] != "complete" {
		t.Errorf("outcomes = %v, want two completes", metrics.outcomes)
	}
	if metrics.misses != 1 || metrics.hits != 1 {
		t.Errorf("cache hits/misses = %d/%d, want 1/1", metrics.hits, metrics.misses)
	}

	joined := strings.Join(metrics.stages, ",")
	for _, stage := range []string{"resolving-video", "downloading-audio", "transcribing"} {
		if !strings.Contains(joined, stage) {
			t.Errorf("stages = %v, missing %q", metrics.stages, stage)
		}
	}
}
