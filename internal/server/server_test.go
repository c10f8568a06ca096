package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/tubescribe/tubescribe/internal/config"
	"github.com/tubescribe/tubescribe/internal/pipeline"
	"github.com/tubescribe/tubescribe/internal/server"
	"github.com/tubescribe/tubescribe/internal/video"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// scriptedRunner plays back a fixed event sequence and records the request
// it was handed.
type scriptedRunner struct {
	events []pipeline.Event
	err    error

	mu   sync.Mutex
	last pipeline.Request
}

func (r *scriptedRunner) Run(ctx context.Context, req pipeline.Request, sink pipeline.Sink) error {
	r.mu.Lock()
	r.last = req
	r.mu.Unlock()
	for _, ev := range r.events {
		if err := sink.Send(ctx, ev); err != nil {
			return err
		}
	}
	return r.err
}

// request returns the last request Run received.
func (r *scriptedRunner) request() pipeline.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// stubResolver returns a fixed metadata result.
type stubResolver struct {
	info video.Info
	err  error
}

func (r *stubResolver) Resolve(context.Context, string) (video.Info, error) {
	return r.info, r.err
}

// stubSummarizer returns a fixed summary and records its inputs.
type stubSummarizer struct {
	out string
	err error

	mu       sync.Mutex
	text     string
	language string
}

func (s *stubSummarizer) Summarize(_ context.Context, text, language string) (string, error) {
	s.mu.Lock()
	s.text, s.language = text, language
	s.mu.Unlock()
	return s.out, s.err
}

func newTestServer(t *testing.T, runner server.Runner, resolver pipeline.VideoResolver, opts ...server.Option) *server.Server {
	t.Helper()
	return newTestServerWithConfig(t, config.Default(), runner, resolver, opts...)
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config, runner server.Runner, resolver pipeline.VideoResolver, opts ...server.Option) *server.Server {
	t.Helper()
	if runner == nil {
		runner = &scriptedRunner{}
	}
	if resolver == nil {
		resolver = &stubResolver{}
	}
	srv, err := server.New(cfg, runner, resolver, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

// doJSON serves one request against the full route tree and returns the
// recorded response.
func doJSON(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// envelope is the JSON wrapper the non-streaming endpoints answer with.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

// ── Construction ──────────────────────────────────────────────────────────────

func TestNew_RequiresConfig(t *testing.T) {
	t.Parallel()
	if _, err := server.New(nil, &scriptedRunner{}, &stubResolver{}); err == nil {
		t.Fatal("New accepted a nil config")
	}
}

func TestNew_RequiresRunner(t *testing.T) {
	t.Parallel()
	if _, err := server.New(config.Default(), nil, &stubResolver{}); err == nil {
		t.Fatal("New accepted a nil runner")
	}
}

func TestNew_RequiresResolver(t *testing.T) {
	t.Parallel()
	if _, err := server.New(config.Default(), &scriptedRunner{}, nil); err == nil {
		t.Fatal("New accepted a nil resolver")
	}
}

// ── Routing ───────────────────────────────────────────────────────────────────

func TestRoutes_CORSPreflight(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/transcribe", nil)
	req.Header.Set("Origin", "chrome-extension://abcdefgh")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	allowed := rec.Header().Get("Access-Control-Allow-Headers")
	for _, h := range []string{"Content-Type", "X-API-Key", "X-Provider", "X-Mode"} {
		if !strings.Contains(allowed, h) {
			t.Errorf("Allow-Headers %q is missing %q", allowed, h)
		}
	}
}

func TestRoutes_CORSOnRegularResponses(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil)

	rec := doJSON(t, srv.Routes(), http.MethodGet, "/healthz", "", nil)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestRoutes_Healthz(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil)

	rec := doJSON(t, srv.Routes(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %q, want it to report ok", rec.Body.String())
	}
}

func TestRoutes_MetricsEnabled(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil)

	rec := doJSON(t, srv.Routes(), http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "go_") {
		t.Error("body does not look like Prometheus exposition")
	}
}

func TestRoutes_MetricsDisabled(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Telemetry.Metrics = false
	srv := newTestServerWithConfig(t, cfg, nil, nil)

	rec := doJSON(t, srv.Routes(), http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRoutes_MCPMountedWhenConfigured(t *testing.T) {
	t.Parallel()
	mcp := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := newTestServer(t, nil, nil, server.WithMCP(mcp))

	rec := doJSON(t, srv.Routes(), http.MethodPost, "/mcp", "{}", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRoutes_MCPAbsentByDefault(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil)

	rec := doJSON(t, srv.Routes(), http.MethodPost, "/mcp", "{}", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

// ── Capabilities ──────────────────────────────────────────────────────────────

type capabilityData struct {
	Mode     string `json:"mode"`
	Provider string `json:"provider"`
	Local    struct {
		Engine string `json:"engine"`
		Model  string `json:"model"`
	} `json:"local"`
	Binaries      map[string]bool `json:"binaries"`
	CacheCapacity int             `json:"cacheCapacity"`
	Features      struct {
		Summary    bool `json:"summary"`
		Correction bool `json:"correction"`
		MCP        bool `json:"mcp"`
	} `json:"features"`
}

func getCapabilities(t *testing.T, srv *server.Server) capabilityData {
	t.Helper()
	rec := doJSON(t, srv.Routes(), http.MethodGet, "/api/capabilities", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("success = false, body %q", rec.Body.String())
	}
	var data capabilityData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return data
}

func TestCapabilities_Defaults(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil)
	data := getCapabilities(t, srv)

	if data.Mode != "local" || data.Provider != "openai" {
		t.Errorf("mode/provider = %q/%q, want local/openai", data.Mode, data.Provider)
	}
	if data.Local.Engine != "cli" || data.Local.Model != "base" {
		t.Errorf("local = %+v, want cli/base", data.Local)
	}
	if data.CacheCapacity != 50 {
		t.Errorf("cacheCapacity = %d, want 50", data.CacheCapacity)
	}
	if data.Features.Summary || data.Features.Correction || data.Features.MCP {
		t.Errorf("features = %+v, want all off", data.Features)
	}
	if _, ok := data.Binaries[video.DefaultBinary]; !ok {
		t.Errorf("binaries %v is missing %q", data.Binaries, video.DefaultBinary)
	}
}

func TestCapabilities_ReportsMissingBinary(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Local.Binary = "definitely-not-installed-anywhere"
	srv := newTestServerWithConfig(t, cfg, nil, nil)

	data := getCapabilities(t, srv)
	found, ok := data.Binaries[cfg.Local.Binary]
	if !ok {
		t.Fatalf("binaries %v is missing %q", data.Binaries, cfg.Local.Binary)
	}
	if found {
		t.Errorf("binaries[%q] = true, want false", cfg.Local.Binary)
	}
}

func TestCapabilities_FeatureFlags(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Pipeline.Correction = true
	mcp := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
	srv := newTestServerWithConfig(t, cfg, nil, nil,
		server.WithSummarizer(&stubSummarizer{out: "short"}),
		server.WithMCP(mcp))

	data := getCapabilities(t, srv)
	if !data.Features.Summary || !data.Features.Correction || !data.Features.MCP {
		t.Errorf("features = %+v, want all on", data.Features)
	}
}
