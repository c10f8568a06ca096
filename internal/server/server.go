// Package server exposes the transcription service over HTTP.
//
// The surface is built for a browser extension: JSON request bodies,
// permissive CORS, progress streamed as server-sent events or WebSocket
// messages, and a capabilities document the extension probes at startup.
// Routes are mounted on chi; everything under /api additionally carries
// the observe middleware (correlation ID, metrics, trace context).
//
// The server owns transport concerns only. Orchestration stays behind the
// Runner interface, metadata lookups behind the resolver, so handlers
// translate between HTTP framing and those calls and nothing else.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/exec"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tubescribe/tubescribe/internal/config"
	"github.com/tubescribe/tubescribe/internal/health"
	"github.com/tubescribe/tubescribe/internal/observe"
	"github.com/tubescribe/tubescribe/internal/pipeline"
)

// Runner drives one transcription request, emitting progress onto the
// sink. Satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, sink pipeline.Sink) error
}

// Summarizer condenses a finished transcript. Satisfied by
// *summary.Summarizer.
type Summarizer interface {
	Summarize(ctx context.Context, text, language string) (string, error)
}

// Server holds the handler dependencies and assembles the route tree.
type Server struct {
	cfg      *config.Config
	runner   Runner
	resolver pipeline.VideoResolver

	summarizer Summarizer
	health     *health.Handler
	metrics    *observe.Metrics
	mcp        http.Handler
	log        *slog.Logger
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithSummarizer enables the /api/summarize endpoint. Without it the
// endpoint answers 503.
func WithSummarizer(s Summarizer) Option {
	return func(srv *Server) { srv.summarizer = s }
}

// WithHealth installs the health handler serving /healthz and /readyz.
// Default is a handler with no checkers, which always reports ready.
func WithHealth(h *health.Handler) Option {
	return func(srv *Server) {
		if h != nil {
			srv.health = h
		}
	}
}

// WithMetrics sets the instrumentation used by the /api middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) {
		if m != nil {
			srv.metrics = m
		}
	}
}

// WithMCP mounts handler at /mcp.
func WithMCP(h http.Handler) Option {
	return func(srv *Server) { srv.mcp = h }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.log = l
		}
	}
}

// New constructs a Server. cfg, runner, and resolver are required.
func New(cfg *config.Config, runner Runner, resolver pipeline.VideoResolver, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: config must not be nil")
	}
	if runner == nil {
		return nil, errors.New("server: runner must not be nil")
	}
	if resolver == nil {
		return nil, errors.New("server: resolver must not be nil")
	}
	srv := &Server{
		cfg:      cfg,
		runner:   runner,
		resolver: resolver,
		health:   health.New(),
		metrics:  observe.DefaultMetrics(),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(srv)
	}
	return srv, nil
}

// Routes assembles the full route tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.cors)

	s.health.Register(r)
	if s.cfg.Telemetry.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	if s.mcp != nil {
		r.Handle("/mcp", s.mcp)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(observe.Middleware(s.metrics, s.log))
		api.Post("/transcribe", s.handleTranscribe)
		api.Get("/transcribe/ws", s.handleTranscribeWS)
		api.Post("/video/metadata", s.handleMetadata)
		api.Post("/estimate", s.handleEstimate)
		api.Post("/summarize", s.handleSummarize)
		api.Get("/capabilities", s.handleCapabilities)
	})

	return r
}

// cors answers preflight requests and stamps the CORS headers on every
// response. Extension pages run on chrome-extension:// origins, so the
// policy is a wildcard rather than a pattern list.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Provider, X-Mode")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// lookPathOK reports whether name resolves to an executable on PATH.
func lookPathOK(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
