package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tubescribe/tubescribe/internal/costs"
	"github.com/tubescribe/tubescribe/internal/video"
)

// maxBodyBytes caps request bodies. Summarize carries whole transcripts,
// so the limit is generous.
const maxBodyBytes = 1 << 20

// Request headers carrying per-request transcription settings. The
// credential travels as a header so it stays out of URLs and bodies.
const (
	headerAPIKey   = "X-API-Key"
	headerProvider = "X-Provider"
	headerMode     = "X-Mode"
)

// transcribeRequest is the body of POST /api/transcribe.
type transcribeRequest struct {
	URL      string `json:"url"`
	Language string `json:"language"`
}

// urlRequest is the body of the metadata and estimate endpoints.
type urlRequest struct {
	URL string `json:"url"`
}

// summarizeRequest is the body of POST /api/summarize.
type summarizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// decode reads the request body into dst, bounding its size.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("server: decode request body: %w", err)
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("response write failed", "err", err)
	}
}

// respondData wraps payload in the success envelope the extension
// expects.
func (s *Server) respondData(w http.ResponseWriter, payload any) {
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "data": payload})
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]any{"error": msg})
}

// resolveStatus maps a resolver failure onto an HTTP status. Bad input is
// the caller's fault, a missing downloader is ours, everything else is
// the upstream site.
func resolveStatus(err error) int {
	switch {
	case errors.Is(err, video.ErrBadURL):
		return http.StatusBadRequest
	case errors.Is(err, video.ErrToolMissing):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := decode(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	info, err := s.resolver.Resolve(r.Context(), req.URL)
	if err != nil {
		s.log.Warn("metadata lookup failed", "err", err)
		s.respondError(w, resolveStatus(err), err.Error())
		return
	}
	s.respondData(w, info)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := decode(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	info, err := s.resolver.Resolve(r.Context(), req.URL)
	if err != nil {
		s.log.Warn("estimate lookup failed", "err", err)
		s.respondError(w, resolveStatus(err), err.Error())
		return
	}

	// The estimate defaults to the configured mode; the X-Mode header asks
	// for the other one, which the extension uses to show both prices.
	mode := r.Header.Get(headerMode)
	if mode == "" {
		mode = string(s.cfg.Pipeline.Mode)
	}
	est, err := costs.For(info.DurationSeconds, mode)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondData(w, est)
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	if s.summarizer == nil {
		s.respondError(w, http.StatusServiceUnavailable, "summarization is not configured")
		return
	}

	var req summarizeRequest
	if err := decode(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	out, err := s.summarizer.Summarize(r.Context(), req.Text, req.Language)
	if err != nil {
		s.log.Warn("summarization failed", "err", err)
		s.respondError(w, http.StatusBadGateway, "summarization failed")
		return
	}
	s.respondData(w, map[string]string{"summary": out})
}

// capabilityReport is the payload of GET /api/capabilities. The extension
// reads it once at startup to decide which controls to show.
type capabilityReport struct {
	Mode          string          `json:"mode"`
	Provider      string          `json:"provider"`
	Local         localCapability `json:"local"`
	Binaries      map[string]bool `json:"binaries"`
	CacheCapacity int             `json:"cacheCapacity"`
	Features      featureFlags    `json:"features"`
}

type localCapability struct {
	Engine string `json:"engine"`
	Model  string `json:"model"`
}

type featureFlags struct {
	Summary    bool `json:"summary"`
	Correction bool `json:"correction"`
	MCP        bool `json:"mcp"`
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	binaries := map[string]bool{
		video.DefaultBinary: lookPathOK(video.DefaultBinary),
	}
	if bin := s.cfg.Local.Binary; bin != "" {
		binaries[bin] = lookPathOK(bin)
	}

	s.respondData(w, capabilityReport{
		Mode:     string(s.cfg.Pipeline.Mode),
		Provider: string(s.cfg.Pipeline.Provider),
		Local: localCapability{
			Engine: string(s.cfg.Local.Engine),
			Model:  s.cfg.Local.Model,
		},
		Binaries:      binaries,
		CacheCapacity: s.cfg.Pipeline.CacheCapacity,
		Features: featureFlags{
			Summary:    s.summarizer != nil,
			Correction: s.cfg.Pipeline.Correction,
			MCP:        s.mcp != nil,
		},
	})
}
