package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tubescribe/tubescribe/internal/pipeline"
)

// sseSink frames pipeline events as server-sent events. Each event is one
// `data: <JSON>` block flushed immediately, so the extension renders
// progress as it happens instead of when the transcript is done.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

var _ pipeline.Sink = (*sseSink)(nil)

// Send writes ev as one SSE block. A write error means the client went
// away; the pipeline aborts the request on it.
func (s *sseSink) Send(ctx context.Context, ev pipeline.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("server: encode event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("server: write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := decode(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	preq := pipeline.Request{
		URL:        req.URL,
		Language:   req.Language,
		Mode:       r.Header.Get(headerMode),
		Provider:   r.Header.Get(headerProvider),
		Credential: r.Header.Get(headerAPIKey),
	}

	// The terminal event has already reached the sink; what remains here
	// is the pipeline's classified error or a mid-stream disconnect.
	if err := s.runner.Run(r.Context(), preq, &sseSink{w: w, flusher: flusher}); err != nil {
		s.log.Debug("transcription stream ended with error", "err", err)
	}
}
