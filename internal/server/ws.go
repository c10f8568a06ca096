package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/tubescribe/tubescribe/internal/pipeline"
)

// requestDocTimeout bounds how long a fresh socket may sit idle before
// sending its request document.
const requestDocTimeout = 30 * time.Second

// wsRequest is the first text message on a transcription socket. The
// socket carries no custom headers, so everything the SSE form reads from
// headers travels in the document instead.
type wsRequest struct {
	URL      string `json:"url"`
	Language string `json:"language"`
	Mode     string `json:"mode"`
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey"`
}

// wsSink frames pipeline events as WebSocket text messages, one message
// per event.
type wsSink struct {
	conn *websocket.Conn
}

var _ pipeline.Sink = (*wsSink)(nil)

// Send writes ev as one text message. A write error means the client went
// away; the pipeline aborts the request on it.
func (s *wsSink) Send(ctx context.Context, ev pipeline.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("server: encode event: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("server: write event: %w", err)
	}
	return nil
}

func (s *Server) handleTranscribeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Extension pages connect from chrome-extension:// origins, which
		// no origin pattern can express.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "err", err)
		return
	}

	ctx := r.Context()

	rctx, cancel := context.WithTimeout(ctx, requestDocTimeout)
	typ, data, err := conn.Read(rctx)
	cancel()
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "expected a request document")
		return
	}
	if typ != websocket.MessageText {
		conn.Close(websocket.StatusUnsupportedData, "expected a JSON text message")
		return
	}

	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.closeWithError(ctx, conn, "invalid request document")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.closeWithError(ctx, conn, "url is required")
		return
	}

	// No further client messages are expected. CloseRead keeps control
	// frames serviced and cancels ctx when the client goes away, which
	// aborts the pipeline mid-stage.
	ctx = conn.CloseRead(ctx)

	preq := pipeline.Request{
		URL:        req.URL,
		Language:   req.Language,
		Mode:       req.Mode,
		Provider:   req.Provider,
		Credential: req.APIKey,
	}
	if err := s.runner.Run(ctx, preq, &wsSink{conn: conn}); err != nil {
		s.log.Debug("transcription stream ended with error", "err", err)
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}

// closeWithError reports a rejected request as a terminal error event and
// closes the socket the same way a pipeline failure would, so the
// extension handles both identically.
func (s *Server) closeWithError(ctx context.Context, conn *websocket.Conn, msg string) {
	sink := &wsSink{conn: conn}
	_ = sink.Send(ctx, pipeline.Event{Status: pipeline.StatusError, Error: msg})
	conn.Close(websocket.StatusNormalClosure, "done")
}
