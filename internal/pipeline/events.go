package pipeline

import (
	"context"
	"sync"
)

// Event status values. A request's stream carries zero or more info events
// followed by exactly one terminal error or complete event.
const (
	StatusInfo     = "info"
	StatusError    = "error"
	StatusComplete = "complete"
)

// Event is one progress message emitted during a transcription request.
// Exactly one of Message, Error, or Data is set, matching Status.
type Event struct {
	Status  string  `json:"status"`
	Message string  `json:"message,omitempty"`
	Error   string  `json:"error,omitempty"`
	Data    *Result `json:"data,omitempty"`
}

// Sink receives the ordered event stream of one request. The concrete
// realization (SSE framing, WebSocket frames, an in-memory slice) is an
// adapter at the boundary; the pipeline only ever talks to this interface.
//
// Send returns an error when the receiver has gone away; the pipeline stops
// emitting and aborts the request.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

func infoEvent(message string) Event {
	return Event{Status: StatusInfo, Message: message}
}

func errorEvent(err error) Event {
	return Event{Status: StatusError, Error: userMessage(err)}
}

func completeEvent(res *Result) Event {
	return Event{Status: StatusComplete, Data: res}
}

// MemorySink is a Sink that collects events in order. It backs tests and
// request surfaces that want the whole stream at once (the MCP tools, the
// one-shot CLI mode).
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

var _ Sink = (*MemorySink)(nil)

// Send appends ev to the recorded stream. It never fails.
func (s *MemorySink) Send(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of all events recorded so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Last returns the most recent event, if any.
func (s *MemorySink) Last() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return Event{}, false
	}
	return s.events[len(s.events)-1], true
}
