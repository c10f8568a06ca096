// Package health provides HTTP health and readiness probes.
//
//   - /healthz — liveness; a process that can serve HTTP answers 200.
//   - /readyz  — readiness; 200 only when every registered [Checker]
//     passes, 503 otherwise.
//
// Responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map with one line per named checker. The
// checkers probe the service's working dependencies: the scratch
// directory, the downloader binary, and (in local mode) the whisper
// model file.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds one /readyz evaluation. The checkers share the
// budget since they run concurrently.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the
// dependency is usable and an error describing the failure otherwise;
// it must respect context cancellation.
type Checker struct {
	// Name keys the check's line in the JSON response
	// (e.g. "temp_dir", "downloader").
	Name string

	Check func(ctx context.Context) error
}

// response is the JSON body for both probes.
type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction, so a Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each
// /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz answers liveness: always 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz answers readiness. The checkers run concurrently under a
// shared [checkTimeout] deadline; any failure makes the probe report
// 503 with the per-check lines naming the culprits.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	lines := make([]string, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			if err := c.Check(ctx); err != nil {
				lines[i] = "fail: " + err.Error()
			} else {
				lines[i] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := response{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		res.Checks[c.Name] = lines[i]
		if lines[i] != "ok" {
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, res)
}

// Register adds the probe routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

// writeJSON marshals v and writes it with the given status code.
// Marshal failures turn into a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
