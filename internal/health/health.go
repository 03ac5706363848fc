// Package health provides the HTTP health and readiness probes for the
// voicegate server.
//
//   - /healthz — liveness: always 200 once the process serves HTTP. The body
//     carries uptime and the number of live simulation sessions so an operator
//     can see load at a glance.
//   - /readyz  — readiness: 200 only when every registered [Checker] passes
//     (snapshot store reachable, providers constructed). Each check reports
//     its observed latency.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check must respect context cancellation and
// return nil when the dependency is healthy.
type Checker struct {
	// Name keys the check in the JSON response (e.g. "store", "providers").
	Name string

	Check func(ctx context.Context) error
}

type checkResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

type liveBody struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
	ActiveSessions *int   `json:"activeSessions,omitempty"`
}

type readyBody struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. Safe for concurrent use; the checker
// list and session counter are fixed at construction time.
type Handler struct {
	checkers []Checker
	sessions func() int
	started  time.Time
}

// New creates a Handler evaluating the given checkers, in order, on each
// /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c, started: time.Now()}
}

// WithSessions sets the live-session counter reported by /healthz and returns
// the handler for chaining.
func (h *Handler) WithSessions(count func() int) *Handler {
	h.sessions = count
	return h
}

// Healthz reports liveness with uptime and session load.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	body := liveBody{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.started) / time.Second),
	}
	if h.sessions != nil {
		n := h.sessions()
		body.ActiveSessions = &n
	}
	writeJSON(w, http.StatusOK, body)
}

// Readyz runs every checker under a [checkTimeout] deadline and returns 503
// when any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]checkResult, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		begin := time.Now()
		err := c.Check(ctx)
		cancel()

		res := checkResult{Status: "ok", LatencyMs: time.Since(begin).Milliseconds()}
		if err != nil {
			res.Status = "fail"
			res.Error = err.Error()
			allOK = false
		}
		checks[c.Name] = res
	}

	body := readyBody{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		body.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
