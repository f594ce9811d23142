// Package health serves liveness and readiness probes on the Voxwire metrics
// listener.
//
// /healthz answers 200 whenever the process can serve HTTP. /readyz probes
// the client's dependencies (the call log store, for one) and answers 200
// only when every probe passes. Bodies are JSON: a "status" of "ok" or
// "fail" plus a per-probe "checks" map.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// DefaultCheckTimeout bounds a single readiness probe when no other timeout
// is configured.
const DefaultCheckTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable and must respect context cancellation.
type Checker struct {
	// Name keys this probe in the JSON response, e.g. "calllog".
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is anything with a context-aware Ping, such as a database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker builds a [Checker] that probes p.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// report is the JSON body written by both probe endpoints.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. Safe for concurrent use; the probe set
// is fixed at construction.
type Handler struct {
	timeout  time.Duration
	checkers []Checker
}

// New creates a Handler evaluating the given probes on each /readyz request,
// each bounded by [DefaultCheckTimeout].
func New(checkers ...Checker) *Handler {
	return &Handler{
		timeout:  DefaultCheckTimeout,
		checkers: append([]Checker(nil), checkers...),
	}
}

// SetCheckTimeout overrides the per-probe deadline. Non-positive values are
// ignored.
func (h *Handler) SetCheckTimeout(d time.Duration) {
	if d > 0 {
		h.timeout = d
	}
}

// Healthz is the liveness probe. It always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every probe and answers 200 only when all pass.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks, ready := h.probe(r.Context())

	rep := report{Status: "ok", Checks: checks}
	code := http.StatusOK
	if !ready {
		rep.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// probe evaluates the checkers in order, each under its own deadline derived
// from ctx.
func (h *Handler) probe(ctx context.Context) (map[string]string, bool) {
	checks := make(map[string]string, len(h.checkers))
	ready := true
	for _, c := range h.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := c.Check(checkCtx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			ready = false
			continue
		}
		checks[c.Name] = "ok"
	}
	return checks, ready
}

// Register adds the /healthz and /readyz routes to mux.
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
