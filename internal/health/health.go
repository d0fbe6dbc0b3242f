// Package health serves the operational HTTP surface of the pipeline
// binary: liveness (/healthz), readiness (/readyz), and Prometheus metrics
// (/metrics).
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// Check probes one dependency of the pipeline (object store, progress
// database, model server). Probe must respect context cancellation.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Server bundles the ops endpoints. Construct with [NewServer]; the check
// list is fixed afterwards.
type Server struct {
	metrics http.Handler
	checks  []Check
}

// NewServer builds a Server exposing the given metrics handler and
// readiness checks. metrics may be nil to disable the /metrics route.
func NewServer(metrics http.Handler, checks ...Check) *Server {
	return &Server{metrics: metrics, checks: append([]Check(nil), checks...)}
}

// Handler returns the routed ops mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /readyz", s.readyz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

type status struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthz reports liveness: a process that can answer HTTP is alive.
func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, status{Status: "ok"})
}

// readyz reports readiness: 200 only when every check passes.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	res := status{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	code := http.StatusOK

	for _, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := c.Probe(ctx)
		cancel()
		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			code = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, code, res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
