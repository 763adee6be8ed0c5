package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/phrazzld/labelling-task/internal/api/shared"
)

// CheckFunc reports whether one dependency is reachable.
type CheckFunc func(ctx context.Context) error

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	checks  map[string]CheckFunc
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler running checks on readiness
// probes.
func NewHealthHandler(checks map[string]CheckFunc) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second}
}

// Health handles GET /health. It only reports that the process is serving.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondSuccess(w, r, http.StatusOK, map[string]bool{"ok": true}, "healthy")
}

// Ready handles GET /ready. Every check runs; any failure makes the
// response 503 and names the failing dependencies.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	ready := true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = "unavailable"
			ready = false
			continue
		}
		results[name] = "ok"
	}

	if !ready {
		shared.RespondWithJSON(w, r, http.StatusServiceUnavailable, shared.Envelope{
			Status:    shared.StatusFailure,
			Message:   "not ready",
			Data:      results,
			Timestamp: time.Now().UnixMilli(),
		})
		return
	}
	shared.RespondSuccess(w, r, http.StatusOK, results, "ready")
}
