package controller

import (
	"context"
	"net/http"
	"time"
)

// Check pings one dependency.
type Check func(ctx context.Context) error

// BacklogCounter reports how many outbox entries still wait for the relay.
type BacklogCounter interface {
	CountPending(ctx context.Context) (int, error)
}

type HealthController struct {
	checks map[string]Check
	outbox BacklogCounter
}

// NewHealthController builds a health controller. checks maps a dependency
// name such as "database" to its check; outbox may be nil.
func NewHealthController(checks map[string]Check, outbox BacklogCounter) *HealthController {
	return &HealthController{checks: checks, outbox: outbox}
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not ready",
				"reason": name + " unavailable",
			})
			return
		}
	}

	resp := map[string]any{"status": "ready"}
	if h.outbox != nil {
		if n, err := h.outbox.CountPending(ctx); err == nil {
			resp["outbox_pending"] = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
