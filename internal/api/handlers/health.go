package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker is a dependency probed by /ready
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checks   map[string]HealthChecker
	sessions func() int
}

// NewHealthHandler creates a new health handler. Nil checkers are skipped so
// deployments without Postgres or Redis still report ready.
func NewHealthHandler(checks map[string]HealthChecker, sessions func() int) *HealthHandler {
	active := make(map[string]HealthChecker, len(checks))
	for name, c := range checks {
		if c != nil {
			active[name] = c
		}
	}
	return &HealthHandler{
		checks:   active,
		sessions: sessions,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Sessions  *int              `json:"sessions,omitempty"`
	Services  map[string]string `json:"services,omitempty"`
}

// Health returns a basic health check
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.sessions != nil {
		n := h.sessions()
		response.Sessions = &n
	}
	writeJSON(w, http.StatusOK, response)
}

// Ready returns a readiness check including dependencies
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]string, len(h.checks))
	allHealthy := true

	for name, c := range h.checks {
		if err := c.HealthCheck(ctx); err != nil {
			services[name] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			services[name] = "healthy"
		}
	}

	status := "ok"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	})
}
