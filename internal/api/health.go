package api

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultHealthCheckTimeout bounds all dependency checks of one request.
const defaultHealthCheckTimeout = 5 * time.Second

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports the status of the API and its dependencies.
type HealthHandler struct {
	checks  map[string]HealthCheck
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler running checks by name.
func NewHealthHandler(checks map[string]HealthCheck, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = defaultHealthCheckTimeout
	}
	return &HealthHandler{checks: checks, timeout: timeout}
}

// Health serves GET /api/health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := map[string]string{"api": "ok"}
	statusCode := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			slog.Error("Health check failed", "check", name, "error", err)
			checks[name] = "unreachable"
			statusCode = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	status := "healthy"
	if statusCode != http.StatusOK {
		status = "degraded"
	}
	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
