package web

// handlers_health.go answers liveness probes. The response carries the
// import limiter occupancy so an operator can see at a glance whether the
// service is saturated with running imports.

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/casevault/importer/internal/schema"
)

// handleHealth reports service health. A failing store ping degrades the
// status to 503 but the process itself is still alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			slog.Error("store ping failed", "error", err.Error())
		}
	}

	writeJSON(w, code, map[string]any{
		"status":      status,
		"imports":     s.service.Limiter().Status(),
		"entityTypes": schema.Count(),
	})
}
