package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// HealthHandler reports process liveness and a license state summary.
type HealthHandler struct {
	service LicenseReader
	logger  *slog.Logger
	version string
	started time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(service LicenseReader, logger *slog.Logger, version string) *HealthHandler {
	return &HealthHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "health")),
		version: version,
		started: time.Now(),
	}
}

type healthResponse struct {
	Status           string  `json:"status"`
	Version          string  `json:"version"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	LicenseTier      string  `json:"license_tier"`
	LicenseValid     bool    `json:"license_valid"`
	RemoteConfigured bool    `json:"remote_configured"`
}

// Healthz handles GET /healthz. The process is healthy even without a
// license; the tier field tells the rest of the story.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:           "ok",
		Version:          h.version,
		UptimeSeconds:    time.Since(h.started).Seconds(),
		RemoteConfigured: h.service.RemoteConfigured(),
	}
	if status, err := h.service.Status(r.Context()); err == nil {
		resp.LicenseTier = status.Tier
		resp.LicenseValid = status.Valid
	}
	render.JSON(w, r, resp)
}
