package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forgecli/internal/middleware"
)

// RouterConfig carries the dependencies of the local status server.
type RouterConfig struct {
	LicenseService LicenseReader
	Registry       *prometheus.Registry
	Logger         *slog.Logger
	Version        string
}

// NewRouter assembles the local status API: license introspection, health
// and metrics. It binds no business logic of its own.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.StructuredLogger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger))
	r.Use(chimiddleware.Timeout(30 * time.Second))

	licenseHandler := NewLicenseHandler(cfg.LicenseService, cfg.Logger)
	healthHandler := NewHealthHandler(cfg.LicenseService, cfg.Logger, cfg.Version)

	r.Route("/api", func(r chi.Router) {
		r.Mount("/license", licenseHandler.Routes())
	})
	r.Get("/healthz", healthHandler.Healthz)

	if cfg.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	return r
}
