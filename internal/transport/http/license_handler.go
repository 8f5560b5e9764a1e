package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "forgecli/internal/errors"
	"forgecli/internal/license"
	"forgecli/internal/services"
)

// LicenseReader is the service surface the handler consumes.
type LicenseReader interface {
	Status(ctx context.Context) (*services.LicenseStatusResponse, error)
	Authorize(ctx context.Context) (*license.AuthorizationDecision, error)
	Refresh(ctx context.Context) (*services.LicenseStatusResponse, error)
	RemoteConfigured() bool
}

// LicenseHandler serves the tool's local license introspection endpoints.
// It is not the verifier service; it only reads state the entitlement core
// already holds.
type LicenseHandler struct {
	service LicenseReader
	logger  *slog.Logger
}

// NewLicenseHandler creates a license handler.
func NewLicenseHandler(service LicenseReader, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the chi router for license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/status", h.GetStatus)
	r.Get("/entitlements", h.GetEntitlements)
	r.Post("/refresh", h.Refresh)

	return r
}

// entitlementsResponse is the wire form of an authorization decision.
type entitlementsResponse struct {
	Allowed      bool     `json:"allowed"`
	Reason       string   `json:"reason"`
	Tier         string   `json:"tier,omitempty"`
	Features     []string `json:"features,omitempty"`
	CustomerID   string   `json:"customer_id,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Seats        int      `json:"seats,omitempty"`
	Exp          int64    `json:"exp,omitempty"`
}

// GetStatus handles GET /api/license/status.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := h.service.Status(ctx)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, status)
}

// GetEntitlements handles GET /api/license/entitlements, running a full
// authorization decision through the verifier and persistent cache.
func (h *LicenseHandler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.service.RemoteConfigured() {
		render.Render(w, r, apierrors.New(http.StatusConflict, "REMOTE_NOT_CONFIGURED",
			"No remote verifier is configured; see /api/license/status for local state"))
		return
	}

	dec, err := h.service.Authorize(ctx)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	resp := entitlementsResponse{
		Allowed: dec.Allowed,
		Reason:  string(dec.Reason),
	}
	if ent := dec.Entitlements; ent != nil {
		resp.Tier = string(ent.Tier)
		resp.Features = ent.Features
		resp.CustomerID = ent.CustomerID
		resp.Organization = ent.Organization
		resp.Seats = ent.Seats
		resp.Exp = ent.Exp
	}
	render.JSON(w, r, resp)
}

// Refresh handles POST /api/license/refresh, forcing revalidation of the
// license file.
func (h *LicenseHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := h.service.Refresh(ctx)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, status)
}

func (h *LicenseHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierrors.FromLicenseError(err)
	h.logger.ErrorContext(r.Context(), "license request failed",
		slog.String("code", apiErr.ErrorCode),
		slog.String("error", err.Error()))
	render.Render(w, r, apiErr)
}
