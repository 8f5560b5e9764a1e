package services

import (
	"context"
	"log/slog"
	"time"

	"forgecli/internal/license"
)

// LicenseStatusResponse is the transport-facing view of license state. The
// token never appears in full.
type LicenseStatusResponse struct {
	Tier                string    `json:"tier"`
	Valid               bool      `json:"valid"`
	Expired             bool      `json:"expired"`
	InGracePeriod       bool      `json:"in_grace_period"`
	DaysUntilExpiration int       `json:"days_until_expiration"`
	CustomerID          string    `json:"customer_id,omitempty"`
	Organization        string    `json:"organization,omitempty"`
	Seats               int       `json:"seats,omitempty"`
	Features            []string  `json:"features,omitempty"`
	TokenMasked         string    `json:"token_masked,omitempty"`
	LicensePath         string    `json:"license_path,omitempty"`
	Message             string    `json:"message,omitempty"`
	RemoteConfigured    bool      `json:"remote_configured"`
	CheckedAt           time.Time `json:"checked_at"`
}

// LicenseService exposes entitlement state to the transport layer.
type LicenseService struct {
	evaluator *license.Evaluator
	engine    *license.Engine
	logger    *slog.Logger
}

// NewLicenseService wires the service over the entitlement core.
func NewLicenseService(evaluator *license.Evaluator, engine *license.Engine, logger *slog.Logger) *LicenseService {
	return &LicenseService{
		evaluator: evaluator,
		engine:    engine,
		logger:    logger.With(slog.String("service", "license")),
	}
}

// Status reports the locally validated license state.
func (s *LicenseService) Status(ctx context.Context) (*LicenseStatusResponse, error) {
	res := s.evaluator.Validate(ctx)

	resp := &LicenseStatusResponse{
		Tier:                string(res.Tier),
		Valid:               res.IsValid,
		Expired:             res.IsExpired,
		InGracePeriod:       res.IsInGracePeriod,
		DaysUntilExpiration: res.DaysUntilExpiration,
		CustomerID:          res.CustomerID,
		Organization:        res.Organization,
		Seats:               res.Seats,
		Features:            res.Features,
		LicensePath:         s.evaluator.LicensePath(),
		Message:             res.ErrorMessage,
		RemoteConfigured:    s.engine.RemoteConfigured(),
		CheckedAt:           time.Now().UTC(),
	}
	if token, err := s.evaluator.LoadLicenseToken(); err == nil && token != "" {
		resp.TokenMasked = license.MaskToken(token)
	}
	return resp, nil
}

// Authorize runs a full authorization decision against the remote verifier
// and persistent cache. Returns license.ErrNoLicense when no token is
// installed.
func (s *LicenseService) Authorize(ctx context.Context) (*license.AuthorizationDecision, error) {
	token, err := s.evaluator.LoadLicenseToken()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, license.ErrNoLicense
	}
	return s.engine.AuthorizeToken(ctx, token)
}

// Refresh drops the revalidation cache and re-runs local validation,
// picking up an edited or replaced license file immediately.
func (s *LicenseService) Refresh(ctx context.Context) (*LicenseStatusResponse, error) {
	s.evaluator.Invalidate()
	s.logger.InfoContext(ctx, "license revalidation forced")
	return s.Status(ctx)
}

// RemoteConfigured reports whether remote verification is enabled.
func (s *LicenseService) RemoteConfigured() bool {
	return s.engine.RemoteConfigured()
}
