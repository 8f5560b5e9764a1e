package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultFreshWindow is the cache age below which no network call is
	// made.
	DefaultFreshWindow = 24 * time.Hour
	// DefaultGraceWindow is the cache age bound for offline grace when the
	// verifier is unreachable.
	DefaultGraceWindow = 48 * time.Hour

	// PurchaseURL is surfaced with fatal startup errors.
	PurchaseURL = "https://forgecli.dev/pricing"
)

// DecisionReason explains an authorization outcome.
type DecisionReason string

const (
	ReasonRemoteVerified DecisionReason = "remote_verified"
	ReasonCacheFresh     DecisionReason = "cache_fresh"
	ReasonOfflineGrace   DecisionReason = "offline_grace"
	ReasonLicenseExpired DecisionReason = "license_expired"
	ReasonOfflineDenied  DecisionReason = "offline_denied"
)

// AuthorizationDecision is one allow/deny outcome per request.
type AuthorizationDecision struct {
	Allowed      bool
	Entitlements *VerifiedEntitlements
	Reason       DecisionReason
}

// RemoteVerifier is the remote verification capability consumed by the
// engine.
type RemoteVerifier interface {
	Verify(ctx context.Context, token string) (*VerifiedEntitlements, error)
}

// EngineConfig configures the authorization decision engine.
type EngineConfig struct {
	FreshWindow time.Duration // defaults to DefaultFreshWindow
	GraceWindow time.Duration // defaults to DefaultGraceWindow
	// TierUnificationOverride short-circuits startup tier computation to
	// enterprise, bypassing authorization entirely. Default off; the
	// stakeholder decision behind it is recorded in DESIGN.md.
	TierUnificationOverride bool
	Now                     func() time.Time
	Logger                  *slog.Logger
}

// Engine combines local validation, remote verification and the persistent
// cache into one allow/deny plus effective-tier decision per request,
// applying fail-closed defaults: the tier never exceeds what the most recent
// successful cryptographic or remote verification proved.
type Engine struct {
	local    *Evaluator
	remote   RemoteVerifier // nil when no verifier is configured
	cache    *VerificationCache
	fresh    time.Duration
	grace    time.Duration
	override bool
	now      func() time.Time
	logger   *slog.Logger
	metrics  *Metrics
}

// NewEngine wires the decision engine. remote may be nil, in which case all
// decisions come from local cryptographic validation.
func NewEngine(local *Evaluator, remote RemoteVerifier, cache *VerificationCache, cfg EngineConfig) *Engine {
	e := &Engine{
		local:    local,
		remote:   remote,
		cache:    cache,
		fresh:    cfg.FreshWindow,
		grace:    cfg.GraceWindow,
		override: cfg.TierUnificationOverride,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}
	if e.fresh <= 0 {
		e.fresh = DefaultFreshWindow
	}
	if e.grace <= 0 {
		e.grace = DefaultGraceWindow
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With(slog.String("component", "license_engine"))
	return e
}

// SetMetrics attaches OpenTelemetry metrics to the engine.
func (e *Engine) SetMetrics(m *Metrics) {
	e.metrics = m
}

// RemoteConfigured reports whether a remote verifier is wired in.
func (e *Engine) RemoteConfigured() bool {
	return e.remote != nil
}

// AuthorizeToken runs the cache-age state machine for one token:
//
//	no cache          -> remote verify, persist, decide from verifier
//	age <= fresh      -> trust cache, no network call
//	cache expired     -> deny, regardless of age
//	otherwise         -> remote verify; on failure, offline grace iff the
//	                     cached record is valid, hash-bound to this token
//	                     and within the grace window
//
// A cached record for a different token is ignored entirely: token swap
// invalidates the cache.
func (e *Engine) AuthorizeToken(ctx context.Context, token string) (*AuthorizationDecision, error) {
	if e.remote == nil {
		return nil, errors.New("authorize: no remote verifier configured")
	}

	ctx, span := e.metrics.StartSpan(ctx, "license.authorize",
		attribute.String("token_hash", TokenHashHint(token)))
	defer span.End()

	now := e.now()
	hash := TokenHash(token)

	rec, err := e.cache.Load()
	if err != nil {
		e.logger.WarnContext(ctx, "verification cache unreadable",
			slog.String("error", err.Error()))
		rec = nil
	}
	if rec != nil && rec.LicenseHash != hash {
		rec = nil
	}

	if rec != nil {
		if now.Unix() >= rec.Exp {
			return e.decide(ctx, false, rec.Entitlements(), ReasonLicenseExpired), nil
		}
		if now.Sub(rec.LastVerifiedAt) <= e.fresh {
			return e.decide(ctx, rec.Valid, rec.Entitlements(), ReasonCacheFresh), nil
		}
	}

	ent, verr := e.remote.Verify(ctx, token)
	if verr == nil {
		if serr := e.cache.Save(ent, hash); serr != nil {
			e.logger.WarnContext(ctx, "failed to persist verification cache",
				slog.String("error", serr.Error()))
		}
		allowed := ent.Valid && now.Unix() < ent.Exp
		reason := ReasonRemoteVerified
		if ent.Valid && now.Unix() >= ent.Exp {
			reason = ReasonLicenseExpired
		}
		return e.decide(ctx, allowed, ent, reason), nil
	}

	e.logger.WarnContext(ctx, "remote verification unavailable",
		slog.String("token_hash", TokenHashHint(token)),
		slog.String("error", verr.Error()))

	if rec != nil && rec.Valid && now.Sub(rec.LastVerifiedAt) <= e.grace && now.Unix() < rec.Exp {
		return e.decide(ctx, true, rec.Entitlements(), ReasonOfflineGrace), nil
	}
	return e.decide(ctx, false, nil, ReasonOfflineDenied), nil
}

func (e *Engine) decide(ctx context.Context, allowed bool, ent *VerifiedEntitlements, reason DecisionReason) *AuthorizationDecision {
	dec := &AuthorizationDecision{Allowed: allowed, Entitlements: ent, Reason: reason}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Bool("allowed", allowed),
		attribute.String("reason", string(reason)))
	if e.metrics != nil {
		e.metrics.RecordDecision(ctx, dec)
	}
	e.logger.InfoContext(ctx, "authorization decision",
		slog.Bool("allowed", allowed),
		slog.String("reason", string(reason)))
	return dec
}

// EffectiveTierForStartup computes the tier the process runs at. An empty
// requested tier means "run at whatever is authorized". A paid requested
// tier must be substantiated; the one exception is a verifier-reported
// revocation, which downgrades to community with a warning instead of
// failing startup.
func (e *Engine) EffectiveTierForStartup(ctx context.Context, requested Tier) (Tier, string, error) {
	if e.override {
		e.logger.WarnContext(ctx, "tier unification override active, authorization bypassed")
		return TierEnterprise, "", nil
	}

	if requested != "" {
		if _, err := ParseTier(string(requested)); err != nil {
			return TierCommunity, "", fmt.Errorf("invalid requested tier %q", requested)
		}
	}

	licensed, warning := e.licensedTier(ctx)

	if requested == "" {
		return licensed, warning, nil
	}

	if requested.Rank() > licensed.Rank() {
		if warning != "" {
			// Revocation or in-grace expiry downgrades instead of aborting.
			return TierCommunity, warning, nil
		}
		return TierCommunity, "", fmt.Errorf(
			"%w: %s requested but license grants %s; purchase or renew at %s",
			ErrTierNotLicensed, requested, licensed, PurchaseURL)
	}
	return MinTier(requested, licensed), warning, nil
}

// licensedTier resolves the tier the current license substantiates, plus an
// optional operator-facing warning for soft downgrades.
func (e *Engine) licensedTier(ctx context.Context) (Tier, string) {
	if e.remote == nil {
		res := e.local.Validate(ctx)
		if res.IsValid {
			return res.Tier, ""
		}
		if res.IsInGracePeriod {
			return TierCommunity, fmt.Sprintf(
				"license expired %d day(s) ago; renew at %s to keep %s features",
				-res.DaysUntilExpiration, PurchaseURL, res.Tier)
		}
		return TierCommunity, ""
	}

	token, err := e.local.LoadLicenseToken()
	if err != nil {
		e.logger.WarnContext(ctx, "license token unreadable", slog.String("error", err.Error()))
		return TierCommunity, ""
	}
	if token == "" {
		return TierCommunity, ""
	}

	dec, err := e.AuthorizeToken(ctx, token)
	if err != nil {
		return TierCommunity, ""
	}
	if dec.Entitlements != nil && strings.Contains(strings.ToLower(dec.Entitlements.Error), "revoked") {
		return TierCommunity, "license revoked by verifier; running at community tier"
	}
	if dec.Allowed && dec.Entitlements != nil {
		return dec.Entitlements.Tier, ""
	}
	return TierCommunity, ""
}
