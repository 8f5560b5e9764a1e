package license

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultRevalidationTTL bounds how long a validation result is reused
// without re-running cryptographic verification on an unchanged license file.
const DefaultRevalidationTTL = 24 * time.Hour

// defaultLicensePaths are the well-known project-relative locations checked
// in order when no explicit path is configured.
var defaultLicensePaths = []string{
	filepath.Join(".forgecli", "license.jwt"),
	"forgecli-license.jwt",
}

// TokenValidator is the offline validation capability consumed by the
// evaluator.
type TokenValidator interface {
	ValidateToken(token string) *LocalValidationResult
}

// EvaluatorConfig configures license discovery and the revalidation cache.
type EvaluatorConfig struct {
	LicensePath string        // explicit override; empty enables discovery
	TTL         time.Duration // defaults to DefaultRevalidationTTL
	Now         func() time.Time
	Logger      *slog.Logger
}

// Evaluator wraps a token validator with license file discovery and a
// short-TTL revalidation cache keyed by the file's content fingerprint.
// The cache is an optimization only: any byte change to the license file
// forces immediate revalidation, and a cached result is never served past
// the TTL, so it cannot extend validity beyond what a fresh run produces.
type Evaluator struct {
	validator TokenValidator
	path      string
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger
	metrics   *Metrics

	mu          sync.Mutex
	cached      *LocalValidationResult
	cachedAt    time.Time
	fingerprint string
}

// NewEvaluator creates an evaluator over the given validator.
func NewEvaluator(v TokenValidator, cfg EvaluatorConfig) *Evaluator {
	e := &Evaluator{
		validator: v,
		path:      cfg.LicensePath,
		ttl:       cfg.TTL,
		now:       cfg.Now,
		logger:    cfg.Logger,
	}
	if e.ttl <= 0 {
		e.ttl = DefaultRevalidationTTL
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With(slog.String("component", "license_evaluator"))
	return e
}

// SetMetrics attaches OpenTelemetry metrics to the evaluator.
func (e *Evaluator) SetMetrics(m *Metrics) {
	e.metrics = m
}

// LoadLicenseToken returns the installed license token, or "" when none is
// found. A missing file is not an error; read failures are.
func (e *Evaluator) LoadLicenseToken() (string, error) {
	path := e.resolvePath()
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read license file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// LicensePath returns the resolved license file path, or "" when none exists.
func (e *Evaluator) LicensePath() string {
	return e.resolvePath()
}

func (e *Evaluator) resolvePath() string {
	if e.path != "" {
		if _, err := os.Stat(e.path); err == nil {
			return e.path
		}
		return ""
	}
	for _, p := range defaultLicensePaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate returns the current local validation result, using the
// revalidation cache when the license file is unchanged and the TTL has not
// elapsed.
func (e *Evaluator) Validate(ctx context.Context) *LocalValidationResult {
	path := e.resolvePath()
	if path == "" {
		return &LocalValidationResult{Tier: TierCommunity, ErrorMessage: "no license file found"}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		e.logger.WarnContext(ctx, "license file became unreadable",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return &LocalValidationResult{Tier: TierCommunity, ErrorMessage: fmt.Sprintf("read license file: %v", err)}
	}
	fp := fileFingerprint(path, data)

	e.mu.Lock()
	if e.cached != nil && e.fingerprint == fp && e.now().Sub(e.cachedAt) < e.ttl {
		res := e.cached
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.RecordRevalidationCacheHit(ctx)
		}
		return res
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordRevalidationCacheMiss(ctx)
	}

	token := strings.TrimSpace(string(data))
	start := time.Now()
	res := e.validator.ValidateToken(token)
	if e.metrics != nil {
		e.metrics.RecordValidation(ctx, res, time.Since(start))
	}

	e.logger.InfoContext(ctx, "license validated",
		slog.String("token_hash", TokenHashHint(token)),
		slog.Bool("valid", res.IsValid),
		slog.Bool("expired", res.IsExpired),
		slog.Bool("in_grace", res.IsInGracePeriod),
		slog.String("tier", string(res.Tier)))

	e.mu.Lock()
	e.cached = res
	e.cachedAt = e.now()
	e.fingerprint = fp
	e.mu.Unlock()

	return res
}

// CurrentTier returns the tier substantiated by the installed license, or
// community when no valid license is present. Expiry, even within grace,
// never grants a paid tier through this path.
func (e *Evaluator) CurrentTier(ctx context.Context) Tier {
	res := e.Validate(ctx)
	if res.IsValid {
		return res.Tier
	}
	return TierCommunity
}

// Invalidate drops the revalidation cache, forcing the next call to re-run
// cryptographic verification.
func (e *Evaluator) Invalidate() {
	e.mu.Lock()
	e.cached = nil
	e.fingerprint = ""
	e.mu.Unlock()
}

// fileFingerprint identifies the exact content of the license file. Size and
// mtime catch in-place edits cheaply; the content hash catches everything
// else.
func fileFingerprint(path string, data []byte) string {
	var mtime int64
	if info, err := os.Stat(path); err == nil {
		mtime = info.ModTime().UnixNano()
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%d:%d:%x", len(data), mtime, sum[:8])
}
