package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// MeterName identifies this package's instruments.
const MeterName = "license-engine"

// Metrics holds the license-specific OpenTelemetry instruments. All record
// helpers are nil-safe at the call sites: components only record when a
// Metrics has been attached.
type Metrics struct {
	Validations        metric.Int64Counter
	ValidationDuration metric.Float64Histogram

	RevalidationCacheHits   metric.Int64Counter
	RevalidationCacheMisses metric.Int64Counter

	RemoteCalls        metric.Int64Counter
	RemoteCallDuration metric.Float64Histogram

	Decisions metric.Int64Counter

	// Tracer emits spans around remote verification and authorization
	// decisions. Optional; left nil, spans are no-ops.
	Tracer trace.Tracer
}

// InitializeMetrics creates the license instruments on the given meter.
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Validations, err = meter.Int64Counter(
		"license_validations_total",
		metric.WithDescription("Total local license token validations by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("create validations counter: %w", err)
	}

	m.ValidationDuration, err = meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("Local license validation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create validation duration histogram: %w", err)
	}

	m.RevalidationCacheHits, err = meter.Int64Counter(
		"license_revalidation_cache_hits_total",
		metric.WithDescription("Validation results served from the revalidation cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("create revalidation cache hits counter: %w", err)
	}

	m.RevalidationCacheMisses, err = meter.Int64Counter(
		"license_revalidation_cache_misses_total",
		metric.WithDescription("Validation calls that re-ran cryptographic verification"),
	)
	if err != nil {
		return nil, fmt.Errorf("create revalidation cache misses counter: %w", err)
	}

	m.RemoteCalls, err = meter.Int64Counter(
		"license_remote_verifications_total",
		metric.WithDescription("Remote verifier calls by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create remote calls counter: %w", err)
	}

	m.RemoteCallDuration, err = meter.Float64Histogram(
		"license_remote_verification_duration_seconds",
		metric.WithDescription("Remote verifier call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create remote call duration histogram: %w", err)
	}

	m.Decisions, err = meter.Int64Counter(
		"license_authorization_decisions_total",
		metric.WithDescription("Authorization decisions by reason and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create decisions counter: %w", err)
	}

	return m, nil
}

// StartSpan opens a span when a tracer is attached, otherwise a no-op span.
// Safe on a nil receiver so call sites need no metrics check.
func (m *Metrics) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if m == nil || m.Tracer == nil {
		return noop.NewTracerProvider().Tracer(MeterName).Start(ctx, name)
	}
	return m.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordValidation records one local validation outcome.
func (m *Metrics) RecordValidation(ctx context.Context, res *LocalValidationResult, d time.Duration) {
	result := "valid"
	switch {
	case res.IsValid:
	case res.IsInGracePeriod:
		result = "grace"
	case res.IsExpired:
		result = "expired"
	default:
		result = "invalid"
	}
	m.Validations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	m.ValidationDuration.Record(ctx, d.Seconds())
}

// RecordRevalidationCacheHit counts a validation served from cache.
func (m *Metrics) RecordRevalidationCacheHit(ctx context.Context) {
	m.RevalidationCacheHits.Add(ctx, 1)
}

// RecordRevalidationCacheMiss counts a validation that hit the validator.
func (m *Metrics) RecordRevalidationCacheMiss(ctx context.Context) {
	m.RevalidationCacheMisses.Add(ctx, 1)
}

// RecordRemoteCall records one verifier call attempt.
func (m *Metrics) RecordRemoteCall(ctx context.Context, verr *VerifyError, d time.Duration) {
	outcome := "success"
	if verr != nil {
		outcome = verr.Kind.String()
	}
	m.RemoteCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.RemoteCallDuration.Record(ctx, d.Seconds())
}

// RecordDecision records one authorization decision.
func (m *Metrics) RecordDecision(ctx context.Context, dec *AuthorizationDecision) {
	m.Decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", string(dec.Reason)),
		attribute.Bool("allowed", dec.Allowed),
	))
}
