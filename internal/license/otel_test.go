package license

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingMetrics(t *testing.T) (*Metrics, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	metrics, err := InitializeMetrics(sdkmetric.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	metrics.Tracer = tp.Tracer(MeterName)
	return metrics, recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestEngine_AuthorizeEmitsSpan(t *testing.T) {
	ctx := context.Background()
	metrics, recorder := newRecordingMetrics(t)

	verifier := &fakeVerifier{}
	fx := newEngineFixture(t, &countingValidator{}, verifier)
	verifier.ent = &VerifiedEntitlements{Valid: true, Exp: fx.farExp(), Tier: TierPro}
	fx.engine.SetMetrics(metrics)

	_, err := fx.engine.AuthorizeToken(ctx, "the-token")
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "license.authorize", span.Name())

	hash, ok := spanAttr(span, "token_hash")
	require.True(t, ok)
	// Spans carry the hash hint, never the token.
	assert.Equal(t, TokenHashHint("the-token"), hash.AsString())

	reason, ok := spanAttr(span, "reason")
	require.True(t, ok)
	assert.Equal(t, string(ReasonRemoteVerified), reason.AsString())

	allowed, ok := spanAttr(span, "allowed")
	require.True(t, ok)
	assert.True(t, allowed.AsBool())
}

func TestClient_VerifyEmitsSpan(t *testing.T) {
	metrics, recorder := newRecordingMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.SetMetrics(metrics)

	_, err := c.Verify(context.Background(), "the-token")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "license.remote_verify", span.Name())

	kind, ok := spanAttr(span, "error_kind")
	require.True(t, ok)
	assert.Equal(t, "network", kind.AsString())
	assert.NotEmpty(t, span.Events())
}

func TestMetrics_StartSpanNilSafe(t *testing.T) {
	var m *Metrics
	ctx, span := m.StartSpan(context.Background(), "anything")
	assert.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()

	withoutTracer := &Metrics{}
	_, span = withoutTracer.StartSpan(context.Background(), "anything")
	require.NotNil(t, span)
	span.End()
}
