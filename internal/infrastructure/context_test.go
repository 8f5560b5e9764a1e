package infrastructure

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceIDPropagation(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-123")
	assert.Equal(t, "trace-123", TraceIDFromContext(ctx))

	assert.Empty(t, TraceIDFromContext(context.Background()))
}

func TestEnsureTraceID(t *testing.T) {
	t.Run("generates when absent", func(t *testing.T) {
		ctx := EnsureTraceID(context.Background())
		assert.NotEmpty(t, TraceIDFromContext(ctx))
	})

	t.Run("keeps existing", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "keep-me")
		ctx = EnsureTraceID(ctx)
		assert.Equal(t, "keep-me", TraceIDFromContext(ctx))
	})
}

func TestGenerateTraceID_Unique(t *testing.T) {
	assert.NotEqual(t, GenerateTraceID(), GenerateTraceID())
}
