package requestid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWith_RoundTrip(t *testing.T) {
	ctx := With(context.Background(), "req-123")
	assert.Equal(t, "req-123", FromContext(ctx))
}

func TestFromContext_GeneratesWhenMissing(t *testing.T) {
	id := FromContext(context.Background())
	assert.NotEmpty(t, id)
	// A fresh context yields a fresh ID each time.
	assert.NotEqual(t, id, FromContext(context.Background()))
}

func TestNew(t *testing.T) {
	ctx, id := New(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))
}
