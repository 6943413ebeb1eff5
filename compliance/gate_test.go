package compliance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticGate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewStaticGate("mallory")

	ok, err := g.IsPermitted(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.IsPermitted(ctx, "mallory")
	require.NoError(t, err)
	assert.False(t, ok)

	g.Block("alice")
	ok, _ = g.IsPermitted(ctx, "alice")
	assert.False(t, ok)

	g.Unblock("mallory")
	ok, _ = g.IsPermitted(ctx, "mallory")
	assert.True(t, ok)
}

func TestStaticGateCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := NewStaticGate().IsPermitted(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}
