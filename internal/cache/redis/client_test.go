package redis

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient connects to MEDCONTENT_TEST_REDIS_PORT on localhost, db 15.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	raw := os.Getenv("MEDCONTENT_TEST_REDIS_PORT")
	if raw == "" {
		t.Skip("MEDCONTENT_TEST_REDIS_PORT not set")
	}
	port, err := strconv.Atoi(raw)
	require.NoError(t, err)

	c, err := NewClient(context.Background(), "localhost", port, "", 15, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEmbeddingRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.GetEmbedding(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetEmbedding(ctx, "k1", []float32{0.25, -1}))
	vec, ok, err := c.GetEmbedding(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.25, -1}, vec)

	removed, err := c.InvalidateEmbeddings(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, 1)

	_, ok, err = c.GetEmbedding(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}
