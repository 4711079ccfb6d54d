package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Minute)
}

func TestReserve_FirstCallWins(t *testing.T) {
	c := newTestCache(t)
	bound, reserved, err := c.Reserve(context.Background(), "key1", "exec1")
	require.NoError(t, err)
	assert.True(t, reserved)
	assert.Equal(t, "exec1", bound)
}

func TestReserve_SecondCallSeesBoundExecution(t *testing.T) {
	c := newTestCache(t)
	_, _, err := c.Reserve(context.Background(), "key1", "exec1")
	require.NoError(t, err)

	bound, reserved, err := c.Reserve(context.Background(), "key1", "exec2")
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Equal(t, "exec1", bound)
}

func TestRelease_AllowsReReservation(t *testing.T) {
	c := newTestCache(t)
	_, _, err := c.Reserve(context.Background(), "key1", "exec1")
	require.NoError(t, err)
	require.NoError(t, c.Release(context.Background(), "key1"))

	bound, reserved, err := c.Reserve(context.Background(), "key1", "exec2")
	require.NoError(t, err)
	assert.True(t, reserved)
	assert.Equal(t, "exec2", bound)
}

func TestReserve_DistinctKeysDoNotCollide(t *testing.T) {
	c := newTestCache(t)
	_, r1, err := c.Reserve(context.Background(), "key1", "exec1")
	require.NoError(t, err)
	_, r2, err := c.Reserve(context.Background(), "key2", "exec2")
	require.NoError(t, err)
	assert.True(t, r1)
	assert.True(t, r2)
}
