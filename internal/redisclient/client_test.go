package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return Wrap(rdb), mr
}

func TestIdempotencyKeyLifecycle(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	existing, err := c.ClaimIdempotencyKey(ctx, "k1", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, existing)

	_, err = c.ClaimIdempotencyKey(ctx, "k1", time.Hour)
	assert.ErrorIs(t, err, ErrIdempotencyInFlight)

	require.NoError(t, c.CompleteIdempotencyKey(ctx, "k1", "order-42", time.Hour))
	existing, err = c.ClaimIdempotencyKey(ctx, "k1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "order-42", existing)

	mr.FastForward(2 * time.Hour)
	existing, err = c.ClaimIdempotencyKey(ctx, "k1", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, existing, "expired key can be claimed again")
}

func TestForgetIdempotencyKey(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	_, err := c.ClaimIdempotencyKey(ctx, "k2", time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.ForgetIdempotencyKey(ctx, "k2"))

	existing, err := c.ClaimIdempotencyKey(ctx, "k2", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestOrderStatsProjection(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	applied, err := c.ApplyOrderCreated(ctx, "e1", "pending", 500)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = c.ApplyOrderCreated(ctx, "e1", "pending", 500)
	require.NoError(t, err)
	assert.False(t, applied, "duplicate delivery is ignored")

	_, err = c.ApplyOrderCreated(ctx, "e2", "pending", 300)
	require.NoError(t, err)
	_, err = c.ApplyOrderTransition(ctx, "e3", "pending", "confirmed", 500)
	require.NoError(t, err)
	_, err = c.ApplyOrderTransition(ctx, "e4", "pending", "cancelled", 300)
	require.NoError(t, err)

	stats, err := c.GetOrderStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.OrdersTotal)
	assert.Equal(t, int64(500), stats.Revenue)
	assert.Equal(t, int64(0), stats.ByStatus["pending"])
	assert.Equal(t, int64(1), stats.ByStatus["confirmed"])
	assert.Equal(t, int64(1), stats.ByStatus["cancelled"])
}

func TestEmptyStats(t *testing.T) {
	c, _ := setupTestRedis(t)

	stats, err := c.GetOrderStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.OrdersTotal)
	assert.Empty(t, stats.ByStatus)
}

func TestLockOwnership(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "relay", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireLock(ctx, "relay", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "relay", "b"))
	assert.True(t, mr.Exists("lock:relay"), "non-owner cannot release")

	require.NoError(t, c.ReleaseLock(ctx, "relay", "a"))
	assert.False(t, mr.Exists("lock:relay"))
}
