package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 8*time.Second, bucketTTL(10, 40))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 10))
}

func TestParseScriptResult(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		res, err := parseScriptResult([]any{int64(1), "12.5", int64(1700000000000)}, 10, 40)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 40, res.Limit)
		assert.Equal(t, 12, res.Remaining)
		assert.Zero(t, res.RetryAfter)
	})

	t.Run("denied waits for one token", func(t *testing.T) {
		res, err := parseScriptResult([]any{int64(0), "0.5", int64(1700000000000)}, 2, 4)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
		assert.Equal(t, 250*time.Millisecond, res.RetryAfter)
	})

	t.Run("short response", func(t *testing.T) {
		_, err := parseScriptResult([]any{int64(1)}, 1, 1)
		assert.Error(t, err)
	})
}

func TestNilClients(t *testing.T) {
	ctx := context.Background()

	assert.Nil(t, NewTokenBucket(nil))
	assert.Nil(t, NewLocker(nil))

	var bucket *TokenBucket
	_, err := bucket.Allow(ctx, "k", 1, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)

	var locker *Locker
	_, ok, err := locker.TryLock(ctx, "k", time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, locker.Release(ctx, "k", "token"))
}

func TestUserLimiterDisabled(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{RequestsPerSecond: 10, Burst: 20}}
	assert.Nil(t, NewUserLimiter(cfg, nil))

	var limiter *UserLimiter
	res, err := limiter.Allow(context.Background(), snowflake.ID(7))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
