package ratelimit

import (
	"context"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smajobb/marketplace/internal/config"
)

const userKeyPrefix = "smajobb:ratelimit:user:"

// UserLimiter throttles authenticated API calls per acting user.
type UserLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewUserLimiter returns nil when redis is absent or the limit is switched off.
func NewUserLimiter(cfg config.Config, client *redis.Client) *UserLimiter {
	limit := cfg.RateLimit
	if client == nil || !limit.Enabled() {
		return nil
	}
	return &UserLimiter{
		bucket: NewTokenBucket(client),
		rate:   limit.RequestsPerSecond,
		burst:  limit.Burst,
	}
}

func (l *UserLimiter) Allow(ctx context.Context, userID snowflake.ID) (Result, error) {
	if l == nil {
		return Result{Allowed: true}, nil
	}
	if userID == 0 {
		return Result{}, ErrInvalidKey
	}
	return l.bucket.Allow(ctx, userKeyPrefix+userID.String(), l.rate, l.burst)
}
