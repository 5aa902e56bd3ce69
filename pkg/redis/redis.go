package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smajobb/marketplace/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	pingAttempts = 5
	pingBackoff  = 3 * time.Second
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

// New returns nil when no redis address is configured; consumers fall back to
// in-process delivery.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if !cfg.Redis.Enabled() {
		log.Info("redis disabled")
		return nil
	}

	log = log.Named("redis").With(
		zap.String("addr", cfg.Redis.Addr),
		zap.Int("db", cfg.Redis.DB),
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			for i := 0; i < pingAttempts; i++ {
				if err = rdb.Ping(ctx).Err(); err == nil {
					log.Info("connected to redis")
					return nil
				}
				log.Warn("redis not ready, retrying", zap.Int("retry", i+1), zap.Error(err))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(pingBackoff):
				}
			}
			// Realtime push degrades to best effort; startup continues.
			log.Error("redis unreachable", zap.Error(err))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return rdb
}
