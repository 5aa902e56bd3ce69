package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smajobb/marketplace/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(provideUserLimiter),
	fx.Provide(provideLocker),
)

type redisParams struct {
	fx.In

	Config config.Config
	Redis  *redis.Client `optional:"true"`
}

func provideUserLimiter(p redisParams) *UserLimiter {
	return NewUserLimiter(p.Config, p.Redis)
}

func provideLocker(p redisParams) *Locker {
	return NewLocker(p.Redis)
}
