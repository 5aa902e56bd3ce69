package notification

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/smajobb/marketplace/internal/notification/domain"
	"github.com/smajobb/marketplace/internal/notification/realtime"
	"github.com/smajobb/marketplace/internal/notification/repository"
	notificationservice "github.com/smajobb/marketplace/internal/notification/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification.service",
	fx.Provide(repository.Provide),
	fx.Provide(realtime.NewHub),
	fx.Provide(providePusher),
	fx.Provide(notificationservice.NewService),
	fx.Provide(
		func(s *notificationservice.Service) domain.Service { return s },
		func(s *notificationservice.Service) domain.Notifier { return s },
		func(s *notificationservice.Service) domain.AdminNotifier { return s },
	),
	fx.Invoke(startRelay),
)

type pusherParams struct {
	fx.In

	Hub   *realtime.Hub
	Redis *redis.Client `optional:"true"`
}

// providePusher publishes through redis when it is configured so every API
// instance sees the frame; otherwise frames go straight to the local hub.
func providePusher(p pusherParams) realtime.Pusher {
	if p.Redis == nil {
		return p.Hub
	}
	return realtime.NewRedisPusher(p.Redis, realtime.DefaultChannel)
}

type relayParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Hub       *realtime.Hub
	Redis     *redis.Client `optional:"true"`
	Log       *zap.Logger
}

func startRelay(p relayParams) {
	if p.Redis == nil {
		return
	}
	relay := realtime.NewRedisRelay(p.Redis, realtime.DefaultChannel, p.Hub, p.Log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := relay.Run(ctx); err != nil {
					p.Log.Error("notification relay stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
