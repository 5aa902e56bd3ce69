package scheduler

import (
	"context"

	"github.com/smajobb/marketplace/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(provideJobLocker),
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

type lockerParams struct {
	fx.In

	Locker *ratelimit.Locker `optional:"true"`
}

// provideJobLocker keeps the interface nil when no redis locker exists.
func provideJobLocker(p lockerParams) JobLocker {
	if p.Locker == nil {
		return nil
	}
	return p.Locker
}

func NewScheduler(lc fx.Lifecycle, sched *Scheduler) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan struct{})

			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			if cancel == nil {
				return nil
			}
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
