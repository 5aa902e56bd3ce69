package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/internal/clock"
	"github.com/smajobb/marketplace/internal/config"
	"github.com/smajobb/marketplace/internal/marketplace"
	"github.com/smajobb/marketplace/internal/monitoring"
	"github.com/smajobb/marketplace/internal/notification"
	"github.com/smajobb/marketplace/internal/observability"
	"github.com/smajobb/marketplace/internal/ratelimit"
	"github.com/smajobb/marketplace/internal/scheduler"
	"github.com/smajobb/marketplace/pkg/db"
	"github.com/smajobb/marketplace/pkg/redis"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		redis.Module,
		ratelimit.Module,
		clock.Module,

		// Services required by the poller jobs
		marketplace.Module,
		notification.Module,
		monitoring.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
