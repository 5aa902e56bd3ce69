package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/internal/audit"
	"github.com/smajobb/marketplace/internal/authorization"
	"github.com/smajobb/marketplace/internal/clock"
	"github.com/smajobb/marketplace/internal/config"
	"github.com/smajobb/marketplace/internal/marketplace"
	"github.com/smajobb/marketplace/internal/monitoring"
	"github.com/smajobb/marketplace/internal/notification"
	"github.com/smajobb/marketplace/internal/observability"
	"github.com/smajobb/marketplace/internal/payment"
	"github.com/smajobb/marketplace/internal/providers/pdf"
	"github.com/smajobb/marketplace/internal/ratelimit"
	"github.com/smajobb/marketplace/internal/server"
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

		marketplace.Module,
		authorization.Module,
		audit.Module,
		notification.Module,
		payment.Module,
		// Admin health and error endpoints read through the monitoring service.
		monitoring.Module,
		pdf.Module,

		// No scheduler: pollers run in apps/monitor.
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
