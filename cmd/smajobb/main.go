package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/internal/audit"
	"github.com/smajobb/marketplace/internal/authorization"
	"github.com/smajobb/marketplace/internal/clock"
	"github.com/smajobb/marketplace/internal/config"
	"github.com/smajobb/marketplace/internal/marketplace"
	"github.com/smajobb/marketplace/internal/migration"
	"github.com/smajobb/marketplace/internal/monitoring"
	"github.com/smajobb/marketplace/internal/notification"
	"github.com/smajobb/marketplace/internal/observability"
	"github.com/smajobb/marketplace/internal/payment"
	"github.com/smajobb/marketplace/internal/providers/pdf"
	"github.com/smajobb/marketplace/internal/ratelimit"
	"github.com/smajobb/marketplace/internal/scheduler"
	"github.com/smajobb/marketplace/internal/server"
	"github.com/smajobb/marketplace/pkg/db"
	"github.com/smajobb/marketplace/pkg/redis"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		redis.Module,
		ratelimit.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		marketplace.Module,
		authorization.Module,
		audit.Module,
		notification.Module,
		payment.Module,
		monitoring.Module,

		pdf.Module,
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
