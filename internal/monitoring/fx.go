package monitoring

import (
	"github.com/smajobb/marketplace/internal/monitoring/domain"
	"github.com/smajobb/marketplace/internal/monitoring/repository"
	monitoringservice "github.com/smajobb/marketplace/internal/monitoring/service"
	"github.com/smajobb/marketplace/internal/monitoring/telemetry"
	"go.uber.org/fx"
)

var Module = fx.Module("monitoring.service",
	fx.Provide(repository.Provide),
	fx.Provide(
		fx.Annotate(telemetry.NewSource, fx.As(new(telemetry.Source))),
	),
	fx.Provide(telemetry.NewRequestRecorder),
	fx.Provide(monitoringservice.NewService),
	fx.Provide(func(s *monitoringservice.Service) domain.Service { return s }),
)
