package payment

import (
	"github.com/smajobb/marketplace/internal/payment/domain"
	"github.com/smajobb/marketplace/internal/payment/repository"
	paymentservice "github.com/smajobb/marketplace/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(paymentservice.NewService),
	fx.Provide(func(s *paymentservice.Service) domain.Service { return s }),
)
