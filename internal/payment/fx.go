package payment

import (
	paymentdomain "github.com/smallbiznis/leadcore/internal/payment/domain"
	"github.com/smallbiznis/leadcore/internal/payment/repository"
	paymentservice "github.com/smallbiznis/leadcore/internal/payment/service"
	"github.com/smallbiznis/leadcore/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(paymentservice.NewService),
	fx.Provide(func(s *paymentservice.Service) paymentdomain.Service { return s }),
	fx.Provide(webhook.NewService),
)
