package payment

import (
	"github.com/smallbiznis/creditcore/internal/payment/adapters"
	"github.com/smallbiznis/creditcore/internal/payment/domain"
	"github.com/smallbiznis/creditcore/internal/payment/repository"
	paymentservice "github.com/smallbiznis/creditcore/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(adapters.NewDefaultRegistry),
	fx.Provide(
		fx.Annotate(
			adapters.NewGateways,
			fx.As(new(domain.GatewayResolver)),
		),
	),
	fx.Provide(paymentservice.NewService),
)
