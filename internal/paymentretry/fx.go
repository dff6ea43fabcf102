package paymentretry

import (
	"github.com/smallbiznis/recurra/internal/paymentretry/repository"
	"github.com/smallbiznis/recurra/internal/paymentretry/service"
	"go.uber.org/fx"
)

var Module = fx.Module("paymentretry.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
