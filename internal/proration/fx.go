package proration

import (
	prorationdomain "github.com/smallbiznis/recurra/internal/proration/domain"
	"github.com/smallbiznis/recurra/internal/proration/service"
	"github.com/smallbiznis/recurra/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("proration.service",
	fx.Provide(repository.ProvideStore[prorationdomain.ProrationCalculation]),
	fx.Provide(service.NewService),
)
