package billingrun

import (
	"github.com/smallbiznis/recurra/internal/billingrun/repository"
	"github.com/smallbiznis/recurra/internal/billingrun/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingrun.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
