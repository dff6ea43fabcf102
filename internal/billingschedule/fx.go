package billingschedule

import (
	"github.com/smallbiznis/recurra/internal/billingschedule/repository"
	"github.com/smallbiznis/recurra/internal/billingschedule/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingschedule.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
