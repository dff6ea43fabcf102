package dunning

import (
	"github.com/smallbiznis/recurra/internal/dunning/repository"
	"github.com/smallbiznis/recurra/internal/dunning/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dunning.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
