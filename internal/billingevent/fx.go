package billingevent

import (
	"github.com/smallbiznis/recurra/internal/billingevent/repository"
	"github.com/smallbiznis/recurra/internal/billingevent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingevent.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
