package usage

import (
	"github.com/smallbiznis/meter/internal/usage/repository"
	"github.com/smallbiznis/meter/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
