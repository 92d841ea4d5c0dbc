package charges

import (
	"github.com/smallbiznis/meter/internal/charges/service"
	"go.uber.org/fx"
)

var Module = fx.Module("charges.service",
	fx.Provide(service.NewService),
)
