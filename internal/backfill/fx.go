package backfill

import (
	"github.com/smallbiznis/meter/internal/backfill/service"
	"go.uber.org/fx"
)

var Module = fx.Module("backfill.service",
	fx.Provide(service.NewService),
)
