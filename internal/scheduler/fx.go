package scheduler

import (
	"context"

	"github.com/smallbiznis/meter/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(Start),
)

// Start launches the periodic pipeline loop when enabled.
func Start(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.Pipeline.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go sched.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
