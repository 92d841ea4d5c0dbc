package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meter/internal/aggregation"
	"github.com/smallbiznis/meter/internal/backfill"
	"github.com/smallbiznis/meter/internal/billing"
	"github.com/smallbiznis/meter/internal/cache"
	"github.com/smallbiznis/meter/internal/charges"
	"github.com/smallbiznis/meter/internal/clock"
	"github.com/smallbiznis/meter/internal/config"
	"github.com/smallbiznis/meter/internal/invoicing"
	"github.com/smallbiznis/meter/internal/lock"
	"github.com/smallbiznis/meter/internal/observability"
	"github.com/smallbiznis/meter/internal/platform"
	"github.com/smallbiznis/meter/internal/scheduler"
	"github.com/smallbiznis/meter/internal/server"
	"github.com/smallbiznis/meter/internal/usage"
	"github.com/smallbiznis/meter/pkg/db"
	"go.uber.org/fx"
)

// The API serves ingestion, lookups and on-demand stage runs. The periodic loop
// belongs to the scheduler app.
func main() {
	app := fx.New(
		config.Module,
		fx.Decorate(DisablePipelineLoop),
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		lock.Module,
		platform.Module,

		usage.Module,
		aggregation.Module,
		billing.Module,
		invoicing.Module,
		backfill.Module,
		charges.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func DisablePipelineLoop(cfg config.Config) config.Config {
	cfg.Pipeline.Enabled = false
	return cfg
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
