package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meter/internal/aggregation"
	"github.com/smallbiznis/meter/internal/backfill"
	"github.com/smallbiznis/meter/internal/billing"
	"github.com/smallbiznis/meter/internal/cache"
	"github.com/smallbiznis/meter/internal/clock"
	"github.com/smallbiznis/meter/internal/config"
	"github.com/smallbiznis/meter/internal/invoicing"
	"github.com/smallbiznis/meter/internal/lock"
	"github.com/smallbiznis/meter/internal/migration"
	"github.com/smallbiznis/meter/internal/observability"
	"github.com/smallbiznis/meter/internal/platform"
	"github.com/smallbiznis/meter/internal/scheduler"
	"github.com/smallbiznis/meter/internal/usage"
	"github.com/smallbiznis/meter/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		fx.Decorate(EnablePipelineLoop),
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,
		lock.Module,
		platform.Module,

		// Stage services required by scheduler
		usage.Module,
		aggregation.Module,
		billing.Module,
		invoicing.Module,
		backfill.Module,
		scheduler.Module,

		// No server module!
	)
	app.Run()
}

func EnablePipelineLoop(cfg config.Config) config.Config {
	cfg.Pipeline.Enabled = true
	return cfg
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
