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
	"github.com/smallbiznis/meter/internal/migration"
	"github.com/smallbiznis/meter/internal/observability"
	"github.com/smallbiznis/meter/internal/platform"
	"github.com/smallbiznis/meter/internal/scheduler"
	"github.com/smallbiznis/meter/internal/server"
	"github.com/smallbiznis/meter/internal/usage"
	"github.com/smallbiznis/meter/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,
		lock.Module,
		platform.Module,

		// Pipeline
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

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
