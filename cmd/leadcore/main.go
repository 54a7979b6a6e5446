package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leadcore/internal/clock"
	"github.com/smallbiznis/leadcore/internal/config"
	"github.com/smallbiznis/leadcore/internal/migration"
	"github.com/smallbiznis/leadcore/internal/observability"
	"github.com/smallbiznis/leadcore/internal/routing"
	"github.com/smallbiznis/leadcore/internal/scheduler"
	"github.com/smallbiznis/leadcore/internal/server"
	"github.com/smallbiznis/leadcore/pkg/db"
	"go.uber.org/fx"
)

// Single binary: HTTP API, maintenance cron and the lead routing worker.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		server.Module,
		scheduler.Module,
		routing.EmbeddedWorkerModule,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeNumber)
}
