package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leadcore/internal/clock"
	"github.com/smallbiznis/leadcore/internal/config"
	"github.com/smallbiznis/leadcore/internal/observability"
	"github.com/smallbiznis/leadcore/internal/server"
	"github.com/smallbiznis/leadcore/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// routes, domain services and RunHTTP
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeNumber)
}
