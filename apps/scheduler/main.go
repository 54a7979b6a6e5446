package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leadcore/internal/clock"
	"github.com/smallbiznis/leadcore/internal/config"
	"github.com/smallbiznis/leadcore/internal/costguard"
	"github.com/smallbiznis/leadcore/internal/ledger"
	"github.com/smallbiznis/leadcore/internal/observability"
	"github.com/smallbiznis/leadcore/internal/platformflag"
	"github.com/smallbiznis/leadcore/internal/scheduler"
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

		// cost guard and what it reads caps and the kill-switch from
		platformflag.Module,
		ledger.Module,
		costguard.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeNumber)
}
