package main

import (
	"github.com/smallbiznis/leadcore/internal/clock"
	"github.com/smallbiznis/leadcore/internal/config"
	"github.com/smallbiznis/leadcore/internal/observability"
	"github.com/smallbiznis/leadcore/internal/routing"
	"github.com/smallbiznis/leadcore/internal/scoring"
	"github.com/smallbiznis/leadcore/pkg/db"
	"go.uber.org/fx"
)

// Consumes lead routing tasks from Redis.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,

		scoring.Module,
		fx.Provide(routing.NewHandler),
		routing.WorkerModule,
	)
	app.Run()
}
