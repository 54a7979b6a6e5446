package scoring

import (
	"github.com/smallbiznis/leadcore/internal/scoring/service"
	"go.uber.org/fx"
)

var Module = fx.Module("scoring.service",
	fx.Provide(service.NewService),
)
