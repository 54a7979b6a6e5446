package costguard

import (
	"github.com/smallbiznis/leadcore/internal/costguard/service"
	"go.uber.org/fx"
)

var Module = fx.Module("costguard.service",
	fx.Provide(service.NewService),
)
