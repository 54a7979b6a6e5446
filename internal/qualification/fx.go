package qualification

import (
	"github.com/smallbiznis/leadcore/internal/contentgen"
	qualdomain "github.com/smallbiznis/leadcore/internal/qualification/domain"
	"github.com/smallbiznis/leadcore/internal/qualification/service"
	"github.com/smallbiznis/leadcore/internal/routing"
	"go.uber.org/fx"
)

var Module = fx.Module("qualification.service",
	fx.Provide(
		service.NewService,
		func(g *contentgen.Guarded) service.Extractor { return g },
		func(r *routing.Router) qualdomain.Router { return r },
	),
)
