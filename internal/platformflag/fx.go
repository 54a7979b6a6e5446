package platformflag

import (
	flagdomain "github.com/smallbiznis/leadcore/internal/platformflag/domain"
	"github.com/smallbiznis/leadcore/internal/platformflag/service"
	"go.uber.org/fx"
)

var Module = fx.Module("platformflag",
	fx.Provide(
		service.NewService,
		func(s *service.Service) flagdomain.KillSwitch { return s },
	),
)
