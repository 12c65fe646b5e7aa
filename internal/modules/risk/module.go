package risk

import (
	"prop_bot/internal/modules/risk/service"
	"prop_bot/internal/modules/risk/service/file"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("risk",
		fx.Provide(
			file.NewState,
			func(s *file.State) service.Store { return s },
			service.NewGuard, // -> *service.Guard
			service.NewSizer, // -> *service.Sizer
		),
	)
}
