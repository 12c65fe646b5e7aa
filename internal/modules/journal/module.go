package journal

import (
	"prop_bot/internal/modules/journal/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("journal",
		fx.Provide(
			service.NewStore, // -> *service.Store
		),
	)
}
