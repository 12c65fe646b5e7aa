package mt5websocket

import (
	"context"

	"prop_bot/internal/models"
	healthsvc "prop_bot/internal/modules/health/service"
	"prop_bot/internal/modules/mt5_websocket/service"

	"go.uber.org/fx"
)

func newTicksChan() chan models.Tick { return make(chan models.Tick, 1024) }

func asSendOnlyTicks(ch chan models.Tick) chan<- models.Tick { return ch }

func Module() fx.Option {
	return fx.Module("mt5_websocket",
		fx.Provide(
			newTicksChan,    // chan models.Tick
			asSendOnlyTicks, // chan<- models.Tick
			func(h *healthsvc.State) service.Health { return h },
			service.NewStream, // -> *service.Stream
		),
		fx.Invoke(func(lc fx.Lifecycle, appCtx context.Context, s *service.Stream) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go s.Run(appCtx)
					return nil
				},
			})
		}),
	)
}
