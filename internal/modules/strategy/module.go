package strategy

import (
	"context"

	"prop_bot/internal/models"
	lifesvc "prop_bot/internal/modules/lifecycle/service"
	mt5 "prop_bot/internal/modules/mt5_client/service"
	newssvc "prop_bot/internal/modules/news/service"
	"prop_bot/internal/modules/strategy/service"
	supsvc "prop_bot/internal/modules/supervisor/service"

	"go.uber.org/fx"
)

func newSignalsChan() chan models.Signal {
	return make(chan models.Signal, 4096)
}
func asSendOnlySignals(ch chan models.Signal) chan<- models.Signal { return ch }

func Module() fx.Option {
	return fx.Module("strategy",
		fx.Provide(
			newSignalsChan,    // chan models.Signal
			asSendOnlySignals, // chan<- models.Signal
			service.NewEngine, // service.Engine

			func(gw mt5.Gateway) service.Bars { return gw },
			func(s *supsvc.Supervisor) service.ConnGate { return s },
			func(n *newssvc.Service) service.NewsGate { return n },
			func(t *lifesvc.Tracker) service.OpenGate { return t },

			service.NewHub,
		),

		fx.Invoke(func(lc fx.Lifecycle, appCtx context.Context, hub *service.Hub) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go hub.Run(appCtx)
					return nil
				},
			})
		}),
	)
}
