package runner

import (
	"context"

	"prop_bot/internal/models"
	healthsvc "prop_bot/internal/modules/health/service"
	jsvc "prop_bot/internal/modules/journal/service"
	mt5 "prop_bot/internal/modules/mt5_client/service"
	"prop_bot/internal/modules/runner/service"
	tgsvc "prop_bot/internal/modules/telegram_bot/service"

	"go.uber.org/fx"
)

func newEventsChan() chan models.Event { return make(chan models.Event, 1024) }

func asSendOnlyEvents(ch chan models.Event) chan<- models.Event { return ch }

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			newEventsChan,     // chan models.Event
			asSendOnlyEvents,  // chan<- models.Event
			func(j *jsvc.Store) service.Journal { return j },
			func(t *tgsvc.Telegram) service.Notifier { return t },
			func(h *healthsvc.State) service.Health { return h },
			// в dry_run шлюз заодно и бумажный исполнитель: тики идут ему на филлы
			func(gw mt5.Gateway) service.Sink {
				if s, ok := gw.(mt5.TickSink); ok {
					return s
				}
				return nil
			},
			service.NewRunner, // -> *service.Runner
		),

		fx.Invoke(func(
			lc fx.Lifecycle,
			appCtx context.Context,
			r *service.Runner,
			sigs chan models.Signal,
			ticks chan models.Tick,
			events chan models.Event,
			n service.Notifier,
		) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					// bootstrap уходит в фон: мёртвый мост на старте не
					// валит запуск по таймауту fx
					r.StartWorkers(appCtx, sigs, ticks, events, n)
					return nil
				},
			})
		}),
	)
}
