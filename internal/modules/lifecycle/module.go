package lifecycle

import (
	"context"

	jsvc "prop_bot/internal/modules/journal/service"
	"prop_bot/internal/modules/lifecycle/service"
	mt5 "prop_bot/internal/modules/mt5_client/service"
	risksvc "prop_bot/internal/modules/risk/service"
	supsvc "prop_bot/internal/modules/supervisor/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("lifecycle",
		fx.Provide(
			func(gw mt5.Gateway) service.Orders { return gw },
			func(s *supsvc.Supervisor) service.Conn { return s },
			func(j *jsvc.Store) service.Archiver { return j },
			service.NewTracker, // -> *service.Tracker
		),

		fx.Invoke(func(lc fx.Lifecycle, appCtx context.Context, tr *service.Tracker,
			sup *supsvc.Supervisor, guard *risksvc.Guard) {

			// защёлка просадки умеет аварийно закрыть всё
			guard.SetOnBreach(tr.FlattenAll)

			states := sup.Subscribe()
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go tr.RefreshWorker(appCtx)
					go tr.MinuteWorker(appCtx)
					go tr.FlushWorker(appCtx, states)
					return nil
				},
			})
		}),
	)
}
