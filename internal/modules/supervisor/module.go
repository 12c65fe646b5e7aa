package supervisor

import (
	"context"
	"log"

	mt5 "prop_bot/internal/modules/mt5_client/service"
	"prop_bot/internal/modules/supervisor/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("supervisor",
		fx.Provide(
			func(gw mt5.Gateway) service.Pinger { return gw },
			service.New, // -> *service.Supervisor
		),
		fx.Invoke(func(lc fx.Lifecycle, appCtx context.Context, sup *service.Supervisor, gw mt5.Gateway) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					// холодный старт: один ping, чтобы не ждать лестницу восстановления
					if err := gw.Ping(ctx); err == nil {
						sup.MarkConnected("startup ping ok")
					} else {
						log.Printf("[SUP] стартовый ping не прошёл: %v", err)
					}
					go sup.RunHeartbeat(appCtx)
					return nil
				},
			})
		}),
	)
}
