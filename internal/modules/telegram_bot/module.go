package telegram

import (
	"context"

	jsvc "prop_bot/internal/modules/journal/service"
	lifesvc "prop_bot/internal/modules/lifecycle/service"
	risksvc "prop_bot/internal/modules/risk/service"
	supsvc "prop_bot/internal/modules/supervisor/service"
	"prop_bot/internal/modules/telegram_bot/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			func(g *risksvc.Guard) service.Risk { return g },
			func(tr *lifesvc.Tracker) service.Book { return tr },
			func(s *jsvc.Store) service.Reporter { return s },
			func(s *supsvc.Supervisor) service.Conn { return s },
			service.NewTelegram, // -> *service.Telegram
		),

		// Цикл обновлений через Lifecycle
		fx.Invoke(func(lc fx.Lifecycle, appCtx context.Context, t *service.Telegram) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go t.Start(appCtx)
					return nil
				},
			})
		}),
	)
}
