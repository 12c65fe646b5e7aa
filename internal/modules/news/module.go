package news

import (
	"context"

	"prop_bot/internal/modules/news/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("news",
		fx.Provide(
			service.New, // -> *service.Service
		),
		fx.Invoke(func(lc fx.Lifecycle, appCtx context.Context, svc *service.Service) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go svc.Run(appCtx)
					return nil
				},
			})
		}),
	)
}
