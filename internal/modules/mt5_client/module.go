package mt5client

import (
	"log"

	"prop_bot/internal/modules/config"
	"prop_bot/internal/modules/mt5_client/service"

	"go.uber.org/fx"
)

const paperStartBalance = 10000

func Module() fx.Option {
	return fx.Module("mt5_client",
		fx.Provide(
			service.New, // -> *service.Client
			newGateway,
		),
	)
}

// В dry_run торговые вызовы перехватывает бумажный исполнитель,
// маркет-данные остаются живыми.
func newGateway(cfg *config.Config, cat *config.Catalog, cl *service.Client) service.Gateway {
	if cfg.DryRun {
		log.Printf("[MT5] dry_run: ордера идут в бумажный исполнитель, старт %d", paperStartBalance)
		return service.NewPaperGateway(cl, service.NewSim(cat, cfg.Magic, paperStartBalance))
	}
	return cl
}
