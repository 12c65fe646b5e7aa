package config

import "go.uber.org/fx"

// Конфиг и справочник инструментов как fx-провайдеры.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
			NewCatalog,
		),
	)
}
