package main

import (
	"context"
	"log"
	"os"

	"go.uber.org/fx"

	"prop_bot/internal/modules/config"
	"prop_bot/internal/modules/health"
	"prop_bot/internal/modules/journal"
	"prop_bot/internal/modules/lifecycle"
	mt5client "prop_bot/internal/modules/mt5_client"
	mt5websocket "prop_bot/internal/modules/mt5_websocket"
	"prop_bot/internal/modules/news"
	"prop_bot/internal/modules/postgres"
	"prop_bot/internal/modules/risk"
	"prop_bot/internal/modules/runner"
	"prop_bot/internal/modules/strategy"
	"prop_bot/internal/modules/supervisor"
	telegram "prop_bot/internal/modules/telegram_bot"
	"prop_bot/pkg/logger"
	"prop_bot/pkg/tracing"
)

func main() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	if err := logger.Init(level); err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger.SetServiceName("prop_bot")
	tracing.SetServiceName("prop_bot")

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) error {
			_, closer, err := tracing.InitTracer(tracing.Config{
				Enabled: cfg.Tracing.Enabled,
				Host:    cfg.Tracing.Host,
				Port:    cfg.Tracing.Port,
			})
			if err != nil {
				return err
			}
			lc.Append(fx.Hook{OnStop: func(context.Context) error {
				closer()
				return nil
			}})
			return nil
		}),
		config.Module(),
		postgres.Module(),
		mt5client.Module(),
		supervisor.Module(),
		news.Module(),
		strategy.Module(),
		risk.Module(),
		lifecycle.Module(),
		journal.Module(),
		runner.Module(),
		mt5websocket.Module(),
		telegram.Module(),
		health.Module(),
	)
	app.Run()
}
