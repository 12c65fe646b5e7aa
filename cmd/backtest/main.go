package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"prop_bot/internal/backtest"
	"prop_bot/internal/modules/config"
)

// Реплей стратегии по CSV-истории: тот же конвейер, что у бота, но шлюз
// бумажный. Конфиг берётся как у бота (configs/ + env), история лежит
// файлами <SYMBOL>_<TF>.csv c колонками time,open,high,low,close[,volume].
func main() {
	var (
		dataDir = flag.String("data", "testdata", "каталог с историей <SYMBOL>_<TF>.csv")
		balance = flag.Float64("balance", 10000, "стартовый баланс")
		spread  = flag.Float64("spread", 10, "спред в пунктах")
		trades  = flag.Bool("trades", false, "печатать каждую сделку")
	)
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("конфиг: %v", err)
	}
	catalog, err := config.NewCatalog(cfg)
	if err != nil {
		log.Fatalf("каталог инструментов: %v", err)
	}

	feed := backtest.NewFeed()
	if err := feed.LoadDir(*dataDir, cfg); err != nil {
		log.Fatalf("история: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := backtest.NewEngine(cfg, catalog, feed, backtest.Params{
		StartBalance: *balance,
		SpreadPoints: *spread,
	})
	res, err := eng.Run(ctx)
	if err != nil {
		log.Fatalf("реплей: %v", err)
	}

	fmt.Println()
	if *trades {
		for i, tr := range res.Trades {
			fmt.Printf("%3d  %s  %-7s %-4s %.2f лота  %.5f -> %.5f  %+10.2f  %s\n",
				i+1, tr.ClosedAt.Format("2006-01-02 15:04"), tr.Symbol, tr.Side,
				tr.Lots, tr.EntryPrice, tr.ExitPrice, tr.Profit, tr.Reason)
		}
		fmt.Println()
	}
	fmt.Println(res.Summary)
}
