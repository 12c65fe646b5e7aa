package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"prop_bot/internal/helper"
	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
)

func btInstrument() models.Instrument {
	return models.Instrument{
		Symbol:       "EURUSD",
		Digits:       5,
		Point:        0.00001,
		PipSize:      0.0001,
		TickSize:     0.00001,
		TickValue:    1.0,
		ContractSize: 100000,
		LotMin:       0.01,
		LotStep:      0.01,
		LotMax:       100,
	}
}

func btConfig() *config.Config {
	cfg := &config.Config{
		Magic:   777101,
		Symbols: []string{"EURUSD"},
		Mode:    "SWING",
	}
	cfg.Strategy = config.StrategyConfig{
		LiquidityLookback: 5,
		SwingLookback:     5,
		SMAPeriod:         5,
		WickRatio:         0.35,
		BreakoutBodyRatio: 0.50,
		LimitWickRatio:    0.60,
		RetraceFrac:       0.5,
		RSIPeriod:         3,
		RSIBuyMax:         90,
		RSISellMin:        0,
		SLBufferPips:      5,
		MaxRR:             5.0,
		FallbackRR:        2.0,
		BarsFetch:         50,
	}
	cfg.Risk = config.RiskConfig{
		RiskPct:         1.0,
		DailyLimitPct:   5.0,
		OverallLimitPct: 10.0,
		FlattenOnBreach: true,
		MaxSpreadPoints: 50,
	}
	// пороги ведения задраны: тест управляет исходом через SL/TP
	cfg.Lifecycle = config.LifecycleConfig{
		BreakevenPips:      200,
		BreakevenCushion:   0.1,
		TrailingPips:       300,
		TrailingOffsetPips: 150,
		TrailingStepPips:   10,
		PendingExpiry:      48 * time.Hour,
		RefreshInterval:    time.Minute,
	}
	cfg.Supervisor = config.SupervisorConfig{
		RetryBase:          time.Millisecond,
		RetryCap:           time.Millisecond,
		RetryAttempts:      2,
		ProtectiveAttempts: 3,
	}
	return cfg
}

// rampBars — серия с монотонными закрытиями, фитили сверху длиннее тела:
// SMA-тренд есть, а пробоев телом нет.
func rampBars(n int, start, step float64, t0 time.Time, tf models.Timeframe) []models.Bar {
	dur := helper.TFDuration(tf)
	bars := make([]models.Bar, 0, n)
	px := start
	for i := 0; i < n; i++ {
		bars = append(bars, models.Bar{
			Symbol: "EURUSD", Timeframe: tf, Timestamp: t0,
			Open: px - 0.0001, High: px + 0.0001, Low: px - 0.0002, Close: px,
		})
		px += step
		t0 = t0.Add(dur)
	}
	return bars
}

func h4bar(t0 time.Time, hours int, o, h, l, c float64) models.Bar {
	return models.Bar{
		Symbol: "EURUSD", Timeframe: models.TFH4,
		Timestamp: t0.Add(time.Duration(hours) * time.Hour),
		Open:      o, High: h, Low: l, Close: c,
	}
}

func approxBT(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
}

// Полный круг по истории: sweep с фитилём 90% даёт лимитку на откате,
// следующий бар её исполняет, ещё через бар цена добегает до структурного
// тейка. Размер от 1% риска: 0.68 лота при стопе 14.5 пипса.
func TestReplaySweepLimitToTakeProfit(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	entry := rampBars(11, 1.1000, 0.0002, t0, models.TFH4)
	entry = append(entry,
		h4bar(t0, 44, 1.1018, 1.1020, 1.1000, 1.1019), // прокол поддержки 1.1010, возврат
		h4bar(t0, 48, 1.1015, 1.1016, 1.0999, 1.1008), // откат до лимитки 1.10095
		h4bar(t0, 52, 1.1005, 1.1022, 1.1004, 1.1010), // добег до тейка 1.10210
		h4bar(t0, 56, 1.1009, 1.1012, 1.1008, 1.1010), // нейтральный хвост
	)
	trend := rampBars(8, 1.0900, 0.0004, t0.AddDate(0, 0, -5), models.TFD1)

	feed := NewFeed()
	feed.Add("EURUSD", models.TFH4, entry)
	feed.Add("EURUSD", models.TFD1, trend)

	catalog, err := config.NewCatalogFromList([]models.Instrument{btInstrument()})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	eng := NewEngine(btConfig(), catalog, feed, Params{StartBalance: 10000, SpreadPoints: 10})
	res, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Summary.Trades != 1 {
		t.Fatalf("trades = %d, want 1 (%+v)", res.Summary.Trades, res.Trades)
	}
	tr := res.Trades[0]
	if tr.Side != models.SideBuy {
		t.Fatalf("side = %s, want BUY", tr.Side)
	}
	if tr.Reason != models.CloseTakeProfit {
		t.Fatalf("close reason = %s, want take profit", tr.Reason)
	}
	approxBT(t, "entry", tr.EntryPrice, 1.10095)
	approxBT(t, "exit", tr.ExitPrice, 1.10210)
	approxBT(t, "lots", tr.Lots, 0.68)
	if math.Abs(tr.Profit-78.20) > 0.01 {
		t.Fatalf("profit = %.2f, want ~78.20", tr.Profit)
	}

	if res.Summary.Wins != 1 || math.Abs(res.Summary.WinRate-100) > 1e-9 {
		t.Fatalf("wins = %d, winrate = %.1f, want 1 and 100", res.Summary.Wins, res.Summary.WinRate)
	}
	if len(res.Curve) != len(entry) {
		t.Fatalf("curve points = %d, want %d (по одной на бар)", len(res.Curve), len(entry))
	}
	final := res.Curve[len(res.Curve)-1].Equity
	if math.Abs(final-(10000+tr.Profit)) > 1e-6 {
		t.Fatalf("final equity = %.2f, want %.2f", final, 10000+tr.Profit)
	}
}

// Срыв дневного лимита: плавающий минус утаскивает equity за порог, guard
// защёлкивается и закрывает позицию принудительно. Закрытие идёт через API
// исполнителя, в его записях это manual.
func TestReplayDailyBreachFlattens(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	entry := rampBars(11, 1.1000, 0.0002, t0, models.TFH4)
	entry = append(entry,
		h4bar(t0, 44, 1.1012, 1.1021, 1.1002, 1.1019), // умеренный фитиль: вход по рынку
		h4bar(t0, 48, 1.1018, 1.1019, 1.0998, 1.0999), // обвал, стоп 1.0997 ещё жив
		h4bar(t0, 52, 1.0999, 1.1001, 1.0998, 1.1000), // после защёлки тишина
	)
	trend := rampBars(8, 1.0900, 0.0004, t0.AddDate(0, 0, -5), models.TFD1)

	feed := NewFeed()
	feed.Add("EURUSD", models.TFH4, entry)
	feed.Add("EURUSD", models.TFD1, trend)

	catalog, err := config.NewCatalogFromList([]models.Instrument{btInstrument()})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	cfg := btConfig()
	cfg.Risk.DailyLimitPct = 0.9 // floating -94.50 на 10k это 0.945%

	eng := NewEngine(cfg, catalog, feed, Params{StartBalance: 10000, SpreadPoints: 10})
	res, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Summary.Trades != 1 {
		t.Fatalf("trades = %d, want 1 (%+v)", res.Summary.Trades, res.Trades)
	}
	tr := res.Trades[0]
	if tr.Reason != models.CloseManual {
		t.Fatalf("close reason = %s, want manual (flatten через API)", tr.Reason)
	}
	if tr.Profit >= 0 {
		t.Fatalf("profit = %.2f, want loss", tr.Profit)
	}
	if math.Abs(tr.Profit+94.50) > 0.01 {
		t.Fatalf("profit = %.2f, want ~-94.50", tr.Profit)
	}

	snap := eng.guard.Snapshot()
	if !snap.Blocked || snap.BlockKind != models.BlockDaily {
		t.Fatalf("guard = %+v, want daily latch", snap)
	}
	if res.Summary.Losses != 1 || res.Summary.Wins != 0 {
		t.Fatalf("wins/losses = %d/%d, want 0/1", res.Summary.Wins, res.Summary.Losses)
	}
}

// Полный цикл ведения: рыночный вход без тейка (infinite TP), безубыток на
// +12 пипсах, два шага трейла, выход по собственному подтянутому стопу.
// Лестница SL: 1.0997 -> 1.1021 -> 1.1035 -> 1.1040, закрытие в плюс.
func TestReplayMarketEntryTrailsToStop(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	entry := rampBars(11, 1.1000, 0.0002, t0, models.TFH4)
	entry = append(entry,
		h4bar(t0, 44, 1.1012, 1.1021, 1.1002, 1.1019), // прокол поддержки 1.1010, фитиль 53%: вход по рынку
		h4bar(t0, 48, 1.1019, 1.1032, 1.1018, 1.1030), // +12 пипсов: безубыток, SL 1.1021
		h4bar(t0, 52, 1.1030, 1.1045, 1.1029, 1.1042), // +25: трейл, SL 1.1035
		h4bar(t0, 56, 1.1042, 1.1050, 1.1041, 1.1048), // +30: трейл, SL 1.1040
		h4bar(t0, 60, 1.1047, 1.1049, 1.1038, 1.1039), // откат в подтянутый стоп
	)
	trend := rampBars(8, 1.0900, 0.0004, t0.AddDate(0, 0, -5), models.TFD1)

	feed := NewFeed()
	feed.Add("EURUSD", models.TFH4, entry)
	feed.Add("EURUSD", models.TFD1, trend)

	catalog, err := config.NewCatalogFromList([]models.Instrument{btInstrument()})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	cfg := btConfig()
	cfg.Strategy.InfiniteTP = true
	cfg.Lifecycle.BreakevenPips = 10
	cfg.Lifecycle.BreakevenCushion = 0.1
	cfg.Lifecycle.TrailingPips = 20
	cfg.Lifecycle.TrailingOffsetPips = 10
	cfg.Lifecycle.TrailingStepPips = 2

	eng := NewEngine(cfg, catalog, feed, Params{StartBalance: 10000, SpreadPoints: 10})
	res, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Summary.Trades != 1 {
		t.Fatalf("trades = %d, want 1 (%+v)", res.Summary.Trades, res.Trades)
	}
	tr := res.Trades[0]
	if tr.Side != models.SideBuy {
		t.Fatalf("side = %s, want BUY", tr.Side)
	}
	if tr.Reason != models.CloseStopLoss {
		t.Fatalf("close reason = %s, want stop loss (трейл)", tr.Reason)
	}
	if tr.TakeProfit != 0 {
		t.Fatalf("tp = %v, want 0 (infinite TP)", tr.TakeProfit)
	}
	approxBT(t, "entry", tr.EntryPrice, 1.1020)
	approxBT(t, "lots", tr.Lots, 0.45)
	approxBT(t, "sl", tr.StopLoss, 1.1040)
	approxBT(t, "exit", tr.ExitPrice, 1.1040)
	if tr.ExitPrice <= tr.EntryPrice {
		t.Fatalf("exit %.5f ниже входа %.5f: стоп не подтянулся", tr.ExitPrice, tr.EntryPrice)
	}
	if math.Abs(tr.Profit-90.00) > 0.01 {
		t.Fatalf("profit = %.2f, want ~90.00", tr.Profit)
	}

	if res.Summary.Wins != 1 || math.Abs(res.Summary.WinRate-100) > 1e-9 {
		t.Fatalf("wins = %d, winrate = %.1f, want 1 and 100", res.Summary.Wins, res.Summary.WinRate)
	}
	if len(res.Curve) != len(entry) {
		t.Fatalf("curve points = %d, want %d", len(res.Curve), len(entry))
	}
	final := res.Curve[len(res.Curve)-1].Equity
	if math.Abs(final-(10000+tr.Profit)) > 1e-6 {
		t.Fatalf("final equity = %.2f, want %.2f", final, 10000+tr.Profit)
	}
}

// История без сетапов: реплей проходит, сделок нет, кривая ровная.
func TestReplayQuietHistoryNoTrades(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	feed := NewFeed()
	feed.Add("EURUSD", models.TFH4, rampBars(12, 1.1000, 0.0002, t0, models.TFH4))
	feed.Add("EURUSD", models.TFD1, rampBars(8, 1.0900, 0.0004, t0.AddDate(0, 0, -5), models.TFD1))

	catalog, err := config.NewCatalogFromList([]models.Instrument{btInstrument()})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	eng := NewEngine(btConfig(), catalog, feed, Params{StartBalance: 10000, SpreadPoints: 10})
	res, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Summary.Trades != 0 {
		t.Fatalf("trades = %d, want 0", res.Summary.Trades)
	}
	for _, p := range res.Curve {
		if math.Abs(p.Equity-10000) > 1e-9 {
			t.Fatalf("equity dipped to %.2f without trades", p.Equity)
		}
	}
}

// Пустой фид — ошибка, а не нулевой отчёт.
func TestReplayEmptyFeedFails(t *testing.T) {
	catalog, err := config.NewCatalogFromList([]models.Instrument{btInstrument()})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	eng := NewEngine(btConfig(), catalog, NewFeed(), Params{StartBalance: 10000})
	if _, err := eng.Run(context.Background()); err == nil {
		t.Fatalf("empty history must fail")
	}
}
