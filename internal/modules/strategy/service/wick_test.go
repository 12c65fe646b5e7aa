package service

import (
	"math"
	"strings"
	"testing"
	"time"

	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
)

func wickCfg() *config.Config {
	cfg := &config.Config{}
	cfg.Strategy = config.StrategyConfig{
		LiquidityLookback: 5,
		SwingLookback:     5,
		SMAPeriod:         5,
		WickRatio:         0.35,
		BreakoutBodyRatio: 0.50,
		LimitWickRatio:    0.60,
		RetraceFrac:       0.5,
		RSIPeriod:         3,
		RSIBuyMax:         90, // в тестах сетапов фильтр не мешает; ужесточаем отдельно
		RSISellMin:        0,
		SLBufferPips:      5,
		MaxRR:             5.0,
		FallbackRR:        2.0,
		BarsFetch:         50,
	}
	return cfg
}

func eurusd() models.Instrument {
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

func h4d1() config.TFPair {
	return config.TFPair{Entry: models.TFH4, Trend: models.TFD1}
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
}

// Прокол минимума окна с возвратом и фитилём на 90% диапазона:
// sweep BUY лимиткой на половине отката, стоп под фитилём с буфером,
// тейк по структурному максимуму окна.
func TestSweepLongLimitEntry(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	entry := seqBars(11, 1.1000, 0.0002, t0) // окно: lows 1.1010..1.1018, highs до 1.1021
	entry = append(entry, models.Bar{
		Symbol: "EURUSD", Timeframe: models.TFH4,
		Timestamp: t0.Add(11 * 4 * time.Hour),
		Open:      1.1018, High: 1.1020, Low: 1.1000, Close: 1.1019,
	})
	trend := seqBars(8, 1.0900, 0.0004, t0)

	e := NewWickEngine(wickCfg())
	sig, ok := e.Evaluate(eurusd(), h4d1(), entry, trend)
	if !ok {
		t.Fatalf("expected sweep signal, got none (%s)", e.Dump("EURUSD"))
	}
	if sig.Side != models.SideBuy {
		t.Fatalf("side = %s, want BUY", sig.Side)
	}
	if sig.Mode != models.EntryLimit {
		t.Fatalf("mode = %s, want limit for 90%% wick", sig.Mode)
	}
	if !strings.Contains(sig.Reason, "sweep") {
		t.Fatalf("reason = %q, want sweep setup", sig.Reason)
	}
	approx(t, "limit price", sig.Price, 1.10095) // close - 0.5*(close-low)
	approx(t, "stop loss", sig.StopLoss, 1.09950)
	approx(t, "take profit", sig.TakeProfit, 1.10210) // структурный максимум окна
	if !sig.BarTime.Equal(entry[len(entry)-1].Timestamp) {
		t.Fatalf("bar time = %v, want signal bar time", sig.BarTime)
	}
}

// Структурный тейк берётся по свинг-окну: старый выброс в начале окна
// ликвидности целью не становится.
func TestTargetUsesSwingWindow(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	entry := seqBars(11, 1.1000, 0.0002, t0)
	entry[7].High = 1.1050 // давний выброс внутри окна ликвидности
	entry = append(entry, models.Bar{
		Symbol: "EURUSD", Timeframe: models.TFH4,
		Timestamp: t0.Add(11 * 4 * time.Hour),
		Open:      1.1018, High: 1.1020, Low: 1.1000, Close: 1.1019,
	})
	trend := seqBars(8, 1.0900, 0.0004, t0)

	cfg := wickCfg()
	cfg.Strategy.SwingLookback = 2
	e := NewWickEngine(cfg)
	sig, ok := e.Evaluate(eurusd(), h4d1(), entry, trend)
	if !ok {
		t.Fatalf("expected sweep signal, got none (%s)", e.Dump("EURUSD"))
	}
	// максимум последних двух баров окна, не 1.1050
	approx(t, "take profit", sig.TakeProfit, 1.10210)
}

// Умеренный фитиль (~50% диапазона) — вход по рынку по close сигнального бара.
func TestSweepLongMarketEntry(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	entry := seqBars(11, 1.1000, 0.0002, t0)
	entry = append(entry, models.Bar{
		Symbol: "EURUSD", Timeframe: models.TFH4,
		Timestamp: t0.Add(11 * 4 * time.Hour),
		Open:      1.1012, High: 1.1021, Low: 1.1002, Close: 1.1019,
	})
	trend := seqBars(8, 1.0900, 0.0004, t0)

	e := NewWickEngine(wickCfg())
	sig, ok := e.Evaluate(eurusd(), h4d1(), entry, trend)
	if !ok {
		t.Fatalf("expected sweep signal, got none")
	}
	if sig.Mode != models.EntryMarket {
		t.Fatalf("mode = %s, want market for moderate wick", sig.Mode)
	}
	approx(t, "market price", sig.Price, 1.10190)
	approx(t, "stop loss", sig.StopLoss, 1.09970)
}

// Зеркальный sweep: прокол максимума окна с возвратом под уровень в
// нисходящем тренде — SELL по рынку, стоп над фитилём, тейк по минимуму окна.
func TestSweepShortMarketEntry(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	entry := seqBars(11, 1.1020, -0.0002, t0) // окно: highs до 1.1010, lows до 1.0999
	entry = append(entry, models.Bar{
		Symbol: "EURUSD", Timeframe: models.TFH4,
		Timestamp: t0.Add(11 * 4 * time.Hour),
		Open:      1.1008, High: 1.1018, Low: 1.0999, Close: 1.1001,
	})
	trend := seqBars(8, 1.1100, -0.0004, t0)

	e := NewWickEngine(wickCfg())
	sig, ok := e.Evaluate(eurusd(), h4d1(), entry, trend)
	if !ok {
		t.Fatalf("expected sweep signal, got none (%s)", e.Dump("EURUSD"))
	}
	if sig.Side != models.SideSell {
		t.Fatalf("side = %s, want SELL", sig.Side)
	}
	if sig.Mode != models.EntryMarket {
		t.Fatalf("mode = %s, want market for moderate wick", sig.Mode)
	}
	if !strings.Contains(sig.Reason, "sweep") {
		t.Fatalf("reason = %q, want sweep setup", sig.Reason)
	}
	approx(t, "market price", sig.Price, 1.10010)
	approx(t, "stop loss", sig.StopLoss, 1.10230)     // high сигнального бара + буфер
	approx(t, "take profit", sig.TakeProfit, 1.09990) // структурный минимум окна
}

// Закрытие телом ниже минимума окна в нисходящем тренде — breakout SELL.
// Структурная цель (минимум окна) выше входа не годится, работает FallbackRR.
func TestBreakoutShortFallbackTarget(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	entry := seqBars(11, 1.1020, -0.0002, t0) // окно: lows до 1.0999
	entry = append(entry, models.Bar{
		Symbol: "EURUSD", Timeframe: models.TFH4,
		Timestamp: t0.Add(11 * 4 * time.Hour),
		Open:      1.1000, High: 1.1001, Low: 1.0983, Close: 1.0985,
	})
	trend := seqBars(8, 1.1100, -0.0004, t0)

	e := NewWickEngine(wickCfg())
	sig, ok := e.Evaluate(eurusd(), h4d1(), entry, trend)
	if !ok {
		t.Fatalf("expected breakout signal, got none (%s)", e.Dump("EURUSD"))
	}
	if sig.Side != models.SideSell {
		t.Fatalf("side = %s, want SELL", sig.Side)
	}
	if sig.Mode != models.EntryMarket {
		t.Fatalf("mode = %s, want market for momentum breakout", sig.Mode)
	}
	if !strings.Contains(sig.Reason, "breakout") {
		t.Fatalf("reason = %q, want breakout setup", sig.Reason)
	}
	approx(t, "market price", sig.Price, 1.09850)
	approx(t, "stop loss", sig.StopLoss, 1.10060)     // high сигнального бара + буфер
	approx(t, "take profit", sig.TakeProfit, 1.09430) // price - 2R
}

// Без структуры рынка сетап не торгуется, каким бы красивым ни был фитиль.
func TestNeutralStructureRejected(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	entry := seqBars(11, 1.1000, 0, t0) // боковик
	entry = append(entry, models.Bar{
		Symbol: "EURUSD", Timeframe: models.TFH4,
		Timestamp: t0.Add(11 * 4 * time.Hour),
		Open:      1.1000, High: 1.1001, Low: 1.0990, Close: 1.1000,
	})
	trend := seqBars(8, 1.0900, 0, t0)

	e := NewWickEngine(wickCfg())
	if _, ok := e.Evaluate(eurusd(), h4d1(), entry, trend); ok {
		t.Fatalf("flat structure must not signal")
	}
}

// Перекупленность режет покупку: тот же sweep, но строгий порог RSI.
func TestRSIFilterRejectsOverbought(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	entry := seqBars(11, 1.1000, 0.0002, t0)
	entry = append(entry, models.Bar{
		Symbol: "EURUSD", Timeframe: models.TFH4,
		Timestamp: t0.Add(11 * 4 * time.Hour),
		Open:      1.1018, High: 1.1020, Low: 1.1000, Close: 1.1019,
	})
	trend := seqBars(8, 1.0900, 0.0004, t0)

	cfg := wickCfg()
	cfg.Strategy.RSIBuyMax = 60 // rsi фикстуры ~80

	e := NewWickEngine(cfg)
	if _, ok := e.Evaluate(eurusd(), h4d1(), entry, trend); ok {
		t.Fatalf("overbought entry must be filtered out")
	}
	if !strings.Contains(e.Dump("EURUSD"), "rsi too high") {
		t.Fatalf("dump = %q, want rsi rejection", e.Dump("EURUSD"))
	}
}

// Один закрытый бар — один сигнал, повторная оценка того же бара молчит.
func TestSignalOncePerBar(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	entry := seqBars(11, 1.1000, 0.0002, t0)
	entry = append(entry, models.Bar{
		Symbol: "EURUSD", Timeframe: models.TFH4,
		Timestamp: t0.Add(11 * 4 * time.Hour),
		Open:      1.1018, High: 1.1020, Low: 1.1000, Close: 1.1019,
	})
	trend := seqBars(8, 1.0900, 0.0004, t0)

	e := NewWickEngine(wickCfg())
	if _, ok := e.Evaluate(eurusd(), h4d1(), entry, trend); !ok {
		t.Fatalf("first pass must signal")
	}
	if _, ok := e.Evaluate(eurusd(), h4d1(), entry, trend); ok {
		t.Fatalf("same bar must not signal twice")
	}
}

func TestWarmupGuard(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	e := NewWickEngine(wickCfg())

	if got := e.Warmup(); got != 6 {
		t.Fatalf("warmup = %d, want 6 for sma=5/lookback=5/rsi=3", got)
	}
	entry := seqBars(4, 1.1000, 0.0002, t0)
	trend := seqBars(8, 1.0900, 0.0004, t0)
	if _, ok := e.Evaluate(eurusd(), h4d1(), entry, trend); ok {
		t.Fatalf("must not evaluate below warmup")
	}
}
