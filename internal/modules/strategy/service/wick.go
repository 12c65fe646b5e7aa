package service

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"prop_bot/internal/helper"
	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
)

// WickEngine ищет liquidity sweep: прокол недавнего экстремума с возвратом
// внутрь диапазона (длинный фитиль) по тренду старшего ТФ. Второй сетап —
// пробой экстремума окна телом (continuation).
type WickEngine struct {
	cfg config.StrategyConfig
	mu  sync.Mutex
	st  map[string]*wickState // ключ: символ|entry/trend
}

type wickState struct {
	// анти-спам: один закрытый бар -> максимум 1 сигнал
	lastSignalBar time.Time

	// снимок последней оценки для Dump
	trend      Trend
	rsi        float64
	lastReason string
}

func NewWickEngine(cfg *config.Config) *WickEngine {
	return &WickEngine{
		cfg: cfg.Strategy,
		st:  make(map[string]*wickState),
	}
}

func (e *WickEngine) get(key string) *wickState {
	if s, ok := e.st[key]; ok {
		return s
	}
	s := &wickState{}
	e.st[key] = s
	return s
}

func (e *WickEngine) Name() string { return "liquidity_wick" }

// Warmup: SMA сравниваем на двух последних барах, окно ликвидности не
// включает сигнальный бар — отсюда +1 везде.
func (e *WickEngine) Warmup() int {
	w := e.cfg.SMAPeriod + 1
	if e.cfg.LiquidityLookback+1 > w {
		w = e.cfg.LiquidityLookback + 1
	}
	if e.cfg.RSIPeriod+1 > w {
		w = e.cfg.RSIPeriod + 1
	}
	return w
}

// Evaluate смотрит на последний закрытый бар entry-ТФ. Бары приходят от хаба
// отсортированными по времени, последний — самый свежий закрытый.
func (e *WickEngine) Evaluate(inst models.Instrument, pair config.TFPair, entry, trendBars []models.Bar) (models.Signal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.get(inst.Symbol + "|" + pair.Label())

	if len(entry) < e.Warmup() || len(trendBars) < e.cfg.SMAPeriod+1 {
		st.lastReason = "warmup"
		return models.Signal{}, false
	}

	last := entry[len(entry)-1]
	// защита от мусора
	if last.Close <= 0 || last.High <= 0 || last.High < last.Low {
		return models.Signal{}, false
	}
	rng := last.Range()
	if rng <= 0 {
		st.lastReason = "zero range"
		return models.Signal{}, false
	}

	// структура рынка: совпадение двух ТФ даёт сторону, иначе решает entry-ТФ
	dir := resolveTrend(smaTrend(trendBars, e.cfg.SMAPeriod), smaTrend(entry, e.cfg.SMAPeriod))
	st.trend = dir
	if dir == TrendNone {
		st.lastReason = "structure neutral"
		return models.Signal{}, false
	}

	// уровни ликвидности: окно до сигнального бара, сам бар не входит
	window := entry[len(entry)-1-e.cfg.LiquidityLookback : len(entry)-1]
	support := minLow(window)
	resistance := maxHigh(window)

	var (
		side   models.Side
		slBase float64
		setup  string
	)

	switch dir {
	case TrendUp:
		// sweep: прокол поддержки с закрытием обратно, фитиль не короче порога
		if last.Low < support && last.Close > support {
			if wickFor(models.SideBuy, last)/rng >= e.cfg.WickRatio {
				side, slBase, setup = models.SideBuy, last.Low, "sweep"
			}
		}
		// breakout: закрытие выше хаёв окна сильным телом; перебивает sweep
		if last.Close > resistance && last.Bullish() && last.Body()/rng > e.cfg.BreakoutBodyRatio {
			side, slBase, setup = models.SideBuy, last.Low, "breakout"
		}

	case TrendDown:
		if last.High > resistance && last.Close < resistance {
			if wickFor(models.SideSell, last)/rng >= e.cfg.WickRatio {
				side, slBase, setup = models.SideSell, last.High, "sweep"
			}
		}
		if last.Close < support && last.Bearish() && last.Body()/rng > e.cfg.BreakoutBodyRatio {
			side, slBase, setup = models.SideSell, last.High, "breakout"
		}
	}

	if side == models.SideNone {
		st.lastReason = "no setup"
		return models.Signal{}, false
	}

	// антиспам: один закрытый бар — один сигнал максимум
	if !last.Timestamp.IsZero() && st.lastSignalBar.Equal(last.Timestamp) {
		return models.Signal{}, false
	}

	// фильтр перегретости: не покупаем перекупленность, не продаём перепроданность
	closes := make([]float64, len(entry))
	for i, b := range entry {
		closes[i] = b.Close
	}
	r := rsi(closes, e.cfg.RSIPeriod)
	st.rsi = r
	if side == models.SideBuy && r > e.cfg.RSIBuyMax {
		st.lastReason = fmt.Sprintf("rsi too high: %.1f", r)
		return models.Signal{}, false
	}
	if side == models.SideSell && r < e.cfg.RSISellMin {
		st.lastReason = fmt.Sprintf("rsi too low: %.1f", r)
		return models.Signal{}, false
	}

	// длинный фитиль обычно дотягивает цену назад — ставим лимитку на откате,
	// короткий — momentum, входим по рынку
	mode := models.EntryMarket
	price := last.Close
	wickRatio := wickFor(side, last) / rng
	if wickRatio > e.cfg.LimitWickRatio {
		mode = models.EntryLimit
		if side == models.SideBuy {
			price = last.Close - e.cfg.RetraceFrac*(last.Close-last.Low)
		} else {
			price = last.Close + e.cfg.RetraceFrac*(last.High-last.Close)
		}
	}

	// стоп за экстремум фитиля с запасом
	buffer := helper.PipsToPrice(e.cfg.SLBufferPips, inst)
	sl := slBase - buffer
	if side == models.SideSell {
		sl = slBase + buffer
	}

	risk := math.Abs(price - sl)
	if risk <= 0 {
		return models.Signal{}, false
	}

	// структурная цель — по свежему свингу, старые выбросы окна ликвидности
	// целью не становятся
	swing := window
	if e.cfg.SwingLookback > 0 && len(swing) > e.cfg.SwingLookback {
		swing = swing[len(swing)-e.cfg.SwingLookback:]
	}
	tp := e.target(side, price, risk, swing)

	st.lastSignalBar = last.Timestamp
	st.lastReason = setup

	rr := 0.0
	if tp > 0 {
		rr = math.Abs(tp-price) / risk
	}

	return models.Signal{
		Symbol:     inst.Symbol,
		EntryTF:    pair.Entry,
		TrendTF:    pair.Trend,
		Side:       side,
		Mode:       mode,
		Price:      helper.RoundPrice(price, inst.Digits),
		StopLoss:   helper.RoundPrice(sl, inst.Digits),
		TakeProfit: helper.RoundPrice(tp, inst.Digits),
		BarTime:    last.Timestamp,
		Reason: fmt.Sprintf("%s trend=%s rsi=%.1f wick=%.2f rr=%.2f",
			setup, dir, r, wickRatio, rr),
	}, true
}

// target: структурная цель по свинг-окну, потолок в MaxRR рисков (0 — без потолка).
// Потолок режет жадные структурные цели, FallbackRR страхует цель ниже входа.
func (e *WickEngine) target(side models.Side, price, risk float64, window []models.Bar) float64 {
	if e.cfg.InfiniteTP {
		return 0 // без тейка, позицию ведёт трейл
	}

	if side == models.SideBuy {
		structural := maxHigh(window)
		if structural <= price {
			structural = price + risk*e.cfg.FallbackRR
		}
		if e.cfg.MaxRR > 0 {
			structural = math.Min(structural, price+risk*e.cfg.MaxRR)
		}
		return structural
	}

	structural := minLow(window)
	if structural >= price {
		structural = price - risk*e.cfg.FallbackRR
	}
	if e.cfg.MaxRR > 0 {
		structural = math.Max(structural, price-risk*e.cfg.MaxRR)
	}
	return structural
}

func (e *WickEngine) Dump(symbol string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var parts []string
	for key, st := range e.st {
		if !strings.HasPrefix(key, symbol+"|") {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s trend=%s rsi=%.1f last=%s",
			key, st.trend, st.rsi, st.lastReason))
	}
	if len(parts) == 0 {
		return "wick: no state"
	}
	return strings.Join(parts, " | ")
}

// resolveTrend: совпадение двух ТФ даёт сторону, иначе решает entry-ТФ.
// Старший ТФ подтверждает сетап, но вето не имеет.
func resolveTrend(major, entry Trend) Trend {
	if major != TrendNone && major == entry {
		return major
	}
	return entry
}

// wickFor — длина фитиля со стороны отбоя.
func wickFor(side models.Side, b models.Bar) float64 {
	if side == models.SideBuy {
		return math.Min(b.Open, b.Close) - b.Low
	}
	return b.High - math.Max(b.Open, b.Close)
}

func maxHigh(bars []models.Bar) float64 {
	m := bars[0].High
	for _, b := range bars[1:] {
		if b.High > m {
			m = b.High
		}
	}
	return m
}

func minLow(bars []models.Bar) float64 {
	m := bars[0].Low
	for _, b := range bars[1:] {
		if b.Low < m {
			m = b.Low
		}
	}
	return m
}
