package backtest

import (
	"fmt"
	"strings"
	"time"

	"prop_bot/internal/models"
)

// Point — значение equity после обработки одного бара entry-ТФ.
type Point struct {
	TS     time.Time
	Equity float64
}

// Summary — сводка прогона. Винрейт и просадка в процентах; брейк-ивен
// в выигрыши не идёт, проп-фирма его тоже не засчитывает.
type Summary struct {
	Trades     int
	Wins       int
	Losses     int
	NetProfit  float64
	WinRate    float64
	ProfitFact float64
	MaxDD      float64
	Best       float64
	Worst      float64
	Start      float64
	End        float64
}

// ComputeMetrics сводит кривую equity и закрытые сделки в отчёт.
// Просадка считается от пика кривой, так же как guard считает общую.
func ComputeMetrics(eq []Point, trades []models.Position) Summary {
	var (
		sm     Summary
		gains  float64
		losses float64
	)
	for _, t := range trades {
		sm.Trades++
		sm.NetProfit += t.Profit
		if t.Profit > 0 {
			sm.Wins++
			gains += t.Profit
		} else {
			sm.Losses++
			losses -= t.Profit
		}
		if t.Profit > sm.Best {
			sm.Best = t.Profit
		}
		if t.Profit < sm.Worst {
			sm.Worst = t.Profit
		}
	}
	if sm.Trades > 0 {
		sm.WinRate = float64(sm.Wins) / float64(sm.Trades) * 100
	}
	if losses > 0 {
		sm.ProfitFact = gains / losses
	}

	if len(eq) == 0 {
		return sm
	}
	sm.Start = eq[0].Equity
	sm.End = eq[len(eq)-1].Equity
	peak := eq[0].Equity
	for _, p := range eq {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - p.Equity) / peak * 100; dd > sm.MaxDD {
			sm.MaxDD = dd
		}
	}
	return sm
}

// String — сводка для консоли.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Сделок:        %d (в плюс %d, в минус %d)\n", s.Trades, s.Wins, s.Losses)
	fmt.Fprintf(&b, "Винрейт:       %.1f%%\n", s.WinRate)
	fmt.Fprintf(&b, "Результат:     %+.2f (%.2f -> %.2f)\n", s.NetProfit, s.Start, s.End)
	if s.ProfitFact > 0 {
		fmt.Fprintf(&b, "Профит-фактор: %.2f\n", s.ProfitFact)
	}
	fmt.Fprintf(&b, "Макс просадка: %.2f%%\n", s.MaxDD)
	fmt.Fprintf(&b, "Лучшая/худшая: %+.2f / %+.2f", s.Best, s.Worst)
	return b.String()
}
