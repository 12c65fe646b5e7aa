package models

import "time"

// Side как в раннере: "BUY"/"SELL" или пустая строка.
type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	}
	return SideNone
}

type EntryMode string

const (
	EntryMarket EntryMode = "market"
	EntryLimit  EntryMode = "limit"
)

// Signal — кандидат на вход от детектора. Price для limit — уровень ретрейса,
// для market — close сигнального бара (исполнение всё равно по текущему тику).
type Signal struct {
	Symbol     string
	EntryTF    Timeframe
	TrendTF    Timeframe
	Side       Side
	Mode       EntryMode
	Price      float64
	StopLoss   float64
	TakeProfit float64 // 0 = без тейка
	BarTime    time.Time
	DetectedAt time.Time
	Reason     string // "sweep" | "breakout"
}

func (s Signal) PairLabel() string {
	return string(s.EntryTF) + "/" + string(s.TrendTF)
}
