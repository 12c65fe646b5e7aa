package models

import (
	"math"
	"time"
)

// Timeframe in MT5 notation: "M15", "H1", "H4", "D1".
type Timeframe string

const (
	TFM1  Timeframe = "M1"
	TFM5  Timeframe = "M5"
	TFM15 Timeframe = "M15"
	TFM30 Timeframe = "M30"
	TFH1  Timeframe = "H1"
	TFH4  Timeframe = "H4"
	TFD1  Timeframe = "D1"
)

// Bar — закрытый бар. Timestamp — время открытия бара (UTC).
type Bar struct {
	Symbol    string
	Timeframe Timeframe
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

func (b Bar) Range() float64 { return b.High - b.Low }

func (b Bar) Body() float64 { return math.Abs(b.Close - b.Open) }

func (b Bar) Bullish() bool { return b.Close > b.Open }

func (b Bar) Bearish() bool { return b.Close < b.Open }

// Tick — текущие цены по символу.
type Tick struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   time.Time
}

func (t Tick) Spread() float64 { return t.Ask - t.Bid }

func (t Tick) Mid() float64 { return (t.Ask + t.Bid) / 2 }
