package models

import "time"

// RiskDecision — вердикт сайзера по сигналу.
type RiskDecision struct {
	Accepted  bool
	Reason    string // причина отказа: drawdown | spread | sl_distance | lot_too_small | margin | roi
	Lots      float64
	RiskMoney float64 // плановый убыток по стопу
	Margin    float64
}

const (
	BlockDaily   = "daily"
	BlockOverall = "overall"
)

// DrawdownSnapshot — состояние guard'а для /status и метрик.
type DrawdownSnapshot struct {
	Equity     float64
	DayStart   float64
	HighWater  float64
	DailyPct   float64
	OverallPct float64
	Blocked    bool
	BlockKind  string
	BlockedAt  time.Time
	Reason     string
}

// RiskState — персистентная часть guard'а между рестартами.
// Ключ хранения включает magic: несколько ботов на одном счёте не мешают друг другу.
type RiskState struct {
	HighWater float64   `json:"high_water"`
	DayStart  float64   `json:"day_start"`
	Day       string    `json:"day"` // YYYY-MM-DD торгового дня
	Blocked   bool      `json:"blocked"`
	BlockKind string    `json:"block_kind,omitempty"`
	BlockedAt time.Time `json:"blocked_at,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}
