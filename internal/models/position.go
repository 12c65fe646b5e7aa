package models

import "time"

// TradeState — жизненный цикл позиции. Переходы только вперёд,
// допустимые пары захардкожены в lifecycle.
type TradeState string

const (
	StatePendingEntry  TradeState = "PENDING_ENTRY"
	StateOpenUnmanaged TradeState = "OPEN_UNMANAGED"
	StateOpenBreakeven TradeState = "OPEN_BREAKEVEN"
	StateOpenTrailing  TradeState = "OPEN_TRAILING"
	StateClosing       TradeState = "CLOSING"
	StateClosed        TradeState = "CLOSED"
)

// Open — позиция реально открыта на сервере (не pending и не terminal).
func (s TradeState) Open() bool {
	switch s {
	case StateOpenUnmanaged, StateOpenBreakeven, StateOpenTrailing, StateClosing:
		return true
	}
	return false
}

func (s TradeState) Terminal() bool { return s == StateClosed }

type CloseReason string

const (
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTakeProfit CloseReason = "take_profit"
	CloseMaxHold    CloseReason = "max_hold"
	CloseFriday     CloseReason = "friday_exit"
	CloseManual     CloseReason = "manual"
	CloseDrawdown   CloseReason = "drawdown_flatten"
	CloseExpired    CloseReason = "entry_expired"
	CloseExternal   CloseReason = "external" // закрыта на стороне сервера (SL/TP брокера)
)

type Position struct {
	Ticket     int64
	Symbol     string
	Side       Side
	Lots       float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	State      TradeState
	OpenedAt   time.Time
	ClosedAt   time.Time
	ExitPrice  float64
	Profit     float64
	Reason     CloseReason
	Magic      int64
	Comment    string
}

// BrokerPosition — открытая позиция так, как её видит шлюз.
type BrokerPosition struct {
	Ticket    int64
	Symbol    string
	Side      Side
	Lots      float64
	OpenPrice float64
	SL        float64
	TP        float64
	Profit    float64
	OpenedAt  time.Time
	Magic     int64
}
