package models

import "time"

type EventType string

const (
	EventSignal          EventType = "signal"
	EventOrderPlaced     EventType = "order_placed"
	EventEntryFilled     EventType = "entry_filled"
	EventEntryExpired    EventType = "entry_expired"
	EventBreakeven       EventType = "breakeven_set"
	EventTrailing        EventType = "trailing_update"
	EventClosed          EventType = "position_closed"
	EventRejected        EventType = "signal_rejected"
	EventDrawdownBlock   EventType = "drawdown_blocked"
	EventDrawdownReset   EventType = "drawdown_reset"
	EventConnState       EventType = "conn_state"
	EventProtectiveAlert EventType = "protective_alert"
	EventReport          EventType = "report"
)

// TrySend — неблокирующая отправка события. nil-канал (бектест) молча глотает.
// false = канал полон, событие потеряно; вызывающий решает, логировать ли.
func TrySend(ch chan<- Event, e Event) bool {
	if ch == nil {
		return true
	}
	select {
	case ch <- e:
		return true
	default:
		return false
	}
}

// Event — то, что уходит подписчикам (telegram, лог). Поля заполняются
// по смыслу типа, формат сообщения собирает подписчик.
type Event struct {
	Type   EventType
	At     time.Time
	Symbol string
	Ticket int64
	Side   Side
	Price  float64
	SL     float64
	TP     float64
	Lots   float64
	Profit float64
	Reason string
	State  string
	Text   string
}
