package service

import (
	"time"

	"prop_bot/internal/models"
)

// OrderRequest — заявка на вход. Price используется только для limit.
type OrderRequest struct {
	Symbol  string
	Side    models.Side
	Lots    float64
	Price   float64
	SL      float64
	TP      float64
	Comment string
}

// Fill — результат исполнения market-заявки.
type Fill struct {
	Ticket int64
	Price  float64
	Time   time.Time
}

// Ответы шлюза. Общий конверт: ok=false + retcode MT5 в code.
type errEnvelope struct {
	OK   bool   `json:"ok"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type barRow struct {
	Time   int64   `json:"t"` // unix seconds открытия бара
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

type positionRow struct {
	Ticket    int64   `json:"ticket"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Lots      float64 `json:"lots"`
	OpenPrice float64 `json:"open_price"`
	SL        float64 `json:"sl"`
	TP        float64 `json:"tp"`
	Profit    float64 `json:"profit"`
	OpenedAt  int64   `json:"opened_at"`
	Magic     int64   `json:"magic"`
}

// Retcode-ы MT5, после которых есть смысл повторить запрос:
// requote, timeout, price changed, off quotes, no connection.
func retryableCode(code int) bool {
	switch code {
	case 10004, 10012, 10020, 10021, 10031:
		return true
	}
	return false
}

// TRADE_RETCODE_POSITION_CLOSED: позиция уже закрыта на сервере.
const codePositionClosed = 10036
