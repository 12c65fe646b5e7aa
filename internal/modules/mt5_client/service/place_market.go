package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"prop_bot/internal/traderr"
	"prop_bot/pkg/tracing"

	"github.com/bytedance/sonic"
)

// PlaceMarket — рыночный вход. SL/TP ставятся сразу в той же заявке:
// даже если бот умрёт через секунду, стоп уже на сервере.
func (c *Client) PlaceMarket(ctx context.Context, r OrderRequest) (Fill, error) {
	span, ctx := tracing.StartSpan(ctx, "mt5.place_market")
	defer span.Finish()

	payload := map[string]interface{}{
		"symbol":  r.Symbol,
		"side":    string(r.Side),
		"lots":    r.Lots,
		"sl":      r.SL,
		"tp":      r.TP,
		"magic":   c.magic,
		"comment": r.Comment,
	}
	body, err := sonic.Marshal(payload)
	if err != nil {
		return Fill{}, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/orders/market", bytes.NewReader(body))
	if err != nil {
		return Fill{}, fmt.Errorf("build request: %w", err)
	}
	c.apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return Fill{}, fmt.Errorf("PlaceMarket %s: %v: %w", r.Symbol, err, traderr.ErrDataUnavailable)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return Fill{}, fmt.Errorf("PlaceMarket http %d: %s: %w", resp.StatusCode, string(data), traderr.ErrDataUnavailable)
	}

	var out struct {
		OK     bool    `json:"ok"`
		Code   int     `json:"code"`
		Msg    string  `json:"msg"`
		Ticket int64   `json:"ticket"`
		Price  float64 `json:"price"`
		Time   int64   `json:"time"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return Fill{}, fmt.Errorf("decode: %w: RAW=%s", err, string(data))
	}
	if !out.OK {
		return Fill{}, &traderr.OrderError{Op: "PlaceMarket", Code: out.Code, Msg: out.Msg, Retryable: retryableCode(out.Code)}
	}
	if out.Ticket == 0 || out.Price <= 0 {
		return Fill{}, fmt.Errorf("PlaceMarket: empty fill: RAW=%s", string(data))
	}

	return Fill{
		Ticket: out.Ticket,
		Price:  out.Price,
		Time:   time.Unix(out.Time, 0).UTC(),
	}, nil
}
