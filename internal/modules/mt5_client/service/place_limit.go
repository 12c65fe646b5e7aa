package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"prop_bot/internal/traderr"

	"github.com/bytedance/sonic"
)

// PlaceLimit — отложенный вход по уровню. Возвращает тикет ордера;
// позицией он становится после исполнения (видно через OpenPositions).
func (c *Client) PlaceLimit(ctx context.Context, r OrderRequest) (int64, error) {
	payload := map[string]interface{}{
		"symbol":  r.Symbol,
		"side":    string(r.Side),
		"lots":    r.Lots,
		"price":   r.Price,
		"sl":      r.SL,
		"tp":      r.TP,
		"magic":   c.magic,
		"comment": r.Comment,
	}
	body, err := sonic.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/orders/limit", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	c.apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("PlaceLimit %s: %v: %w", r.Symbol, err, traderr.ErrDataUnavailable)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("PlaceLimit http %d: %s: %w", resp.StatusCode, string(data), traderr.ErrDataUnavailable)
	}

	var out struct {
		OK     bool   `json:"ok"`
		Code   int    `json:"code"`
		Msg    string `json:"msg"`
		Ticket int64  `json:"ticket"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("decode: %w: RAW=%s", err, string(data))
	}
	if !out.OK {
		return 0, &traderr.OrderError{Op: "PlaceLimit", Code: out.Code, Msg: out.Msg, Retryable: retryableCode(out.Code)}
	}
	if out.Ticket == 0 {
		return 0, fmt.Errorf("PlaceLimit: empty ticket: RAW=%s", string(data))
	}

	return out.Ticket, nil
}
