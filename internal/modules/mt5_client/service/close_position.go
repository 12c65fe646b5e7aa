package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"prop_bot/internal/traderr"
	"prop_bot/pkg/tracing"

	"github.com/bytedance/sonic"
)

// ClosePosition закрывает позицию целиком, возвращает цену выхода.
// ErrNotFound — позиция уже закрыта сервером (SL/TP брокера), для
// вызывающего это подтверждение закрытия, а не сбой.
func (c *Client) ClosePosition(ctx context.Context, ticket int64) (float64, error) {
	span, ctx := tracing.StartSpan(ctx, "mt5.close_position")
	defer span.Finish()

	payload := map[string]interface{}{
		"ticket": ticket,
	}
	body, err := sonic.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/positions/close", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	c.apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ClosePosition %d: %v: %w", ticket, err, traderr.ErrDataUnavailable)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("ClosePosition http %d: %s: %w", resp.StatusCode, string(data), traderr.ErrDataUnavailable)
	}

	var out struct {
		OK    bool    `json:"ok"`
		Code  int     `json:"code"`
		Msg   string  `json:"msg"`
		Price float64 `json:"price"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("decode: %w: RAW=%s", err, string(data))
	}
	if !out.OK {
		if out.Code == codePositionClosed {
			return 0, fmt.Errorf("ClosePosition %d: %w", ticket, traderr.ErrNotFound)
		}
		return 0, &traderr.OrderError{Op: "ClosePosition", Code: out.Code, Msg: out.Msg, Retryable: retryableCode(out.Code)}
	}
	return out.Price, nil
}
