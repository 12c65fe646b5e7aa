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

// ModifyPosition — перестановка SL/TP открытой позиции. sl/tp = 0 — не трогать уровень.
func (c *Client) ModifyPosition(ctx context.Context, ticket int64, sl, tp float64) error {
	payload := map[string]interface{}{
		"ticket": ticket,
		"sl":     sl,
		"tp":     tp,
	}
	body, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/positions/modify", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ModifyPosition %d: %v: %w", ticket, err, traderr.ErrDataUnavailable)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("ModifyPosition http %d: %s: %w", resp.StatusCode, string(data), traderr.ErrDataUnavailable)
	}

	var out errEnvelope
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode: %w: RAW=%s", err, string(data))
	}
	if !out.OK {
		if out.Code == codePositionClosed {
			return fmt.Errorf("ModifyPosition %d: %w", ticket, traderr.ErrNotFound)
		}
		return &traderr.OrderError{Op: "ModifyPosition", Code: out.Code, Msg: out.Msg, Retryable: retryableCode(out.Code)}
	}
	return nil
}
