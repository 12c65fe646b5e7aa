package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"prop_bot/internal/models"
	"prop_bot/internal/traderr"
)

func (c *Client) GetTick(ctx context.Context, symbol string) (models.Tick, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/tick?"+q.Encode(), nil)
	if err != nil {
		return models.Tick{}, fmt.Errorf("build request: %w", err)
	}
	c.apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Tick{}, fmt.Errorf("GetTick %s: %v: %w", symbol, err, traderr.ErrDataUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return models.Tick{}, fmt.Errorf("GetTick http %d: %s: %w", resp.StatusCode, string(b), traderr.ErrDataUnavailable)
	}

	var payload struct {
		OK   bool   `json:"ok"`
		Msg  string `json:"msg"`
		Tick struct {
			Bid  float64 `json:"bid"`
			Ask  float64 `json:"ask"`
			Time int64   `json:"time"`
		} `json:"tick"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return models.Tick{}, fmt.Errorf("decode: %w", err)
	}
	if !payload.OK {
		return models.Tick{}, fmt.Errorf("GetTick %s: %s: %w", symbol, payload.Msg, traderr.ErrDataUnavailable)
	}
	if payload.Tick.Bid <= 0 || payload.Tick.Ask <= 0 || payload.Tick.Ask < payload.Tick.Bid {
		return models.Tick{}, fmt.Errorf("GetTick %s: bad quote bid=%.5f ask=%.5f: %w",
			symbol, payload.Tick.Bid, payload.Tick.Ask, traderr.ErrDataUnavailable)
	}

	return models.Tick{
		Symbol: symbol,
		Bid:    payload.Tick.Bid,
		Ask:    payload.Tick.Ask,
		Time:   time.Unix(payload.Tick.Time, 0).UTC(),
	}, nil
}
