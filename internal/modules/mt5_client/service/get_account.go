package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"prop_bot/internal/models"
	"prop_bot/internal/traderr"
)

func (c *Client) GetAccount(ctx context.Context) (models.AccountInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/account", nil)
	if err != nil {
		return models.AccountInfo{}, fmt.Errorf("build request: %w", err)
	}
	c.apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return models.AccountInfo{}, fmt.Errorf("GetAccount: %v: %w", err, traderr.ErrDataUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return models.AccountInfo{}, fmt.Errorf("GetAccount http %d: %s: %w", resp.StatusCode, string(b), traderr.ErrDataUnavailable)
	}

	var payload struct {
		OK      bool   `json:"ok"`
		Msg     string `json:"msg"`
		Account struct {
			Balance    float64 `json:"balance"`
			Equity     float64 `json:"equity"`
			Margin     float64 `json:"margin"`
			FreeMargin float64 `json:"free_margin"`
			Currency   string  `json:"currency"`
			Leverage   int     `json:"leverage"`
		} `json:"account"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return models.AccountInfo{}, fmt.Errorf("decode: %w", err)
	}
	if !payload.OK {
		return models.AccountInfo{}, fmt.Errorf("GetAccount: %s: %w", payload.Msg, traderr.ErrDataUnavailable)
	}
	if payload.Account.Equity <= 0 {
		return models.AccountInfo{}, fmt.Errorf("GetAccount: equity <= 0: %.2f: %w", payload.Account.Equity, traderr.ErrDataUnavailable)
	}

	return models.AccountInfo{
		Balance:    payload.Account.Balance,
		Equity:     payload.Account.Equity,
		Margin:     payload.Account.Margin,
		FreeMargin: payload.Account.FreeMargin,
		Currency:   payload.Account.Currency,
		Leverage:   payload.Account.Leverage,
	}, nil
}
