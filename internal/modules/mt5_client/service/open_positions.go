package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"prop_bot/internal/models"
	"prop_bot/internal/traderr"
)

// OpenPositions — открытые позиции нашего magic. Чужие позиции на счёте
// шлюз отфильтровывает сам, бот их никогда не видит и не трогает.
func (c *Client) OpenPositions(ctx context.Context) ([]models.BrokerPosition, error) {
	u := c.base + "/api/v1/positions?magic=" + strconv.FormatInt(c.magic, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OpenPositions: %v: %w", err, traderr.ErrDataUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("OpenPositions http %d: %s: %w", resp.StatusCode, string(b), traderr.ErrDataUnavailable)
	}

	var payload struct {
		OK        bool          `json:"ok"`
		Msg       string        `json:"msg"`
		Positions []positionRow `json:"positions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if !payload.OK {
		return nil, fmt.Errorf("OpenPositions: %s: %w", payload.Msg, traderr.ErrDataUnavailable)
	}

	out := make([]models.BrokerPosition, 0, len(payload.Positions))
	for _, row := range payload.Positions {
		side := models.SideBuy
		if row.Side == "SELL" || row.Side == "sell" {
			side = models.SideSell
		}
		out = append(out, models.BrokerPosition{
			Ticket:    row.Ticket,
			Symbol:    row.Symbol,
			Side:      side,
			Lots:      row.Lots,
			OpenPrice: row.OpenPrice,
			SL:        row.SL,
			TP:        row.TP,
			Profit:    row.Profit,
			OpenedAt:  time.Unix(row.OpenedAt, 0).UTC(),
			Magic:     row.Magic,
		})
	}
	return out, nil
}
