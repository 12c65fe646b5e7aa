package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"prop_bot/internal/models"
	"prop_bot/internal/traderr"
)

// GetBars — последние count закрытых баров, по возрастанию времени.
// Текущий формирующийся бар шлюз не отдаёт (startим с shift=1 на стороне моста).
func (c *Client) GetBars(ctx context.Context, symbol string, tf models.Timeframe, count int) ([]models.Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", string(tf))
	q.Set("count", strconv.Itoa(count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/bars?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GetBars %s %s: %v: %w", symbol, tf, err, traderr.ErrDataUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("GetBars http %d: %s: %w", resp.StatusCode, string(b), traderr.ErrDataUnavailable)
	}

	var payload struct {
		OK   bool     `json:"ok"`
		Msg  string   `json:"msg"`
		Bars []barRow `json:"bars"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if !payload.OK {
		return nil, fmt.Errorf("GetBars %s: %s: %w", symbol, payload.Msg, traderr.ErrDataUnavailable)
	}

	bars := make([]models.Bar, 0, len(payload.Bars))
	for _, row := range payload.Bars {
		// битые бары отбрасываем целиком, частичное окно хуже короткого
		if row.High < row.Low || row.Open <= 0 || row.Close <= 0 {
			return nil, fmt.Errorf("GetBars %s: malformed bar at %d: %w", symbol, row.Time, traderr.ErrDataUnavailable)
		}
		bars = append(bars, models.Bar{
			Symbol:    symbol,
			Timeframe: tf,
			Timestamp: time.Unix(row.Time, 0).UTC(),
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		})
	}
	return bars, nil
}
