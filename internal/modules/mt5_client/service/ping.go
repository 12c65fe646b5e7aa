package service

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"prop_bot/internal/traderr"
)

// Ping — heartbeat шлюза. Любой не-2xx считаем недоступностью данных.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/ping", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("Ping: %v: %w", err, traderr.ErrDataUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Ping http %d: %s: %w", resp.StatusCode, string(b), traderr.ErrDataUnavailable)
	}
	return nil
}
