package service

import (
	"net/http"
	"strings"

	"prop_bot/internal/modules/config"
)

// Client — REST-клиент локального шлюза MT5 (мост между ботом и терминалом).
// Все цены и объёмы шлюз отдаёт уже числами, парсить строки как у бирж не нужно.
type Client struct {
	base  string
	token string
	magic int64
	http  *http.Client
}

func New(cfg *config.Config) *Client {
	return &Client{
		base:  strings.TrimRight(cfg.Bridge.URL, "/"),
		token: cfg.BridgeToken,
		magic: cfg.Magic,
		http:  &http.Client{Timeout: cfg.Bridge.Timeout},
	}
}

func (c *Client) apply(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// Magic — скоуп бота на счёте, шлюз фильтрует позиции по нему.
func (c *Client) Magic() int64 { return c.magic }
