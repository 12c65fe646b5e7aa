package service

import (
	"context"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const (
	pingInterval   = 20 * time.Second
	writeWait      = 10 * time.Second
	readWait       = 90 * time.Second // > pingInterval: понги двигают дедлайн и на пустом рынке
	reconnectDelay = time.Second
)

// Health — индикатор живости стрима для readiness.
type Health interface {
	SetWSConnected(v bool)
}

// кадр тика от моста; служебные кадры (ack подписки) не содержат symbol
type tickFrame struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Time   int64   `json:"time"` // unix seconds
}

// Stream держит один WebSocket к мосту и гонит тики в канал.
// Разрыв — переподключение с повтором подписки; буфер полон — тик
// выбрасывается, котировка это снимок и устареет сама.
type Stream struct {
	url     string
	token   string
	symbols []string
	out     chan<- models.Tick
	health  Health
	dialer  *websocket.Dialer

	dropped atomic.Int64
	now     func() time.Time
}

func NewStream(cfg *config.Config, out chan<- models.Tick, health Health) *Stream {
	return &Stream{
		url:     cfg.Bridge.WSURL,
		token:   cfg.BridgeToken,
		symbols: cfg.Symbols,
		out:     out,
		health:  health,
		dialer:  websocket.DefaultDialer,
		now:     time.Now,
	}
}

func (s *Stream) Run(ctx context.Context) {
	if s.url == "" {
		log.Printf("[WS] ws_url не задан, тиковый стрим выключен")
		return
	}
	for {
		if ctx.Err() != nil {
			return
		}
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		default:
			time.Sleep(reconnectDelay)
		}
	}
}

func (s *Stream) runOnce(ctx context.Context) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		log.Printf("[WS] dial %s: %v", s.url, err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "symbols": s.symbols}); err != nil {
		log.Printf("[WS] subscribe: %v", err)
		return
	}

	if s.health != nil {
		s.health.SetWSConnected(true)
		defer s.health.SetWSConnected(false)
	}
	log.Printf("[WS] 📡 стрим тиков подключен (%d символов)", len(s.symbols))

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(ctx, conn, stopPing)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(s.now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(s.now().Add(readWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[WS] read: %v", err)
			}
			return
		}
		_ = conn.SetReadDeadline(s.now().Add(readWait))
		s.handleFrame(msg)
	}
}

// pingLoop держит соединение живым; заодно будит заблокированный
// ReadMessage при отмене контекста.
func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-stop:
			return
		case <-t.C:
			_ = conn.SetWriteDeadline(s.now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *Stream) handleFrame(msg []byte) {
	var f tickFrame
	if err := sonic.Unmarshal(msg, &f); err != nil {
		return
	}
	if f.Symbol == "" || f.Bid <= 0 || f.Ask < f.Bid {
		return
	}

	ts := s.now().UTC()
	if f.Time > 0 {
		ts = time.Unix(f.Time, 0).UTC()
	}

	select {
	case s.out <- models.Tick{Symbol: f.Symbol, Bid: f.Bid, Ask: f.Ask, Time: ts}:
	default:
		if n := s.dropped.Add(1); n%1000 == 1 {
			log.Printf("[WS] ⚠️ буфер тиков полон, потеряно %d", n)
		}
	}
}
