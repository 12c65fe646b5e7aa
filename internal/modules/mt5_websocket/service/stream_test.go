package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"prop_bot/internal/models"

	"github.com/gorilla/websocket"
)

func testStream(out chan models.Tick) *Stream {
	return &Stream{
		symbols: []string{"EURUSD"},
		out:     out,
		dialer:  websocket.DefaultDialer,
		now:     time.Now,
	}
}

func TestHandleFrameParsesTick(t *testing.T) {
	out := make(chan models.Tick, 4)
	s := testStream(out)

	s.handleFrame([]byte(`{"symbol":"EURUSD","bid":1.1000,"ask":1.10015,"time":1772452800}`))

	select {
	case tick := <-out:
		if tick.Symbol != "EURUSD" || tick.Bid != 1.1000 || tick.Ask != 1.10015 {
			t.Fatalf("tick = %+v", tick)
		}
		if !tick.Time.Equal(time.Unix(1772452800, 0).UTC()) {
			t.Fatalf("time = %v", tick.Time)
		}
	default:
		t.Fatal("тик не попал в канал")
	}
}

func TestHandleFrameSkipsGarbage(t *testing.T) {
	out := make(chan models.Tick, 4)
	s := testStream(out)

	for _, frame := range []string{
		`{"ok":true}`,                                  // ack подписки
		`{"symbol":"EURUSD","bid":0,"ask":1.1}`,        // нулевой bid
		`{"symbol":"EURUSD","bid":1.2,"ask":1.1}`,      // ask < bid
		`not json at all`,                              //
		`{"symbol":"","bid":1.1,"ask":1.2}`,            // без символа
	} {
		s.handleFrame([]byte(frame))
	}

	if len(out) != 0 {
		t.Fatalf("в канале %d тиков, мусор должен отбрасываться", len(out))
	}
}

func TestHandleFrameDropsOnFullBuffer(t *testing.T) {
	out := make(chan models.Tick, 1)
	s := testStream(out)

	frame := []byte(`{"symbol":"EURUSD","bid":1.1,"ask":1.2,"time":1}`)
	s.handleFrame(frame)
	s.handleFrame(frame) // буфер полон — не должен блокировать
	s.handleFrame(frame)

	if len(out) != 1 {
		t.Fatalf("в канале %d тиков, ждали 1", len(out))
	}
	if got := s.dropped.Load(); got != 2 {
		t.Fatalf("dropped = %d, ждали 2", got)
	}
}

type wsConnCounter struct {
	conns atomic.Int32
}

func TestRunReconnectsAndResubscribes(t *testing.T) {
	up := websocket.Upgrader{}
	cnt := &wsConnCounter{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := cnt.conns.Add(1)

		// первое сообщение всегда подписка
		var sub struct {
			Op      string   `json:"op"`
			Symbols []string `json:"symbols"`
		}
		if err := conn.ReadJSON(&sub); err != nil || sub.Op != "subscribe" {
			t.Errorf("ждали подписку, got %+v err=%v", sub, err)
			_ = conn.Close()
			return
		}

		// первое соединение: тик и обрыв; второе живёт до конца теста
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"symbol":"EURUSD","bid":1.1000,"ask":1.1001,"time":100}`))
		if n == 1 {
			_ = conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	out := make(chan models.Tick, 16)
	s := testStream(out)
	s.url = "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.After(5 * time.Second)
	got := 0
	for got < 2 {
		select {
		case <-out:
			got++
		case <-deadline:
			t.Fatalf("получили %d тиков, ждали тик с обоих соединений", got)
		}
	}
	if cnt.conns.Load() < 2 {
		t.Fatalf("соединений %d: после обрыва стрим должен переподключиться", cnt.conns.Load())
	}
}
