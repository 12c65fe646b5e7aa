package service

import (
	"context"
	"log"
	"time"

	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
)

// Bars — источник закрытых баров (REST шлюза).
type Bars interface {
	GetBars(ctx context.Context, symbol string, tf models.Timeframe, count int) ([]models.Bar, error)
}

// ConnGate — состояние связи и ретраи вокруг вызовов шлюза.
type ConnGate interface {
	State() models.ConnState
	Do(ctx context.Context, op string, fn func(ctx context.Context) error) error
}

// NewsGate блокирует новые входы вокруг важных макро-событий.
type NewsGate interface {
	Blocked(t time.Time) (bool, string)
}

// OpenGate: по символу уже есть живая позиция или ожидающий вход.
type OpenGate interface {
	HasOpen(symbol string) bool
}

// Hub гоняет детектор по расписанию: каждые PollInterval тянет бары по всем
// символам и парам ТФ режима и отдаёт сигналы в канал. Новые входы ищем только
// при CONNECTED и вне новостного окна; ведение открытых позиций идёт отдельным
// путём и этими гейтами не ограничено.
type Hub struct {
	cfg     *config.Config
	catalog *config.Catalog
	bars    Bars
	conn    ConnGate
	news    NewsGate
	open    OpenGate
	engine  Engine
	out     chan<- models.Signal

	lastBar map[string]time.Time // последний обработанный закрытый бар, ключ символ|пара
	now     func() time.Time
}

func NewHub(
	cfg *config.Config,
	catalog *config.Catalog,
	bars Bars,
	conn ConnGate,
	news NewsGate,
	open OpenGate,
	engine Engine,
	out chan<- models.Signal,
) *Hub {
	return &Hub{
		cfg:     cfg,
		catalog: catalog,
		bars:    bars,
		conn:    conn,
		news:    news,
		open:    open,
		engine:  engine,
		out:     out,
		lastBar: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetNow — инъекция часов для бектеста. Звать до запуска скана.
func (h *Hub) SetNow(fn func() time.Time) { h.now = fn }

func (h *Hub) Run(ctx context.Context) {
	log.Printf("[SIGNAL] сканер запущен: engine=%s mode=%s symbols=%v poll=%s",
		h.engine.Name(), h.cfg.Mode, h.cfg.Symbols, h.cfg.PollInterval)

	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[SIGNAL] сканер остановлен: %v", ctx.Err())
			return
		case <-ticker.C:
			h.Scan(ctx)
		}
	}
}

// Scan — один проход по всем символам и парам ТФ.
func (h *Hub) Scan(ctx context.Context) {
	if h.conn.State() != models.ConnConnected {
		return
	}

	// новостная пауза: бары не помечаем обработанными, после окна
	// последний закрытый бар получит свою оценку
	if blocked, why := h.news.Blocked(h.now()); blocked {
		log.Printf("[SIGNAL] пауза: новостное окно (%s)", why)
		return
	}

	for _, sym := range h.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		if h.open.HasOpen(sym) {
			continue // одна позиция на символ, без пирамидинга
		}
		for _, pair := range h.cfg.Pairs() {
			h.scanPair(ctx, sym, pair)
		}
	}
}

func (h *Hub) scanPair(ctx context.Context, sym string, pair config.TFPair) {
	inst, ok := h.catalog.Get(sym)
	if !ok {
		log.Printf("[SIGNAL] %s: нет в каталоге инструментов", sym)
		return
	}

	entry, err := h.fetch(ctx, sym, pair.Entry)
	if err != nil {
		log.Printf("[SIGNAL] %s %s: бары entry не получены: %v", sym, pair.Label(), err)
		return
	}
	if len(entry) == 0 {
		return
	}

	// реагируем один раз на каждый новый закрытый бар entry-ТФ
	key := sym + "|" + pair.Label()
	lastTS := entry[len(entry)-1].Timestamp
	if !lastTS.After(h.lastBar[key]) {
		return
	}

	trend, err := h.fetch(ctx, sym, pair.Trend)
	if err != nil {
		// бар не помечен обработанным: следующий опрос доберёт
		log.Printf("[SIGNAL] %s %s: бары trend не получены: %v", sym, pair.Label(), err)
		return
	}
	h.lastBar[key] = lastTS

	sig, ok := h.engine.Evaluate(inst, pair, entry, trend)
	if !ok {
		return
	}
	sig.DetectedAt = h.now()

	// отдаём наружу, не блокируя сканер
	select {
	case h.out <- sig:
		log.Printf("[SIGNAL] %s %s %s %s @ %.5f SL %.5f TP %.5f (%s)",
			sig.Symbol, sig.PairLabel(), sig.Side, sig.Mode,
			sig.Price, sig.StopLoss, sig.TakeProfit, sig.Reason)
	default:
		log.Printf("[SIGNAL] ⚠️ канал сигналов полон, дроп %s %s @ %.5f", sig.Symbol, sig.Side, sig.Price)
	}
}

func (h *Hub) fetch(ctx context.Context, sym string, tf models.Timeframe) ([]models.Bar, error) {
	var bars []models.Bar
	err := h.conn.Do(ctx, "get_bars "+sym+" "+string(tf), func(ctx context.Context) error {
		var err error
		bars, err = h.bars.GetBars(ctx, sym, tf, h.cfg.Strategy.BarsFetch)
		return err
	})
	return bars, err
}
