package service

import (
	"context"
	"log"
	"sync"
	"time"

	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
)

// Archiver — приёмник закрытых позиций (журнал). nil допустим: бектест
// собирает результаты сам.
type Archiver interface {
	Archive(ctx context.Context, pos models.Position) error
}

// Tracker — реестр живых позиций по тикету. Маршрутизирует тики, сверяет
// реестр с сервером, ведёт временные выходы и отдаёт FlattenAll для
// защёлки просадки. Каждый Trade живёт под своим мьютексом: обработка
// одного не задерживает остальные.
type Tracker struct {
	cfg     config.LifecycleConfig
	loc     *time.Location
	orders  Orders
	sup     Conn
	events  chan<- models.Event
	journal Archiver
	now     func() time.Time

	mu     sync.Mutex
	trades map[int64]*Trade
}

func NewTracker(cfg *config.Config, orders Orders, sup Conn, events chan<- models.Event, journal Archiver) *Tracker {
	return &Tracker{
		cfg:     cfg.Lifecycle,
		loc:     cfg.Location(),
		orders:  orders,
		sup:     sup,
		events:  events,
		journal: journal,
		now:     time.Now,
		trades:  make(map[int64]*Trade),
	}
}

// SetNow — инъекция часов для бектеста. Звать до первого Track:
// каждый Trade забирает функцию времени при создании.
func (tr *Tracker) SetNow(fn func() time.Time) {
	tr.mu.Lock()
	tr.now = fn
	tr.mu.Unlock()
}

// Track берёт позицию (или лимитку) под управление.
func (tr *Tracker) Track(pos models.Position, inst models.Instrument) *Trade {
	t := newTrade(tr.cfg, inst, pos, tr.orders, tr.sup, tr.events, tr.now)
	tr.mu.Lock()
	tr.trades[pos.Ticket] = t
	n := len(tr.trades)
	tr.mu.Unlock()

	log.Printf("[LIFE] #%d %s %s %.2f @ %.5f взята под управление (%s), всего %d",
		pos.Ticket, pos.Symbol, pos.Side, pos.Lots, pos.EntryPrice, pos.State, n)
	return t
}

// HasOpen — есть ли по символу живая позиция или висящая лимитка.
// Гейт детектора: одна позиция на символ, без пирамидинга.
func (tr *Tracker) HasOpen(symbol string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, t := range tr.trades {
		if t.Symbol() == symbol && !t.State().Terminal() {
			return true
		}
	}
	return false
}

// Positions — снимки всех неархивированных позиций для /positions и /status.
func (tr *Tracker) Positions() []models.Position {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]models.Position, 0, len(tr.trades))
	for _, t := range tr.trades {
		out = append(out, t.Snapshot())
	}
	return out
}

// OnTick раздаёт тик позициям символа. Каждому трейду — своя горутина:
// застрявший защитный вызов одной позиции не оставляет другие без тиков.
func (tr *Tracker) OnTick(ctx context.Context, tick models.Tick) {
	for _, t := range tr.bySymbol(tick.Symbol) {
		go t.OnTick(ctx, tick)
	}
}

// TickNow — синхронная раздача тика. Реплей истории обязан дорабатывать
// каждый тик до конца, прежде чем проигрывать следующий.
func (tr *Tracker) TickNow(ctx context.Context, tick models.Tick) {
	for _, t := range tr.bySymbol(tick.Symbol) {
		t.OnTick(ctx, tick)
	}
}

func (tr *Tracker) bySymbol(symbol string) []*Trade {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	var ts []*Trade
	for _, t := range tr.trades {
		if t.Symbol() == symbol {
			ts = append(ts, t)
		}
	}
	return ts
}

// RefreshWorker сверяет реестр с сервером: исполнение лимиток, закрытия на
// стороне брокера, плавающий профит. При недоступном шлюзе цикл пропускается
// целиком — отсутствие данных не повод считать позиции закрытыми.
func (tr *Tracker) RefreshWorker(ctx context.Context) {
	iv := tr.cfg.RefreshInterval
	if iv <= 0 {
		iv = 30 * time.Second
	}
	log.Printf("[LIFE] сверка позиций каждые %s", iv)
	ticker := time.NewTicker(iv)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tr.Refresh(ctx)
		}
	}
}

func (tr *Tracker) Refresh(ctx context.Context) {
	var broker []models.BrokerPosition
	err := tr.sup.Do(ctx, "open positions", func(ctx context.Context) error {
		var e error
		broker, e = tr.orders.OpenPositions(ctx)
		return e
	})
	if err != nil {
		log.Printf("[LIFE] сверка не удалась: %v", err)
		return
	}

	onServer := make(map[int64]models.BrokerPosition, len(broker))
	for _, bp := range broker {
		onServer[bp.Ticket] = bp
	}

	tr.mu.Lock()
	ts := make([]*Trade, 0, len(tr.trades))
	for _, t := range tr.trades {
		ts = append(ts, t)
	}
	tr.mu.Unlock()

	for _, t := range ts {
		bp, present := onServer[t.Ticket()]
		switch {
		case t.State() == models.StatePendingEntry && present:
			t.OnFilled(bp)
		case t.State().Open() && present:
			t.OnSync(bp)
		case t.State().Open() && !present:
			t.OnExternalClose()
		}
	}

	tr.sweep(ctx)
}

// MinuteWorker — временные выходы: пятница перед выходными, потолок
// удержания, протухшие лимитки, созревшие отложенные закрытия.
func (tr *Tracker) MinuteWorker(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tr.RunTimeExits(ctx)
		}
	}
}

func (tr *Tracker) RunTimeExits(ctx context.Context) {
	now := tr.now().In(tr.loc)
	friday := tr.cfg.FridayExitHour > 0 &&
		now.Weekday() == time.Friday && now.Hour() >= tr.cfg.FridayExitHour

	tr.mu.Lock()
	ts := make([]*Trade, 0, len(tr.trades))
	for _, t := range tr.trades {
		ts = append(ts, t)
	}
	tr.mu.Unlock()

	for _, t := range ts {
		switch st := t.State(); {
		case st == models.StatePendingEntry:
			if friday {
				t.Cancel(ctx, models.CloseFriday)
			} else {
				t.ExpireIfStale(ctx)
			}
		case st.Open():
			p := t.Snapshot()
			if friday {
				t.RequestClose(ctx, models.CloseFriday, false)
			} else if tr.cfg.MaxHold > 0 && !p.OpenedAt.IsZero() && tr.now().Sub(p.OpenedAt) >= tr.cfg.MaxHold {
				t.RequestClose(ctx, models.CloseMaxHold, false)
			}
			t.RunDue(ctx)
		}
	}

	tr.sweep(ctx)
}

// FlattenAll — аварийное закрытие всего: защёлка просадки сработала.
// force обходит минимальную длительность, лимитки снимаются.
func (tr *Tracker) FlattenAll(reason string) {
	tr.mu.Lock()
	ts := make([]*Trade, 0, len(tr.trades))
	for _, t := range tr.trades {
		ts = append(ts, t)
	}
	tr.mu.Unlock()

	log.Printf("[LIFE] 🛑 принудительное закрытие всех позиций: %s", reason)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// все закрытия параллельно: защита капитала не ждёт в очереди
	var wg sync.WaitGroup
	for _, t := range ts {
		wg.Add(1)
		go func(t *Trade) {
			defer wg.Done()
			if t.State() == models.StatePendingEntry {
				t.Cancel(ctx, models.CloseDrawdown)
				return
			}
			t.RequestClose(ctx, models.CloseDrawdown, true)
		}(t)
	}
	wg.Wait()
	tr.sweep(ctx)
}

// FlushWorker перезапускает невыполненные защитные инструкции после
// восстановления связи, не дожидаясь следующего тика.
func (tr *Tracker) FlushWorker(ctx context.Context, states <-chan models.ConnState) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			if st != models.ConnConnected {
				continue
			}
			tr.FlushAll(ctx)
		}
	}
}

func (tr *Tracker) FlushAll(ctx context.Context) {
	tr.mu.Lock()
	ts := make([]*Trade, 0, len(tr.trades))
	for _, t := range tr.trades {
		ts = append(ts, t)
	}
	tr.mu.Unlock()

	for _, t := range ts {
		t.FlushPending(ctx)
		t.RunDue(ctx)
	}
}

// sweep архивирует закрытые позиции и убирает их из реестра.
func (tr *Tracker) sweep(ctx context.Context) {
	tr.mu.Lock()
	var done []models.Position
	for ticket, t := range tr.trades {
		if p := t.Snapshot(); p.State.Terminal() {
			done = append(done, p)
			delete(tr.trades, ticket)
		}
	}
	tr.mu.Unlock()

	for _, p := range done {
		if tr.journal == nil {
			continue
		}
		if err := tr.journal.Archive(ctx, p); err != nil {
			log.Printf("[LIFE] журнал не записал #%d: %v", p.Ticket, err)
		}
	}
}
