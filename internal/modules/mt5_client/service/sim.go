package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
	"prop_bot/internal/traderr"
)

const simEps = 1e-9

// Sim — бумажный исполнитель с интерфейсом шлюза. Используется бектестом
// и dry_run. Стопы и тейки срабатывают внутри на каждом Push, как у брокера:
// lifecycle узнаёт о закрытии тем же путём, что и в бою (ErrNotFound/refresh).
type Sim struct {
	mu         sync.Mutex
	cat        *config.Catalog
	magic      int64
	balance    float64
	nextTicket int64
	ticks      map[string]models.Tick
	open       map[int64]*simPosition
	pending    map[int64]*simOrder
	closed     []models.Position
	now        func() time.Time
}

type simPosition struct {
	ticket   int64
	symbol   string
	side     models.Side
	lots     float64
	entry    float64
	sl, tp   float64
	openedAt time.Time
	comment  string
}

type simOrder struct {
	ticket   int64
	symbol   string
	side     models.Side
	lots     float64
	price    float64
	sl, tp   float64
	placedAt time.Time
	comment  string
}

func NewSim(cat *config.Catalog, magic int64, startBalance float64) *Sim {
	return &Sim{
		cat:        cat,
		magic:      magic,
		balance:    startBalance,
		nextTicket: 1000,
		ticks:      make(map[string]models.Tick),
		open:       make(map[int64]*simPosition),
		pending:    make(map[int64]*simOrder),
		now:        time.Now,
	}
}

// SetNow — инъекция часов для бектеста.
func (s *Sim) SetNow(fn func() time.Time) {
	s.mu.Lock()
	s.now = fn
	s.mu.Unlock()
}

// Push — новая цена. Исполняет лимитки, срабатывает стопы/тейки.
// Порядок консервативный: сначала SL, потом TP.
func (s *Sim) Push(t models.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks[t.Symbol] = t

	for ticket, o := range s.pending {
		if o.symbol != t.Symbol {
			continue
		}
		filled := false
		if o.side == models.SideBuy && t.Ask <= o.price+simEps {
			filled = true
		}
		if o.side == models.SideSell && t.Bid >= o.price-simEps {
			filled = true
		}
		if filled {
			s.open[ticket] = &simPosition{
				ticket:   ticket,
				symbol:   o.symbol,
				side:     o.side,
				lots:     o.lots,
				entry:    o.price,
				sl:       o.sl,
				tp:       o.tp,
				openedAt: s.now(),
				comment:  o.comment,
			}
			delete(s.pending, ticket)
		}
	}

	for ticket, p := range s.open {
		if p.symbol != t.Symbol {
			continue
		}
		switch p.side {
		case models.SideBuy:
			if p.sl > 0 && t.Bid <= p.sl+simEps {
				s.closeLocked(ticket, p.sl, models.CloseStopLoss)
				continue
			}
			if p.tp > 0 && t.Bid >= p.tp-simEps {
				s.closeLocked(ticket, p.tp, models.CloseTakeProfit)
			}
		case models.SideSell:
			if p.sl > 0 && t.Ask >= p.sl-simEps {
				s.closeLocked(ticket, p.sl, models.CloseStopLoss)
				continue
			}
			if p.tp > 0 && t.Ask <= p.tp+simEps {
				s.closeLocked(ticket, p.tp, models.CloseTakeProfit)
			}
		}
	}
}

// profit в валюте счёта: ход цены в тиках * стоимость тика * лоты.
func (s *Sim) profit(p *simPosition, exit float64) float64 {
	inst, ok := s.cat.Get(p.symbol)
	if !ok || inst.TickSize <= 0 {
		return 0
	}
	dist := exit - p.entry
	if p.side == models.SideSell {
		dist = p.entry - exit
	}
	return dist / inst.TickSize * inst.TickValue * p.lots
}

func (s *Sim) closeLocked(ticket int64, exit float64, reason models.CloseReason) {
	p, ok := s.open[ticket]
	if !ok {
		return
	}
	pnl := s.profit(p, exit)
	s.balance += pnl
	s.closed = append(s.closed, models.Position{
		Ticket:     p.ticket,
		Symbol:     p.symbol,
		Side:       p.side,
		Lots:       p.lots,
		EntryPrice: p.entry,
		StopLoss:   p.sl,
		TakeProfit: p.tp,
		State:      models.StateClosed,
		OpenedAt:   p.openedAt,
		ClosedAt:   s.now(),
		ExitPrice:  exit,
		Profit:     pnl,
		Reason:     reason,
		Magic:      s.magic,
		Comment:    p.comment,
	})
	delete(s.open, ticket)
}

func (s *Sim) equityLocked() float64 {
	eq := s.balance
	for _, p := range s.open {
		t, ok := s.ticks[p.symbol]
		if !ok {
			continue
		}
		px := t.Bid
		if p.side == models.SideSell {
			px = t.Ask
		}
		eq += s.profit(p, px)
	}
	return eq
}

func (s *Sim) Ping(ctx context.Context) error { return nil }

func (s *Sim) GetTick(ctx context.Context, symbol string) (models.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.ticks[symbol]
	if !ok {
		return models.Tick{}, fmt.Errorf("sim: no tick for %s: %w", symbol, traderr.ErrDataUnavailable)
	}
	return t, nil
}

func (s *Sim) GetAccount(ctx context.Context) (models.AccountInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var margin float64
	for _, p := range s.open {
		inst, ok := s.cat.Get(p.symbol)
		if !ok {
			continue
		}
		margin += p.lots * inst.ContractSize * p.entry * inst.MarginRate
	}
	eq := s.equityLocked()
	return models.AccountInfo{
		Balance:    s.balance,
		Equity:     eq,
		Margin:     margin,
		FreeMargin: eq - margin,
		Currency:   "USD",
		Leverage:   100,
	}, nil
}

func (s *Sim) OpenPositions(ctx context.Context) ([]models.BrokerPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.BrokerPosition, 0, len(s.open))
	for _, p := range s.open {
		var profit float64
		if t, ok := s.ticks[p.symbol]; ok {
			px := t.Bid
			if p.side == models.SideSell {
				px = t.Ask
			}
			profit = s.profit(p, px)
		}
		out = append(out, models.BrokerPosition{
			Ticket:    p.ticket,
			Symbol:    p.symbol,
			Side:      p.side,
			Lots:      p.lots,
			OpenPrice: p.entry,
			SL:        p.sl,
			TP:        p.tp,
			Profit:    profit,
			OpenedAt:  p.openedAt,
			Magic:     s.magic,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (s *Sim) PlaceMarket(ctx context.Context, r OrderRequest) (Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Lots <= 0 {
		return Fill{}, &traderr.OrderError{Op: "PlaceMarket", Code: 10014, Msg: "invalid volume", Retryable: false}
	}
	t, ok := s.ticks[r.Symbol]
	if !ok {
		return Fill{}, fmt.Errorf("sim: no tick for %s: %w", r.Symbol, traderr.ErrDataUnavailable)
	}
	px := t.Ask
	if r.Side == models.SideSell {
		px = t.Bid
	}

	s.nextTicket++
	ticket := s.nextTicket
	s.open[ticket] = &simPosition{
		ticket:   ticket,
		symbol:   r.Symbol,
		side:     r.Side,
		lots:     r.Lots,
		entry:    px,
		sl:       r.SL,
		tp:       r.TP,
		openedAt: s.now(),
		comment:  r.Comment,
	}
	return Fill{Ticket: ticket, Price: px, Time: s.now()}, nil
}

func (s *Sim) PlaceLimit(ctx context.Context, r OrderRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Lots <= 0 {
		return 0, &traderr.OrderError{Op: "PlaceLimit", Code: 10014, Msg: "invalid volume", Retryable: false}
	}
	if r.Price <= 0 {
		return 0, &traderr.OrderError{Op: "PlaceLimit", Code: 10015, Msg: "invalid price", Retryable: false}
	}

	s.nextTicket++
	ticket := s.nextTicket
	s.pending[ticket] = &simOrder{
		ticket:   ticket,
		symbol:   r.Symbol,
		side:     r.Side,
		lots:     r.Lots,
		price:    r.Price,
		sl:       r.SL,
		tp:       r.TP,
		placedAt: s.now(),
		comment:  r.Comment,
	}
	return ticket, nil
}

func (s *Sim) ModifyPosition(ctx context.Context, ticket int64, sl, tp float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.open[ticket]
	if !ok {
		return fmt.Errorf("sim modify %d: %w", ticket, traderr.ErrNotFound)
	}
	if sl > 0 {
		p.sl = sl
	}
	if tp > 0 {
		p.tp = tp
	}
	return nil
}

func (s *Sim) ClosePosition(ctx context.Context, ticket int64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.open[ticket]
	if !ok {
		return 0, fmt.Errorf("sim close %d: %w", ticket, traderr.ErrNotFound)
	}
	t, ok := s.ticks[p.symbol]
	if !ok {
		return 0, fmt.Errorf("sim: no tick for %s: %w", p.symbol, traderr.ErrDataUnavailable)
	}
	px := t.Bid
	if p.side == models.SideSell {
		px = t.Ask
	}
	s.closeLocked(ticket, px, models.CloseManual)
	return px, nil
}

func (s *Sim) CancelOrder(ctx context.Context, ticket int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[ticket]; !ok {
		return fmt.Errorf("sim cancel %d: %w", ticket, traderr.ErrNotFound)
	}
	delete(s.pending, ticket)
	return nil
}

// ClosedTrades — копия журнала закрытий (для отчёта бектеста).
func (s *Sim) ClosedTrades() []models.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Position, len(s.closed))
	copy(out, s.closed)
	return out
}

// Equity — текущая equity с учётом плавающего результата.
func (s *Sim) Equity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.equityLocked()
}
