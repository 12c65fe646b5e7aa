package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"prop_bot/internal/helper"
	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
	"prop_bot/internal/traderr"
)

// Orders — часть шлюза, нужная жизненному циклу позиции.
type Orders interface {
	ModifyPosition(ctx context.Context, ticket int64, sl, tp float64) error
	ClosePosition(ctx context.Context, ticket int64) (float64, error)
	CancelOrder(ctx context.Context, ticket int64) error
	OpenPositions(ctx context.Context) ([]models.BrokerPosition, error)
}

// Conn — супервизор связи: ретраи и приоритет защитных вызовов.
type Conn interface {
	State() models.ConnState
	Do(ctx context.Context, op string, fn func(ctx context.Context) error) error
	DoProtective(ctx context.Context, op string, fn func(ctx context.Context) error) error
}

// modify — одна невыполненная перестановка SL/TP. Очередь глубиной один:
// свежая инструкция замещает старую, сервер видит только последний уровень.
type modify struct {
	sl, tp float64
	next   models.TradeState // состояние после подтверждения ("" — без перехода)
	note   string
}

// closeIntent — намерение закрыть позицию. due > now означает отложенный
// выход: минимальная длительность сделки ещё не выдержана.
type closeIntent struct {
	reason models.CloseReason
	force  bool
	due    time.Time
}

// допуск на мусор плавающей точки при сравнении пипсов:
// 1.1020-1.1000 даёт 19.9999... пипсов, а не 20
const pipEps = 1e-6

// Trade — единственный владелец SL/TP одной позиции. Переходы состояния
// только вперёд; стоп после безубытка двигается только в сторону прибыли.
// Все мутации под собственным мьютексом: один трейд не блокирует другой.
type Trade struct {
	cfg    config.LifecycleConfig
	inst   models.Instrument
	orders Orders
	sup    Conn
	events chan<- models.Event
	now    func() time.Time

	mu       sync.Mutex
	pos      models.Position
	placedAt time.Time
	pending  *modify
	intent   *closeIntent
	inFlight bool // защитный вызов уже в полёте, второй не запускаем
	alerted  bool // protective_alert по текущей инструкции уже отправлен
}

func newTrade(cfg config.LifecycleConfig, inst models.Instrument, pos models.Position,
	orders Orders, sup Conn, events chan<- models.Event, now func() time.Time) *Trade {
	t := &Trade{
		cfg:    cfg,
		inst:   inst,
		orders: orders,
		sup:    sup,
		events: events,
		now:    now,
		pos:    pos,
	}
	t.placedAt = now()
	if pos.OpenedAt.IsZero() && pos.State != models.StatePendingEntry {
		t.pos.OpenedAt = t.placedAt
	}
	return t
}

func (t *Trade) Ticket() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos.Ticket
}

func (t *Trade) Symbol() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos.Symbol
}

func (t *Trade) State() models.TradeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos.State
}

func (t *Trade) Snapshot() models.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// OnTick — вся тиковая логика: касание стопа/тейка, безубыток, трейлинг,
// исполнение созревшего отложенного выхода, дожим очереди модификаций.
func (t *Trade) OnTick(ctx context.Context, tick models.Tick) {
	t.mu.Lock()
	st := t.pos.State
	if st.Terminal() || st == models.StatePendingEntry {
		t.mu.Unlock()
		return
	}
	if st == models.StateClosing {
		t.mu.Unlock()
		t.tryClose(ctx)
		return
	}
	if t.intent != nil && !t.now().Before(t.intent.due) {
		t.mu.Unlock()
		t.tryClose(ctx)
		return
	}

	if reason, hit := t.touchedLocked(tick); hit {
		t.mu.Unlock()
		t.RequestClose(ctx, reason, false)
		return
	}

	t.manageLocked(tick)
	t.mu.Unlock()

	t.FlushPending(ctx)
}

// touchedLocked — коснулась ли цена стопа или тейка. Считаем по стороне,
// которой брокер закрывал бы позицию: bid для лонга, ask для шорта.
func (t *Trade) touchedLocked(tick models.Tick) (models.CloseReason, bool) {
	if t.pos.Side == models.SideBuy {
		if t.pos.StopLoss > 0 && tick.Bid <= t.pos.StopLoss {
			return models.CloseStopLoss, true
		}
		if t.pos.TakeProfit > 0 && tick.Bid >= t.pos.TakeProfit {
			return models.CloseTakeProfit, true
		}
		return "", false
	}
	if t.pos.StopLoss > 0 && tick.Ask >= t.pos.StopLoss {
		return models.CloseStopLoss, true
	}
	if t.pos.TakeProfit > 0 && tick.Ask <= t.pos.TakeProfit {
		return models.CloseTakeProfit, true
	}
	return "", false
}

// manageLocked — безубыток и трейлинг. Сначала трейл (порог выше и стоп
// жёстче), потом безубыток. Новый уровень попадает в очередь модификаций,
// переход состояния случится после подтверждения сервером.
func (t *Trade) manageLocked(tick models.Tick) {
	profit := helper.ProfitPips(t.pos.Side, t.pos.EntryPrice, tick, t.inst)

	if t.cfg.TrailingPips > 0 && profit+pipEps >= t.cfg.TrailingPips {
		off := helper.PipsToPrice(t.cfg.TrailingOffsetPips, t.inst)
		var sl float64
		if t.pos.Side == models.SideBuy {
			sl = tick.Bid - off
		} else {
			sl = tick.Ask + off
		}
		sl = t.roundSL(sl)
		if t.improvesLocked(sl, helper.PipsToPrice(t.cfg.TrailingStepPips, t.inst)) {
			t.queueModifyLocked(sl, t.pos.TakeProfit, models.StateOpenTrailing,
				fmt.Sprintf("trail %.1f pips", profit))
		}
		return
	}

	if t.pos.State == models.StateOpenUnmanaged && t.cfg.BreakevenPips > 0 && profit+pipEps >= t.cfg.BreakevenPips {
		cushion := helper.PipsToPrice(t.cfg.BreakevenPips*t.cfg.BreakevenCushion, t.inst)
		var sl float64
		if t.pos.Side == models.SideBuy {
			sl = t.pos.EntryPrice + cushion
		} else {
			sl = t.pos.EntryPrice - cushion
		}
		sl = t.roundSL(sl)
		if t.improvesLocked(sl, 0) {
			t.queueModifyLocked(sl, t.pos.TakeProfit, models.StateOpenBreakeven,
				fmt.Sprintf("breakeven %.1f pips", profit))
		}
	}
}

// roundSL прижимает стоп к тиковой сетке в сторону ужесточения (BUY вверх,
// SELL вниз) и нормализует до котировочных знаков. Цена вне сетки — это
// invalid stops на стороне сервера.
func (t *Trade) roundSL(sl float64) float64 {
	if t.inst.TickSize > 0 {
		if t.pos.Side == models.SideBuy {
			sl = helper.RoundUpToTick(sl, t.inst.TickSize)
		} else {
			sl = helper.RoundDownToTick(sl, t.inst.TickSize)
		}
	}
	return helper.RoundPrice(sl, t.inst.Digits)
}

// improvesLocked — стоп только ужесточается, и не мельче чем на step.
// Сравниваем с последним ЗАКАЗАННЫМ уровнем, а не с подтверждённым:
// иначе очередь набивалась бы дублями, пока modify в полёте.
func (t *Trade) improvesLocked(sl, step float64) bool {
	cur := t.pos.StopLoss
	if t.pending != nil {
		cur = t.pending.sl
	}
	if cur <= 0 {
		return true
	}
	if t.pos.Side == models.SideBuy {
		return sl > cur && sl-cur+1e-9 >= step
	}
	return sl < cur && cur-sl+1e-9 >= step
}

func (t *Trade) queueModifyLocked(sl, tp float64, next models.TradeState, note string) {
	if t.pending != nil && t.pending.sl == sl && t.pending.tp == tp {
		return // идентичные значения — no-op
	}
	if t.pending == nil && t.pos.StopLoss == sl && t.pos.TakeProfit == tp {
		return
	}
	t.pending = &modify{sl: sl, tp: tp, next: next, note: note}
	t.alerted = false
}

// FlushPending дожимает очередь модификаций через защитный путь супервизора.
// Неподтверждённая инструкция переживает обрыв связи: её перезапустит
// следующий тик или уведомление о реконнекте. Исчерпанные ретраи — это
// protective_alert, инструкция при этом остаётся в очереди.
func (t *Trade) FlushPending(ctx context.Context) {
	t.mu.Lock()
	m := t.pending
	if m == nil || !t.pos.State.Open() || t.inFlight {
		t.mu.Unlock()
		return
	}
	t.inFlight = true
	ticket := t.pos.Ticket
	t.mu.Unlock()

	err := t.sup.DoProtective(ctx, fmt.Sprintf("modify #%d", ticket), func(ctx context.Context) error {
		return t.orders.ModifyPosition(ctx, ticket, m.sl, m.tp)
	})

	t.mu.Lock()
	t.inFlight = false
	if err != nil {
		if errors.Is(err, traderr.ErrNotFound) {
			// позиции уже нет на сервере — закрытие подтвердит refresh
			t.pending = nil
			t.mu.Unlock()
			return
		}
		alerted := t.alerted
		t.alerted = true
		t.mu.Unlock()
		log.Printf("[LIFE] ⚠️ защитный modify #%d не прошёл: %v", ticket, err)
		if !alerted {
			models.TrySend(t.events, models.Event{
				Type:   models.EventProtectiveAlert,
				At:     t.now(),
				Ticket: ticket,
				SL:     m.sl,
				Reason: err.Error(),
			})
		}
		return
	}

	// подтверждено: применяем уровень и связанный переход
	t.pos.StopLoss, t.pos.TakeProfit = m.sl, m.tp
	if t.pending == m {
		t.pending = nil
		t.alerted = false
	}
	var ev models.EventType
	switch m.next {
	case models.StateOpenBreakeven:
		ev = models.EventBreakeven
	case models.StateOpenTrailing:
		ev = models.EventTrailing
	}
	if m.next != "" && m.next != t.pos.State {
		t.transitionLocked(m.next, m.note)
	}
	snap := t.pos
	t.mu.Unlock()

	log.Printf("[LIFE] #%d %s: SL %.5f / TP %.5f (%s)", ticket, snap.Symbol, m.sl, m.tp, m.note)
	if ev != "" {
		models.TrySend(t.events, models.Event{
			Type:   ev,
			At:     t.now(),
			Symbol: snap.Symbol,
			Ticket: ticket,
			Side:   snap.Side,
			Price:  snap.EntryPrice,
			SL:     m.sl,
			TP:     m.tp,
			State:  string(snap.State),
		})
	}
}

// RequestClose — запрос на закрытие. Обычный запрос до истечения минимальной
// длительности откладывается; force (флэттен от risk guard) исполняется сразу
// и перебивает любой отложенный. Первый запрос с равным приоритетом побеждает.
func (t *Trade) RequestClose(ctx context.Context, reason models.CloseReason, force bool) {
	t.mu.Lock()
	st := t.pos.State
	if st.Terminal() || st == models.StatePendingEntry {
		t.mu.Unlock()
		return
	}
	now := t.now()
	due := t.pos.OpenedAt.Add(t.cfg.MinDuration)
	if force || due.Before(now) {
		due = now
	}
	created := false
	if t.intent == nil || (force && !t.intent.force) {
		t.intent = &closeIntent{reason: reason, force: force, due: due}
		created = true
	}
	deferred := !t.intent.force && now.Before(t.intent.due)
	ticket := t.pos.Ticket
	t.mu.Unlock()

	if deferred {
		if created {
			log.Printf("[LIFE] #%d: выход (%s) отложен до %s — минимальная длительность сделки",
				ticket, reason, due.Format("15:04:05"))
		}
		return
	}
	t.tryClose(ctx)
}

// RunDue исполняет отложенный выход, когда минимальная длительность истекла.
func (t *Trade) RunDue(ctx context.Context) { t.tryClose(ctx) }

func (t *Trade) tryClose(ctx context.Context) {
	t.mu.Lock()
	in := t.intent
	if in == nil || t.pos.State.Terminal() || t.pos.State == models.StatePendingEntry {
		t.mu.Unlock()
		return
	}
	if !in.force && t.now().Before(in.due) {
		t.mu.Unlock()
		return
	}
	if t.pos.State != models.StateClosing {
		t.transitionLocked(models.StateClosing, string(in.reason))
	}
	if t.inFlight {
		t.mu.Unlock()
		return
	}
	t.inFlight = true
	ticket := t.pos.Ticket
	t.mu.Unlock()

	var px float64
	err := t.sup.DoProtective(ctx, fmt.Sprintf("close #%d", ticket), func(ctx context.Context) error {
		p, cerr := t.orders.ClosePosition(ctx, ticket)
		if cerr == nil {
			px = p
		}
		return cerr
	})

	t.mu.Lock()
	t.inFlight = false
	if err != nil && !errors.Is(err, traderr.ErrNotFound) {
		alerted := t.alerted
		t.alerted = true
		t.mu.Unlock()
		log.Printf("[LIFE] ⚠️ закрытие #%d не прошло: %v", ticket, err)
		if !alerted {
			models.TrySend(t.events, models.Event{
				Type:   models.EventProtectiveAlert,
				At:     t.now(),
				Ticket: ticket,
				Reason: err.Error(),
			})
		}
		return
	}
	// err == nil или ErrNotFound: ErrNotFound — позиция уже закрыта сервером,
	// для close это подтверждение, а не сбой
	t.closeLocked(px, in.reason)
	snap := t.pos
	t.mu.Unlock()

	log.Printf("[LIFE] ✅ #%d %s закрыта (%s): exit=%.5f profit=%.2f",
		ticket, snap.Symbol, snap.Reason, snap.ExitPrice, snap.Profit)
	models.TrySend(t.events, models.Event{
		Type:   models.EventClosed,
		At:     t.now(),
		Symbol: snap.Symbol,
		Ticket: ticket,
		Side:   snap.Side,
		Price:  snap.ExitPrice,
		Lots:   snap.Lots,
		Profit: snap.Profit,
		Reason: string(snap.Reason),
	})
}

// Cancel снимает неисполненную лимитку. ErrNotFound — заявки уже нет,
// считаем снятой.
func (t *Trade) Cancel(ctx context.Context, reason models.CloseReason) bool {
	t.mu.Lock()
	if t.pos.State != models.StatePendingEntry {
		t.mu.Unlock()
		return false
	}
	ticket := t.pos.Ticket
	t.mu.Unlock()

	err := t.sup.DoProtective(ctx, fmt.Sprintf("cancel #%d", ticket), func(ctx context.Context) error {
		return t.orders.CancelOrder(ctx, ticket)
	})
	if err != nil && !errors.Is(err, traderr.ErrNotFound) {
		log.Printf("[LIFE] снятие заявки #%d не прошло: %v", ticket, err)
		return false
	}

	t.mu.Lock()
	if t.pos.State != models.StatePendingEntry {
		// пока снимали, refresh успел увидеть филл
		t.mu.Unlock()
		return false
	}
	t.transitionLocked(models.StateClosed, string(reason))
	t.pos.Reason = reason
	t.pos.ClosedAt = t.now()
	snap := t.pos
	t.mu.Unlock()

	log.Printf("[LIFE] лимитка #%d %s снята (%s)", ticket, snap.Symbol, reason)
	models.TrySend(t.events, models.Event{
		Type:   models.EventEntryExpired,
		At:     t.now(),
		Symbol: snap.Symbol,
		Ticket: ticket,
		Side:   snap.Side,
		Price:  snap.EntryPrice,
		Reason: string(reason),
	})
	return true
}

// ExpireIfStale снимает лимитку, провисевшую дольше PendingExpiry.
func (t *Trade) ExpireIfStale(ctx context.Context) bool {
	t.mu.Lock()
	stale := t.pos.State == models.StatePendingEntry &&
		t.cfg.PendingExpiry > 0 &&
		!t.now().Before(t.placedAt.Add(t.cfg.PendingExpiry))
	t.mu.Unlock()
	if !stale {
		return false
	}
	return t.Cancel(ctx, models.CloseExpired)
}

// OnFilled — refresh увидел позицию по тикету лимитки: вход исполнен.
// entry_price и opened_at берём из реального филла, не из сигнала.
func (t *Trade) OnFilled(bp models.BrokerPosition) {
	t.mu.Lock()
	if t.pos.State != models.StatePendingEntry {
		t.mu.Unlock()
		return
	}
	t.pos.EntryPrice = bp.OpenPrice
	if bp.Lots > 0 {
		t.pos.Lots = bp.Lots
	}
	t.pos.OpenedAt = bp.OpenedAt
	if t.pos.OpenedAt.IsZero() {
		t.pos.OpenedAt = t.now()
	}
	t.transitionLocked(models.StateOpenUnmanaged, "entry filled")
	snap := t.pos
	t.mu.Unlock()

	log.Printf("[LIFE] 🎯 #%d %s: лимитка исполнена @ %.5f", snap.Ticket, snap.Symbol, snap.EntryPrice)
	models.TrySend(t.events, models.Event{
		Type:   models.EventEntryFilled,
		At:     t.now(),
		Symbol: snap.Symbol,
		Ticket: snap.Ticket,
		Side:   snap.Side,
		Price:  snap.EntryPrice,
		SL:     snap.StopLoss,
		TP:     snap.TakeProfit,
		Lots:   snap.Lots,
	})
}

// OnSync — позиция на месте, обновляем плавающий результат для /status.
func (t *Trade) OnSync(bp models.BrokerPosition) {
	t.mu.Lock()
	if t.pos.State.Open() {
		t.pos.Profit = bp.Profit
	}
	t.mu.Unlock()
}

// OnExternalClose — refresh не нашёл открытую позицию на сервере: её закрыл
// брокер (SL/TP) или оператор в терминале. Profit — последний известный
// плавающий из OnSync.
func (t *Trade) OnExternalClose() {
	t.mu.Lock()
	if !t.pos.State.Open() {
		t.mu.Unlock()
		return
	}
	reason := models.CloseExternal
	if t.intent != nil {
		// наше закрытие и так шло — значит, дошло
		reason = t.intent.reason
	}
	t.closeLocked(0, reason)
	snap := t.pos
	t.mu.Unlock()

	log.Printf("[LIFE] #%d %s закрыта на стороне сервера (%s), profit=%.2f",
		snap.Ticket, snap.Symbol, snap.Reason, snap.Profit)
	models.TrySend(t.events, models.Event{
		Type:   models.EventClosed,
		At:     t.now(),
		Symbol: snap.Symbol,
		Ticket: snap.Ticket,
		Side:   snap.Side,
		Price:  snap.ExitPrice,
		Lots:   snap.Lots,
		Profit: snap.Profit,
		Reason: string(snap.Reason),
	})
}

func (t *Trade) closeLocked(px float64, reason models.CloseReason) {
	t.transitionLocked(models.StateClosed, string(reason))
	t.pos.ClosedAt = t.now()
	t.pos.Reason = reason
	if px > 0 {
		t.pos.ExitPrice = px
		t.pos.Profit = profitMoney(t.pos, px, t.inst)
	}
	t.pending = nil
	t.intent = nil
}

func (t *Trade) transitionLocked(next models.TradeState, why string) bool {
	if !canTransition(t.pos.State, next) {
		log.Printf("[LIFE] #%d: недопустимый переход %s -> %s (%s)", t.pos.Ticket, t.pos.State, next, why)
		return false
	}
	prev := t.pos.State
	t.pos.State = next
	log.Printf("[LIFE] #%d %s: %s -> %s (%s)", t.pos.Ticket, t.pos.Symbol, prev, next, why)
	return true
}

// canTransition — таблица допустимых переходов. OPEN_* -> CLOSED напрямую
// только для закрытий, подтверждённых сервером (позиции уже нет).
func canTransition(from, to models.TradeState) bool {
	switch from {
	case models.StatePendingEntry:
		return to == models.StateOpenUnmanaged || to == models.StateClosed
	case models.StateOpenUnmanaged:
		return to == models.StateOpenBreakeven || to == models.StateOpenTrailing ||
			to == models.StateClosing || to == models.StateClosed
	case models.StateOpenBreakeven:
		return to == models.StateOpenTrailing || to == models.StateClosing || to == models.StateClosed
	case models.StateOpenTrailing:
		return to == models.StateClosing || to == models.StateClosed
	case models.StateClosing:
		return to == models.StateClosed
	}
	return false
}

func profitMoney(pos models.Position, px float64, inst models.Instrument) float64 {
	if inst.TickSize <= 0 {
		return 0
	}
	d := px - pos.EntryPrice
	if pos.Side == models.SideSell {
		d = -d
	}
	return d / inst.TickSize * inst.TickValue * pos.Lots
}
