package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
	"prop_bot/internal/traderr"
)

// fakeConn — супервизор без пауз: одна попытка, ошибка наружу.
type fakeConn struct{ state models.ConnState }

func (c *fakeConn) State() models.ConnState { return c.state }
func (c *fakeConn) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
func (c *fakeConn) DoProtective(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type modifyCall struct {
	ticket int64
	sl, tp float64
}

// fakeOrders — шлюз в памяти с программируемыми отказами.
type fakeOrders struct {
	mu        sync.Mutex
	modifies  []modifyCall
	closes    []int64
	cancels   []int64
	positions []models.BrokerPosition
	failMod   error
	failClose error
	failList  error
	closePx   float64
}

func (f *fakeOrders) ModifyPosition(ctx context.Context, ticket int64, sl, tp float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMod != nil {
		return f.failMod
	}
	f.modifies = append(f.modifies, modifyCall{ticket, sl, tp})
	return nil
}

func (f *fakeOrders) ClosePosition(ctx context.Context, ticket int64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failClose != nil {
		return 0, f.failClose
	}
	f.closes = append(f.closes, ticket)
	return f.closePx, nil
}

func (f *fakeOrders) CancelOrder(ctx context.Context, ticket int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, ticket)
	return nil
}

func (f *fakeOrders) OpenPositions(ctx context.Context) ([]models.BrokerPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	out := make([]models.BrokerPosition, len(f.positions))
	copy(out, f.positions)
	return out, nil
}

func (f *fakeOrders) setFailMod(err error) {
	f.mu.Lock()
	f.failMod = err
	f.mu.Unlock()
}

func (f *fakeOrders) countModifies() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.modifies)
}

func (f *fakeOrders) countCloses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closes)
}

func (f *fakeOrders) countCancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancels)
}

// clock — инжектируемое время: тесты двигают его руками.
type clock struct {
	mu  sync.Mutex
	cur time.Time
}

func newClock() *clock {
	// понедельник, середина торгового дня
	return &clock{cur: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.cur = c.cur.Add(d)
	c.mu.Unlock()
}

func lifeCfg() config.LifecycleConfig {
	return config.LifecycleConfig{
		BreakevenPips:      20,
		BreakevenCushion:   0,
		TrailingPips:       50,
		TrailingOffsetPips: 25,
		TrailingStepPips:   5,
		MinDuration:        4 * time.Minute,
		MaxHold:            72 * time.Hour,
		FridayExitHour:     21,
		PendingExpiry:      4 * time.Hour,
		RefreshInterval:    30 * time.Second,
	}
}

func lifeInst() models.Instrument {
	return models.Instrument{
		Symbol: "EURUSD", Digits: 5, Point: 0.00001, PipSize: 0.0001,
		TickSize: 0.0001, TickValue: 1, ContractSize: 100000,
		LotMin: 0.01, LotStep: 0.01, LotMax: 100, MarginRate: 0.01,
	}
}

func longPos(clk *clock) models.Position {
	return models.Position{
		Ticket: 101, Symbol: "EURUSD", Side: models.SideBuy, Lots: 1,
		EntryPrice: 1.1000, StopLoss: 1.0950,
		State: models.StateOpenUnmanaged, OpenedAt: clk.Now(),
	}
}

func newLongTrade(orders *fakeOrders, clk *clock, events chan<- models.Event) *Trade {
	return newTrade(lifeCfg(), lifeInst(), longPos(clk), orders,
		&fakeConn{state: models.ConnConnected}, events, clk.Now)
}

func tk(bid float64) models.Tick {
	return models.Tick{Symbol: "EURUSD", Bid: bid, Ask: bid + 0.0001, Time: time.Now()}
}

// Сквозной сценарий: лонг с 1.1000, безубыток на +20, трейл 25 пипов с +50,
// откат стоп не отпускает.
func TestBreakevenThenTrailing(t *testing.T) {
	orders := &fakeOrders{}
	clk := newClock()
	tr := newLongTrade(orders, clk, nil)
	ctx := context.Background()

	tr.OnTick(ctx, tk(1.1020))
	if got := tr.Snapshot(); got.StopLoss != 1.1000 || got.State != models.StateOpenBreakeven {
		t.Fatalf("после безубытка: sl=%.5f state=%s", got.StopLoss, got.State)
	}

	tr.OnTick(ctx, tk(1.1050))
	if got := tr.Snapshot(); got.StopLoss != 1.1025 || got.State != models.StateOpenTrailing {
		t.Fatalf("после включения трейла: sl=%.5f state=%s", got.StopLoss, got.State)
	}

	tr.OnTick(ctx, tk(1.1070))
	if got := tr.Snapshot(); got.StopLoss != 1.1045 {
		t.Fatalf("подтяжка трейла: sl=%.5f, want 1.10450", got.StopLoss)
	}

	// откат: стоп никогда не отъезжает назад
	tr.OnTick(ctx, tk(1.1060))
	if got := tr.Snapshot(); got.StopLoss != 1.1045 {
		t.Fatalf("откат ослабил стоп: sl=%.5f", got.StopLoss)
	}
}

// Стоп монотонен на произвольной пиле, включая развороты.
func TestStopMonotonicOnWhipsaw(t *testing.T) {
	orders := &fakeOrders{}
	clk := newClock()
	tr := newLongTrade(orders, clk, nil)
	ctx := context.Background()

	prev := tr.Snapshot().StopLoss
	for _, bid := range []float64{1.1020, 1.1055, 1.1040, 1.1080, 1.1061, 1.1090, 1.1070} {
		tr.OnTick(ctx, tk(bid))
		cur := tr.Snapshot().StopLoss
		if cur < prev {
			t.Fatalf("стоп отъехал: %.5f -> %.5f на тике %.4f", prev, cur, bid)
		}
		prev = cur
	}
}

// Мелкие улучшения не дёргают сервер: шаг трейла 5 пипов.
func TestTrailingStepLimitsChurn(t *testing.T) {
	orders := &fakeOrders{}
	clk := newClock()
	tr := newLongTrade(orders, clk, nil)
	ctx := context.Background()

	tr.OnTick(ctx, tk(1.1050))
	if n := orders.countModifies(); n != 1 {
		t.Fatalf("modifies = %d, want 1", n)
	}

	tr.OnTick(ctx, tk(1.1052)) // улучшение 2 пипа < шага
	if n := orders.countModifies(); n != 1 {
		t.Fatalf("сервер задёргали: modifies = %d", n)
	}
	if got := tr.Snapshot(); got.StopLoss != 1.1025 {
		t.Fatalf("sl=%.5f, want 1.10250", got.StopLoss)
	}

	tr.OnTick(ctx, tk(1.1056)) // улучшение 6 пипов
	if n := orders.countModifies(); n != 2 {
		t.Fatalf("modifies = %d, want 2", n)
	}
	if got := tr.Snapshot(); got.StopLoss != 1.1031 {
		t.Fatalf("sl=%.5f, want 1.10310", got.StopLoss)
	}
}

// Обычное закрытие до минимальной длительности откладывается и исполняется
// ровно после границы.
func TestMinDurationDefersClose(t *testing.T) {
	orders := &fakeOrders{closePx: 1.0990}
	clk := newClock()
	tr := newLongTrade(orders, clk, nil)
	ctx := context.Background()

	// t=0
	tr.RequestClose(ctx, models.CloseManual, false)
	if st := tr.State(); st != models.StateOpenUnmanaged {
		t.Fatalf("закрытие не отложено: %s", st)
	}
	if orders.countCloses() != 0 {
		t.Fatal("close ушёл на сервер раньше времени")
	}

	// за секунду до границы
	clk.Advance(4*time.Minute - time.Second)
	tr.RunDue(ctx)
	if orders.countCloses() != 0 {
		t.Fatal("закрыто до минимальной длительности")
	}

	// через секунду после границы
	clk.Advance(2 * time.Second)
	tr.RunDue(ctx)
	if st := tr.State(); st != models.StateClosed {
		t.Fatalf("state = %s, want CLOSED", st)
	}
	if orders.countCloses() != 1 {
		t.Fatalf("closes = %d, want 1", orders.countCloses())
	}
	got := tr.Snapshot()
	if got.Reason != models.CloseManual {
		t.Fatalf("reason = %s", got.Reason)
	}
	if math.Abs(got.Profit-(-10)) > 1e-6 {
		t.Fatalf("profit = %.2f, want -10", got.Profit)
	}
}

// Флэттен от защёлки просадки обходит минимальную длительность.
func TestForceFlattenBypassesMinDuration(t *testing.T) {
	orders := &fakeOrders{closePx: 1.0995}
	clk := newClock()
	tr := newLongTrade(orders, clk, nil)
	ctx := context.Background()

	tr.RequestClose(ctx, models.CloseDrawdown, true) // сразу после открытия
	if st := tr.State(); st != models.StateClosed {
		t.Fatalf("force не закрыл позицию: %s", st)
	}
	if got := tr.Snapshot(); got.Reason != models.CloseDrawdown {
		t.Fatalf("reason = %s", got.Reason)
	}
}

// Защитная инструкция переживает обрыв связи: SL и состояние меняются только
// после подтверждения, после восстановления инструкция доводится без потерь.
func TestPendingModifySurvivesOutage(t *testing.T) {
	orders := &fakeOrders{failMod: traderr.ErrDataUnavailable}
	clk := newClock()
	tr := newLongTrade(orders, clk, nil)
	ctx := context.Background()

	tr.OnTick(ctx, tk(1.1020))
	got := tr.Snapshot()
	if got.StopLoss != 1.0950 {
		t.Fatalf("SL применён без подтверждения: %.5f", got.StopLoss)
	}
	if got.State != models.StateOpenUnmanaged {
		t.Fatalf("переход без подтверждения: %s", got.State)
	}

	// связь вернулась — flush доводит отложенную инструкцию
	orders.setFailMod(nil)
	tr.FlushPending(ctx)
	got = tr.Snapshot()
	if got.StopLoss != 1.1000 || got.State != models.StateOpenBreakeven {
		t.Fatalf("инструкция потеряна: sl=%.5f state=%s", got.StopLoss, got.State)
	}
	if n := orders.countModifies(); n != 1 {
		t.Fatalf("modifies = %d, want 1", n)
	}
}

// Исчерпанные ретраи защитного modify — это тревога, и ровно одна на инструкцию.
func TestExhaustedModifyRaisesAlert(t *testing.T) {
	events := make(chan models.Event, 8)
	orders := &fakeOrders{failMod: traderr.ErrDataUnavailable}
	clk := newClock()
	tr := newLongTrade(orders, clk, events)
	ctx := context.Background()

	tr.OnTick(ctx, tk(1.1020))
	select {
	case e := <-events:
		if e.Type != models.EventProtectiveAlert {
			t.Fatalf("event = %s, want protective_alert", e.Type)
		}
	default:
		t.Fatal("тревога не поднята")
	}

	// та же инструкция — без повторного спама
	tr.OnTick(ctx, tk(1.1021))
	select {
	case e := <-events:
		t.Fatalf("повторная тревога: %s", e.Type)
	default:
	}
}

// Касание стопа закрывает позицию, причина stop_loss.
func TestStopTouchCloses(t *testing.T) {
	orders := &fakeOrders{closePx: 1.0950}
	clk := newClock()
	tr := newLongTrade(orders, clk, nil)
	ctx := context.Background()

	clk.Advance(5 * time.Minute) // минимальная длительность позади
	tr.OnTick(ctx, tk(1.0949))
	got := tr.Snapshot()
	if got.State != models.StateClosed || got.Reason != models.CloseStopLoss {
		t.Fatalf("state=%s reason=%s", got.State, got.Reason)
	}
}

func TestTakeProfitTouchCloses(t *testing.T) {
	orders := &fakeOrders{closePx: 1.1100}
	clk := newClock()
	pos := longPos(clk)
	pos.TakeProfit = 1.1100
	tr := newTrade(lifeCfg(), lifeInst(), pos, orders, &fakeConn{}, nil, clk.Now)
	ctx := context.Background()

	clk.Advance(5 * time.Minute)
	tr.OnTick(ctx, tk(1.1101))
	got := tr.Snapshot()
	if got.State != models.StateClosed || got.Reason != models.CloseTakeProfit {
		t.Fatalf("state=%s reason=%s", got.State, got.Reason)
	}
	if math.Abs(got.Profit-100) > 1e-6 {
		t.Fatalf("profit = %.2f, want 100", got.Profit)
	}
}

// «Тикета нет» в ответ на close — подтверждение: сервер закрыл позицию сам.
func TestCloseNotFoundIsConfirmation(t *testing.T) {
	orders := &fakeOrders{failClose: traderr.ErrNotFound}
	clk := newClock()
	tr := newLongTrade(orders, clk, nil)
	ctx := context.Background()

	clk.Advance(5 * time.Minute)
	tr.RequestClose(ctx, models.CloseManual, false)
	if st := tr.State(); st != models.StateClosed {
		t.Fatalf("state = %s, want CLOSED", st)
	}
}
