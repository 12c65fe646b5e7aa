package backtest

import (
	"context"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"prop_bot/internal/helper"
	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
	lifesvc "prop_bot/internal/modules/lifecycle/service"
	mt5 "prop_bot/internal/modules/mt5_client/service"
	newssvc "prop_bot/internal/modules/news/service"
	risksvc "prop_bot/internal/modules/risk/service"
	runsvc "prop_bot/internal/modules/runner/service"
	stratsvc "prop_bot/internal/modules/strategy/service"
	supsvc "prop_bot/internal/modules/supervisor/service"
)

// Params — ручки прогона.
type Params struct {
	StartBalance float64
	SpreadPoints float64 // спред в пунктах, один на все символы
}

// Result — что вышло из реплея.
type Result struct {
	Summary Summary
	Trades  []models.Position
	Curve   []Point
}

// memStore — состояние guard'а в памяти: каждый прогон с чистого листа,
// на диск ничего не пишем.
type memStore struct{ st map[int64]models.RiskState }

func newMemStore() *memStore { return &memStore{st: make(map[int64]models.RiskState)} }

func (m *memStore) Load(magic int64) (models.RiskState, bool, error) {
	st, ok := m.st[magic]
	return st, ok, nil
}

func (m *memStore) Save(magic int64, st models.RiskState) error {
	m.st[magic] = st
	return nil
}

// simGateway — бумажный исполнитель плюс бары из фида: полный шлюз для реплея.
type simGateway struct {
	*mt5.Sim
	feed *Feed
}

func (g simGateway) GetBars(ctx context.Context, symbol string, tf models.Timeframe, count int) ([]models.Bar, error) {
	return g.feed.GetBars(ctx, symbol, tf, count)
}

// Engine гоняет боевой конвейер по истории: те же hub, sizer, guard, tracker
// и runner, что и на живом счёте, только шлюз бумажный и часы барные. Фоновые
// воркеры не стартуют, их работу делает цикл реплея на закрытии каждого бара.
type Engine struct {
	cfg     *config.Config
	catalog *config.Catalog
	feed    *Feed
	sim     *mt5.Sim
	hub     *stratsvc.Hub
	runner  *runsvc.Runner
	tracker *lifesvc.Tracker
	guard   *risksvc.Guard
	sigs    chan models.Signal

	spread map[string]float64 // спред в ценах, по символу
	cursor atomic.Int64       // момент реплея, unix-наносекунды
}

// NewEngine собирает конвейер. Конфиг подправляется под реплей: ноль попыток
// ретрая означал бы, что супервизор не зовёт функцию вовсе, а новостной
// календарь в реплее в сеть не ходит.
func NewEngine(cfg *config.Config, catalog *config.Catalog, feed *Feed, p Params) *Engine {
	if cfg.Supervisor.RetryAttempts < 1 {
		cfg.Supervisor.RetryAttempts = 1
	}
	if cfg.Supervisor.ProtectiveAttempts < 1 {
		cfg.Supervisor.ProtectiveAttempts = 1
	}
	cfg.News.Enabled = false

	e := &Engine{
		cfg:     cfg,
		catalog: catalog,
		feed:    feed,
		sigs:    make(chan models.Signal, 256),
		spread:  make(map[string]float64),
	}
	for _, sym := range cfg.Symbols {
		inst := catalog.MustGet(sym)
		e.spread[sym] = p.SpreadPoints * inst.Point
	}

	e.sim = mt5.NewSim(catalog, cfg.Magic, p.StartBalance)
	gw := simGateway{Sim: e.sim, feed: feed}

	sup := supsvc.New(cfg, gw, nil)
	sup.MarkConnected("реплей")

	e.guard = risksvc.NewGuard(cfg, newMemStore(), nil)
	sizer := risksvc.NewSizer(cfg, e.guard)
	e.tracker = lifesvc.NewTracker(cfg, gw, sup, nil, nil)
	e.guard.SetOnBreach(e.tracker.FlattenAll)

	e.hub = stratsvc.NewHub(cfg, catalog, gw, sup, newssvc.New(cfg), e.tracker, stratsvc.NewWickEngine(cfg), e.sigs)
	e.runner = runsvc.NewRunner(cfg, catalog, gw, sup, e.guard, sizer, e.tracker, nil, nil, nil, nil)

	now := e.Now
	e.sim.SetNow(now)
	e.hub.SetNow(now)
	e.tracker.SetNow(now)
	e.guard.SetNow(now)
	e.runner.SetNow(now)

	return e
}

// Now — текущий момент реплея. Через атомик: FlattenAll закрывает позиции
// из параллельных горутин.
func (e *Engine) Now() time.Time {
	return time.Unix(0, e.cursor.Load()).UTC()
}

func (e *Engine) setCursor(t time.Time) {
	e.cursor.Store(t.UnixNano())
	e.feed.Advance(t)
}

// Run — реплей в хронологии закрытий баров entry-ТФ. На каждом закрытии:
// тики внутри бара (ведение открытых и филлы лимиток), сверка с исполнителем,
// временные выходы, снимок счёта для guard'а, скан нового сигнала.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	type step struct {
		bar     models.Bar
		closeAt time.Time
	}
	seen := make(map[string]struct{})
	var steps []step
	for _, sym := range e.cfg.Symbols {
		for _, pair := range e.cfg.Pairs() {
			if _, ok := seen[seriesKey(sym, pair.Entry)]; ok {
				continue
			}
			seen[seriesKey(sym, pair.Entry)] = struct{}{}
			dur := helper.TFDuration(pair.Entry)
			for _, b := range e.feed.Series(sym, pair.Entry) {
				steps = append(steps, step{bar: b, closeAt: b.Timestamp.Add(dur)})
			}
		}
	}
	if len(steps) == 0 {
		return Result{}, errors.New("бектест: история пуста")
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].closeAt.Before(steps[j].closeAt) })

	log.Printf("[BT] реплей: %d баров, %s .. %s, баланс %.2f",
		len(steps), steps[0].bar.Timestamp.Format("2006-01-02"),
		steps[len(steps)-1].closeAt.Format("2006-01-02"), e.sim.Equity())

	// торговый день guard'а стартует днём первого бара
	e.setCursor(steps[0].bar.Timestamp)
	e.runner.Bootstrap(ctx)

	curve := make([]Point, 0, len(steps))
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		e.setCursor(st.closeAt)
		e.guard.RolloverIfNewDay(e.Now())

		e.playBar(ctx, st.bar)

		e.tracker.Refresh(ctx)
		e.tracker.RunTimeExits(ctx)

		if acct, err := e.sim.GetAccount(ctx); err == nil {
			e.guard.UpdateEquity(acct.Equity)
		}

		e.hub.Scan(ctx)
		e.drainSignals(ctx)

		curve = append(curve, Point{TS: st.closeAt, Equity: e.sim.Equity()})
	}

	e.closeRemaining(ctx)
	trades := e.sim.ClosedTrades()
	return Result{Summary: ComputeMetrics(curve, trades), Trades: trades, Curve: curve}, nil
}

// playBar проигрывает бар четырьмя тиками: открытие, оба экстремума, закрытие.
// Закрытие всегда последним, чтобы сигнал этого бара исполнялся по его close.
func (e *Engine) playBar(ctx context.Context, bar models.Bar) {
	for _, px := range e.tickOrder(bar) {
		t := models.Tick{
			Symbol: bar.Symbol,
			Bid:    px,
			Ask:    px + e.spread[bar.Symbol],
			Time:   e.Now(),
		}
		e.sim.Push(t)
		e.tracker.TickNow(ctx, t)
	}
}

// tickOrder решает, какой экстремум проигрывать раньше. Для открытой позиции
// неблагоприятный идёт первым, в пару к "SL прежде TP" исполнителя. Для
// лимитки экстремум стороны исполнения идёт вторым: взять тейк внутри бара
// собственного филла нельзя.
func (e *Engine) tickOrder(bar models.Bar) [4]float64 {
	lowFirst := [4]float64{bar.Open, bar.Low, bar.High, bar.Close}
	highFirst := [4]float64{bar.Open, bar.High, bar.Low, bar.Close}

	for _, p := range e.tracker.Positions() {
		if p.Symbol != bar.Symbol {
			continue
		}
		if p.State.Open() {
			if p.Side == models.SideBuy {
				return lowFirst
			}
			return highFirst
		}
		if p.State == models.StatePendingEntry {
			if p.Side == models.SideBuy {
				return highFirst
			}
			return lowFirst
		}
	}
	return lowFirst
}

func (e *Engine) drainSignals(ctx context.Context) {
	for {
		select {
		case sig := <-e.sigs:
			e.runner.OnSignal(ctx, sig)
		default:
			return
		}
	}
}

// closeRemaining снимает невыполненные лимитки и закрывает остаток по
// последней цене: хвост истории не должен висеть в воздухе.
func (e *Engine) closeRemaining(ctx context.Context) {
	for _, p := range e.tracker.Positions() {
		if p.State == models.StatePendingEntry {
			_ = e.sim.CancelOrder(ctx, p.Ticket)
		}
	}
	open, err := e.sim.OpenPositions(ctx)
	if err != nil {
		return
	}
	for _, p := range open {
		if _, err := e.sim.ClosePosition(ctx, p.Ticket); err != nil {
			log.Printf("[BT] ⚠️ хвост #%d не закрылся: %v", p.Ticket, err)
		}
	}
}
