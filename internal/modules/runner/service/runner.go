package service

import (
	"context"
	"errors"
	"log"
	"time"

	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
	lifesvc "prop_bot/internal/modules/lifecycle/service"
	mt5 "prop_bot/internal/modules/mt5_client/service"
	risksvc "prop_bot/internal/modules/risk/service"
	supsvc "prop_bot/internal/modules/supervisor/service"
	"prop_bot/internal/traderr"
)

// отчёт раз в час, как в проде
const reportEvery = time.Hour

// Journal — часть журнала, нужная раннеру.
type Journal interface {
	LogRiskEvent(ctx context.Context, e models.Event) error
	Report(ctx context.Context, acc models.AccountInfo) (string, error)
}

// Notifier — доставка событий наружу (телеграм или лог-заглушка).
type Notifier interface {
	Notify(e models.Event)
}

// Health — датчики для readiness и /metrics.
type Health interface {
	ObserveEquity(snap models.DrawdownSnapshot)
	TouchTick(at time.Time)
}

// Sink — прокорм живых тиков бумажному исполнителю. nil на живом счёте.
type Sink interface {
	Push(t models.Tick)
}

// Runner связывает конвейер: сигнал -> риск -> ордер -> трекер.
// Плюс фоновые циклы счёта, ролловера дня и отчёта.
type Runner struct {
	cfg     *config.Config
	catalog *config.Catalog
	gw      mt5.Gateway
	sup     *supsvc.Supervisor
	guard   *risksvc.Guard
	sizer   *risksvc.Sizer
	tracker *lifesvc.Tracker
	journal Journal
	health  Health
	sink    Sink
	events  chan<- models.Event
	now     func() time.Time

	booted bool // меняют только Bootstrap и AccountWorker, последовательно в одной горутине
}

func NewRunner(
	cfg *config.Config,
	catalog *config.Catalog,
	gw mt5.Gateway,
	sup *supsvc.Supervisor,
	guard *risksvc.Guard,
	sizer *risksvc.Sizer,
	tracker *lifesvc.Tracker,
	journal Journal,
	health Health,
	sink Sink,
	events chan<- models.Event,
) *Runner {
	return &Runner{
		cfg:     cfg,
		catalog: catalog,
		gw:      gw,
		sup:     sup,
		guard:   guard,
		sizer:   sizer,
		tracker: tracker,
		journal: journal,
		health:  health,
		sink:    sink,
		events:  events,
		now:     time.Now,
	}
}

// SetNow — инъекция часов для бектеста.
func (r *Runner) SetNow(fn func() time.Time) { r.now = fn }

// StartWorkers поднимает фоновые циклы и сразу возвращается. Bootstrap идёт
// в одной горутине с AccountWorker: висящий на старте мост не держит запуск
// приложения, а guard добутстрапится, когда счёт станет доступен.
func (r *Runner) StartWorkers(ctx context.Context, signals <-chan models.Signal, ticks <-chan models.Tick, events <-chan models.Event, n Notifier) {
	go r.SignalWorker(ctx, signals)
	go r.TickWorker(ctx, ticks)
	go r.EventWorker(ctx, events, n)
	go func() {
		r.Bootstrap(ctx)
		r.AccountWorker(ctx)
	}()
	go r.RolloverWorker(ctx)
	go r.ReportWorker(ctx)
}

// Bootstrap — первый снимок счёта для guard'а. Неудача не валит старт:
// AccountWorker дотянется до счёта, когда мост поднимется, а до тех пор
// guard держит входы закрытыми.
func (r *Runner) Bootstrap(ctx context.Context) {
	acct, err := r.fetchAccount(ctx)
	if err != nil {
		log.Printf("[RUNNER] ⚠️ стартовый снимок счёта не получен: %v", err)
		return
	}
	if err := r.guard.Bootstrap(acct); err != nil {
		log.Printf("[RUNNER] ⚠️ guard не инициализирован: %v", err)
		return
	}
	r.booted = true
}

func (r *Runner) fetchAccount(ctx context.Context) (models.AccountInfo, error) {
	var acct models.AccountInfo
	err := r.sup.Do(ctx, "account info", func(ctx context.Context) error {
		var err error
		acct, err = r.gw.GetAccount(ctx)
		return err
	})
	return acct, err
}

// SignalWorker — единственный потребитель канала сигналов.
func (r *Runner) SignalWorker(ctx context.Context, signals <-chan models.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			r.OnSignal(ctx, sig)
		}
	}
}

// OnSignal прогоняет кандидата через гейты и ставит ордер.
func (r *Runner) OnSignal(ctx context.Context, sig models.Signal) {
	if st := r.sup.State(); st != models.ConnConnected {
		log.Printf("[RUNNER] сигнал %s %s пропущен: связь %s", sig.Symbol, sig.Side, st)
		return
	}
	// hub уже гейтит по открытой позиции, но между детектом и исполнением
	// мог пройти филл лимитки
	if r.tracker.HasOpen(sig.Symbol) {
		log.Printf("[RUNNER] сигнал %s пропущен: позиция уже есть", sig.Symbol)
		return
	}
	inst, ok := r.catalog.Get(sig.Symbol)
	if !ok {
		log.Printf("[RUNNER] ⚠️ %s нет в справочнике инструментов", sig.Symbol)
		return
	}

	models.TrySend(r.events, models.Event{
		Type: models.EventSignal, At: r.now(), Symbol: sig.Symbol, Side: sig.Side,
		Price: sig.Price, SL: sig.StopLoss, TP: sig.TakeProfit,
		Reason: sig.Reason, Text: sig.PairLabel(),
	})

	acct, err := r.fetchAccount(ctx)
	if err != nil {
		log.Printf("[RUNNER] счёт недоступен, сигнал %s пропущен: %v", sig.Symbol, err)
		return
	}
	var tick models.Tick
	err = r.sup.Do(ctx, "tick "+sig.Symbol, func(ctx context.Context) error {
		var err error
		tick, err = r.gw.GetTick(ctx, sig.Symbol)
		return err
	})
	if err != nil {
		log.Printf("[RUNNER] тик %s недоступен, сигнал пропущен: %v", sig.Symbol, err)
		return
	}

	dec, err := r.sizer.Evaluate(sig, acct, tick, inst)
	if err != nil {
		var cv *traderr.ConstraintViolation
		if errors.As(err, &cv) {
			log.Printf("[RUNNER] ⛔️ %s %s отклонён: %s (%s)", sig.Symbol, sig.Side, cv.Reason, cv.Detail)
			models.TrySend(r.events, models.Event{
				Type: models.EventRejected, At: r.now(), Symbol: sig.Symbol,
				Side: sig.Side, Reason: cv.Reason, Text: cv.Detail,
			})
		} else {
			log.Printf("[RUNNER] оценка риска %s не удалась: %v", sig.Symbol, err)
		}
		return
	}

	r.place(ctx, sig, dec, inst)
}

func (r *Runner) place(ctx context.Context, sig models.Signal, dec models.RiskDecision, inst models.Instrument) {
	req := mt5.OrderRequest{
		Symbol:  sig.Symbol,
		Side:    sig.Side,
		Lots:    dec.Lots,
		Price:   sig.Price,
		SL:      sig.StopLoss,
		TP:      sig.TakeProfit,
		Comment: "PropBot " + sig.Reason,
	}
	pos := models.Position{
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Lots:       dec.Lots,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Magic:      r.cfg.Magic,
		Comment:    req.Comment,
	}

	switch sig.Mode {
	case models.EntryLimit:
		var ticket int64
		err := r.sup.Do(ctx, "place limit "+sig.Symbol, func(ctx context.Context) error {
			var err error
			ticket, err = r.gw.PlaceLimit(ctx, req)
			return err
		})
		if err != nil {
			r.rejectOrder(sig, err)
			return
		}
		pos.Ticket = ticket
		pos.State = models.StatePendingEntry
		pos.EntryPrice = sig.Price
	default:
		var fill mt5.Fill
		err := r.sup.Do(ctx, "place market "+sig.Symbol, func(ctx context.Context) error {
			var err error
			fill, err = r.gw.PlaceMarket(ctx, req)
			return err
		})
		if err != nil {
			r.rejectOrder(sig, err)
			return
		}
		pos.Ticket = fill.Ticket
		pos.State = models.StateOpenUnmanaged
		pos.EntryPrice = fill.Price
		pos.OpenedAt = fill.Time
	}

	r.tracker.Track(pos, inst)
	log.Printf("[RUNNER] ✅ %s %s %.2f лота @ %.*f SL=%.*f TP=%.*f (%s %s, риск %.2f)",
		sig.Symbol, sig.Side, dec.Lots,
		inst.Digits, pos.EntryPrice, inst.Digits, pos.StopLoss, inst.Digits, pos.TakeProfit,
		sig.Mode, sig.Reason, dec.RiskMoney)
	models.TrySend(r.events, models.Event{
		Type: models.EventOrderPlaced, At: r.now(), Symbol: sig.Symbol,
		Ticket: pos.Ticket, Side: sig.Side, Price: pos.EntryPrice,
		SL: pos.StopLoss, TP: pos.TakeProfit, Lots: dec.Lots,
		State: string(pos.State), Text: string(sig.Mode),
	})
}

func (r *Runner) rejectOrder(sig models.Signal, err error) {
	log.Printf("[RUNNER] ❗️ ордер %s %s не поставлен: %v", sig.Symbol, sig.Side, err)
	models.TrySend(r.events, models.Event{
		Type: models.EventRejected, At: r.now(), Symbol: sig.Symbol,
		Side: sig.Side, Reason: "order_failed", Text: err.Error(),
	})
}

// AccountWorker опрашивает счёт: equity в guard, снимок в health.
// Пока guard не инициализирован — пытается добутстрапить.
func (r *Runner) AccountWorker(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			acct, err := r.fetchAccount(ctx)
			if err != nil {
				log.Printf("[RUNNER] опрос счёта: %v", err)
				continue
			}
			if !r.booted {
				if err := r.guard.Bootstrap(acct); err != nil {
					log.Printf("[RUNNER] guard не инициализирован: %v", err)
					continue
				}
				r.booted = true
			}
			snap := r.guard.UpdateEquity(acct.Equity)
			if r.health != nil {
				r.health.ObserveEquity(snap)
			}
		}
	}
}

// RolloverWorker проверяет смену торгового дня раз в минуту.
func (r *Runner) RolloverWorker(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.guard.RolloverIfNewDay(r.now()) {
				log.Printf("[RUNNER] 🌅 новый торговый день")
			}
		}
	}
}

// ReportWorker шлёт часовой отчёт по статистике.
func (r *Runner) ReportWorker(ctx context.Context) {
	ticker := time.NewTicker(reportEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Report(ctx)
		}
	}
}

func (r *Runner) Report(ctx context.Context) {
	if r.journal == nil {
		return
	}
	acct, err := r.fetchAccount(ctx)
	if err != nil {
		log.Printf("[RUNNER] отчёт пропущен, счёт недоступен: %v", err)
		return
	}
	text, err := r.journal.Report(ctx, acct)
	if err != nil {
		log.Printf("[RUNNER] отчёт не собрался: %v", err)
		return
	}
	models.TrySend(r.events, models.Event{Type: models.EventReport, At: r.now(), Text: text})
}

// TickWorker раздаёт живые тики: бумажному исполнителю, трекеру, health.
func (r *Runner) TickWorker(ctx context.Context, ticks <-chan models.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticks:
			if r.sink != nil {
				r.sink.Push(tick)
			}
			if r.health != nil {
				r.health.TouchTick(tick.Time)
			}
			r.tracker.OnTick(ctx, tick)
		}
	}
}

// EventWorker — единственный потребитель канала событий: доставка наружу
// плюс журнал для событий риска.
func (r *Runner) EventWorker(ctx context.Context, events <-chan models.Event, n Notifier) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			if n != nil {
				n.Notify(e)
			}
			switch e.Type {
			case models.EventDrawdownBlock, models.EventDrawdownReset:
				if r.journal == nil {
					continue
				}
				if err := r.journal.LogRiskEvent(ctx, e); err != nil {
					log.Printf("[RUNNER] риск-событие не записано: %v", err)
				}
			}
		}
	}
}
