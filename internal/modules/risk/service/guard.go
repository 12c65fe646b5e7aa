package service

import (
	"fmt"
	"log"
	"sync"
	"time"

	"prop_bot/internal/helper"
	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
)

// Store — персист состояния риска между рестартами. Дневная база и HWM
// обязаны переживать рестарт: иначе лимиты пропа обнулялись бы перезапуском.
type Store interface {
	Load(magic int64) (models.RiskState, bool, error)
	Save(magic int64, st models.RiskState) error
}

// Guard считает просадки и держит одностороннюю защёлку BLOCKED.
// Дневная просадка — от equity начала торгового дня, общая — от high-water
// mark (trailing). Разблокировка только явная: дневная — сменой дня, общая —
// руками через ResetOverall. Восстановление equity выше лимита защёлку НЕ снимает.
type Guard struct {
	cfg    config.RiskConfig
	magic  int64
	loc    *time.Location
	store  Store
	events chan<- models.Event

	mu     sync.Mutex
	st     models.RiskState
	equity float64
	ready  bool

	onBreach func(reason string)
	now      func() time.Time
}

func NewGuard(cfg *config.Config, store Store, events chan<- models.Event) *Guard {
	return &Guard{
		cfg:    cfg.Risk,
		magic:  cfg.Magic,
		loc:    cfg.Location(),
		store:  store,
		events: events,
		now:    time.Now,
	}
}

// SetNow — инъекция часов для бектеста.
func (g *Guard) SetNow(fn func() time.Time) {
	g.mu.Lock()
	g.now = fn
	g.mu.Unlock()
}

// SetOnBreach — хук принудительного закрытия всех позиций. Дёргается один раз
// при срабатывании защёлки, вне мьютекса guard'а.
func (g *Guard) SetOnBreach(fn func(reason string)) {
	g.mu.Lock()
	g.onBreach = fn
	g.mu.Unlock()
}

// Bootstrap поднимает сохранённое состояние и подставляет текущий equity.
// Рестарт внутри дня дневную базу НЕ трогает, защёлка переживает рестарт.
func (g *Guard) Bootstrap(acct models.AccountInfo) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := helper.TradingDay(g.now(), g.loc)

	st, found, err := g.store.Load(g.magic)
	if err != nil {
		return fmt.Errorf("risk state load: %w", err)
	}
	if !found {
		st = models.RiskState{
			HighWater: acct.Equity,
			DayStart:  acct.Equity,
			Day:       today,
		}
	} else {
		if st.Day != today {
			st.Day = today
			st.DayStart = acct.Equity
			if st.Blocked && st.BlockKind == models.BlockDaily {
				st.Blocked, st.BlockKind, st.Reason = false, "", ""
				st.BlockedAt = time.Time{}
			}
		}
		if acct.Equity > st.HighWater {
			st.HighWater = acct.Equity
		}
	}

	g.st = st
	g.equity = acct.Equity
	g.ready = true
	g.persistLocked()

	log.Printf("[RISK] guard готов: equity=%.2f day_start=%.2f hwm=%.2f blocked=%v",
		g.equity, g.st.DayStart, g.st.HighWater, g.st.Blocked)
	return nil
}

// UpdateEquity — каждое обновление счёта проходит сюда: пересчёт метрик,
// подъём HWM, защёлка при пробое лимита. Возвращает свежий снимок.
func (g *Guard) UpdateEquity(equity float64) models.DrawdownSnapshot {
	snap, _ := g.apply(equity)
	return snap
}

// GateEntry — решение о новом входе одной критической секцией: метрики
// пересчитываются на актуальном equity и защёлка проверяется атомарно.
// Пока guard не инициализирован — входы закрыты (fail-closed).
func (g *Guard) GateEntry(equity float64) (bool, string) {
	snap, ready := g.apply(equity)
	if !ready {
		return false, "risk guard not initialized"
	}
	if snap.Blocked {
		return false, snap.Reason
	}
	return true, ""
}

func (g *Guard) apply(equity float64) (models.DrawdownSnapshot, bool) {
	g.mu.Lock()
	if !g.ready {
		g.mu.Unlock()
		return models.DrawdownSnapshot{}, false
	}
	snap, breach := g.updateLocked(equity)
	fn := g.onBreach
	flatten := g.cfg.FlattenOnBreach
	g.mu.Unlock()

	if breach != "" {
		log.Printf("[RISK] 🛑 торговля заблокирована: %s", breach)
		models.TrySend(g.events, models.Event{
			Type:   models.EventDrawdownBlock,
			At:     g.now(),
			Reason: breach,
		})
		if fn != nil && flatten {
			fn(breach)
		}
	}
	return snap, true
}

// updateLocked пересчитывает просадки и защёлкивает блок.
// breach != "" только на первом срабатывании.
func (g *Guard) updateLocked(equity float64) (models.DrawdownSnapshot, string) {
	g.equity = equity

	persist := false
	if equity > g.st.HighWater {
		g.st.HighWater = equity
		persist = true
	}

	daily := pctLoss(g.st.DayStart, equity)
	overall := pctLoss(g.st.HighWater, equity)

	breach := ""
	if !g.st.Blocked {
		switch {
		case daily >= g.cfg.DailyLimitPct:
			g.blockLocked(models.BlockDaily,
				fmt.Sprintf("daily drawdown %.2f%% >= %.2f%% (day start %.2f, equity %.2f)",
					daily, g.cfg.DailyLimitPct, g.st.DayStart, equity))
			breach = g.st.Reason
			persist = true
		case overall >= g.cfg.OverallLimitPct:
			g.blockLocked(models.BlockOverall,
				fmt.Sprintf("overall drawdown %.2f%% >= %.2f%% (hwm %.2f, equity %.2f)",
					overall, g.cfg.OverallLimitPct, g.st.HighWater, equity))
			breach = g.st.Reason
			persist = true
		}
	}
	if persist {
		g.persistLocked()
	}

	return g.snapshotLocked(daily, overall), breach
}

func (g *Guard) blockLocked(kind, reason string) {
	g.st.Blocked = true
	g.st.BlockKind = kind
	g.st.BlockedAt = g.now()
	g.st.Reason = reason
}

// RolloverIfNewDay — смена торгового дня: новая дневная база от текущего
// equity, дневной блок снимается. Общий блок живёт до ручного сброса.
func (g *Guard) RolloverIfNewDay(at time.Time) bool {
	g.mu.Lock()
	if !g.ready {
		g.mu.Unlock()
		return false
	}
	day := helper.TradingDay(at, g.loc)
	if day == g.st.Day {
		g.mu.Unlock()
		return false
	}

	g.st.Day = day
	g.st.DayStart = g.equity
	cleared := false
	if g.st.Blocked && g.st.BlockKind == models.BlockDaily {
		g.st.Blocked, g.st.BlockKind, g.st.Reason = false, "", ""
		g.st.BlockedAt = time.Time{}
		cleared = true
	}
	g.persistLocked()
	dayStart := g.st.DayStart
	g.mu.Unlock()

	log.Printf("[RISK] новый торговый день %s: дневная база %.2f", day, dayStart)
	if cleared {
		models.TrySend(g.events, models.Event{
			Type:   models.EventDrawdownReset,
			At:     g.now(),
			Reason: "new trading day " + day + ", daily limit re-armed",
		})
	}
	return true
}

// ResetOverall — ручной сброс общего блока (подтверждённая команда оператора).
// HWM перезаписывается текущим equity: иначе защёлка вернётся следующим тиком.
func (g *Guard) ResetOverall(by string) bool {
	g.mu.Lock()
	if !g.ready || !g.st.Blocked || g.st.BlockKind != models.BlockOverall {
		g.mu.Unlock()
		return false
	}
	g.st.Blocked, g.st.BlockKind, g.st.Reason = false, "", ""
	g.st.BlockedAt = time.Time{}
	g.st.HighWater = g.equity
	g.persistLocked()
	hwm := g.st.HighWater
	g.mu.Unlock()

	log.Printf("[RISK] общий блок снят (%s), hwm переустановлен на %.2f", by, hwm)
	models.TrySend(g.events, models.Event{
		Type:   models.EventDrawdownReset,
		At:     g.now(),
		Reason: "overall block reset by " + by,
	})
	return true
}

func (g *Guard) Snapshot() models.DrawdownSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked(pctLoss(g.st.DayStart, g.equity), pctLoss(g.st.HighWater, g.equity))
}

func (g *Guard) snapshotLocked(daily, overall float64) models.DrawdownSnapshot {
	return models.DrawdownSnapshot{
		Equity:     g.equity,
		DayStart:   g.st.DayStart,
		HighWater:  g.st.HighWater,
		DailyPct:   daily,
		OverallPct: overall,
		Blocked:    g.st.Blocked,
		BlockKind:  g.st.BlockKind,
		BlockedAt:  g.st.BlockedAt,
		Reason:     g.st.Reason,
	}
}

func (g *Guard) persistLocked() {
	if err := g.store.Save(g.magic, g.st); err != nil {
		log.Printf("[RISK] не смог сохранить состояние: %v", err)
	}
}

func pctLoss(base, equity float64) float64 {
	if base <= 0 {
		return 0
	}
	loss := (base - equity) / base * 100
	if loss < 0 {
		return 0
	}
	return loss
}
