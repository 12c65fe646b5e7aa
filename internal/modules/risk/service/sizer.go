package service

import (
	"fmt"
	"log"
	"math"

	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
	"prop_bot/internal/traderr"
)

// Sizer превращает сигнал в размер позиции под лимиты пропа.
// Убыток одного лота при стопе = (dist / tickSize) * tickValue — формула,
// которая одинаково работает для форекса, металлов и индексов.
type Sizer struct {
	cfg   config.RiskConfig
	guard *Guard
}

func NewSizer(cfg *config.Config, guard *Guard) *Sizer {
	return &Sizer{cfg: cfg.Risk, guard: guard}
}

// Evaluate — цепочка гейтов: защёлка просадки, спред, размер по риску,
// минимальный лот, маржа, ROI в точке тейка. Любой отказ — ConstraintViolation,
// без ретраев: следующий сигнал пройдёт цепочку заново.
func (s *Sizer) Evaluate(sig models.Signal, acct models.AccountInfo, tick models.Tick, inst models.Instrument) (models.RiskDecision, error) {

	// --- 1. Защёлка просадки (одна критическая секция со свежим equity) ---
	if ok, why := s.guard.GateEntry(acct.Equity); !ok {
		return reject("drawdown", why)
	}

	// --- 2. Спред ---
	spreadPoints := 0.0
	if inst.Point > 0 {
		spreadPoints = tick.Spread() / inst.Point
	}
	if spreadPoints > s.cfg.MaxSpreadPoints {
		return reject("spread", fmt.Sprintf("spread %.1f points > max %.1f", spreadPoints, s.cfg.MaxSpreadPoints))
	}

	// --- 3. Размер по риску ---
	slDist := math.Abs(sig.Price - sig.StopLoss)
	if slDist <= 0 {
		return reject("sl_distance", "нулевой стоп")
	}
	if inst.TickSize <= 0 || inst.TickValue <= 0 {
		return reject("instrument", fmt.Sprintf("bad instrument meta: tickSize=%.8f tickValue=%.8f", inst.TickSize, inst.TickValue))
	}

	lossPerLot := slDist / inst.TickSize * inst.TickValue
	riskMoney := acct.Equity * s.cfg.RiskPct / 100.0
	if riskMoney <= 0 {
		return reject("risk_budget", fmt.Sprintf("equity %.2f даёт бюджет %.2f", acct.Equity, riskMoney))
	}

	lots := riskMoney / lossPerLot

	// округляем ВНИЗ до шага лота: фактический риск никогда не выше бюджета
	step := inst.LotStep
	if step <= 0 {
		step = 0.01
	}
	lots = math.Floor(lots/step+1e-9) * step

	if lots < inst.LotMin {
		return reject("lot_too_small", fmt.Sprintf("calc %.2f < min %.2f (стоп слишком широкий для бюджета)", lots, inst.LotMin))
	}
	if inst.LotMax > 0 && lots > inst.LotMax {
		lots = inst.LotMax
	}

	// --- 4. Маржа ---
	// плавающий минус может съесть свободную маржу в ноль и ниже —
	// это тоже отказ, а не пропуск проверки
	px := execPrice(sig, tick)
	margin := lots * inst.ContractSize * px * inst.MarginRate
	if margin > acct.FreeMargin {
		return reject("margin", fmt.Sprintf("need %.2f, free %.2f", margin, acct.FreeMargin))
	}

	// --- 5. ROI в точке тейка ---
	if sig.TakeProfit > 0 && s.cfg.MinROI > 0 && margin > 0 {
		profitAtTP := math.Abs(sig.TakeProfit-px) / inst.TickSize * inst.TickValue * lots
		roi := profitAtTP / margin
		if roi < s.cfg.MinROI {
			return reject("roi", fmt.Sprintf("roi %.2f < min %.2f (profit %.2f / margin %.2f)", roi, s.cfg.MinROI, profitAtTP, margin))
		}
	}

	return models.RiskDecision{
		Accepted:  true,
		Lots:      lots,
		RiskMoney: lots * lossPerLot,
		Margin:    margin,
	}, nil
}

func reject(reason, detail string) (models.RiskDecision, error) {
	log.Printf("[RISK] вход отклонён (%s): %s", reason, detail)
	return models.RiskDecision{Reason: reason},
		&traderr.ConstraintViolation{Reason: reason, Detail: detail}
}

// execPrice — оценка цены исполнения: market по текущему тику, limit по уровню.
func execPrice(sig models.Signal, tick models.Tick) float64 {
	if sig.Mode == models.EntryLimit {
		return sig.Price
	}
	if sig.Side == models.SideBuy {
		return tick.Ask
	}
	return tick.Bid
}
