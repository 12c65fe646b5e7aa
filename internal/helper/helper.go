package helper

import (
	"math"
	"strings"
	"time"

	"prop_bot/internal/models"
)

// NormTF приводит пользовательский таймфрейм к нотации MT5: "15m" -> "M15", "4h" -> "H4".
func NormTF(raw string) models.Timeframe {
	s := strings.TrimSpace(strings.ToUpper(raw))
	switch s {
	case "1M", "M1":
		return models.TFM1
	case "5M", "M5":
		return models.TFM5
	case "15M", "M15":
		return models.TFM15
	case "30M", "M30":
		return models.TFM30
	case "60M", "1H", "H1":
		return models.TFH1
	case "4H", "H4":
		return models.TFH4
	case "1D", "D", "D1":
		return models.TFD1
	default:
		return models.Timeframe(s)
	}
}

// TFDuration — длительность одного бара.
func TFDuration(tf models.Timeframe) time.Duration {
	switch tf {
	case models.TFM1:
		return time.Minute
	case models.TFM5:
		return 5 * time.Minute
	case models.TFM15:
		return 15 * time.Minute
	case models.TFM30:
		return 30 * time.Minute
	case models.TFH1:
		return time.Hour
	case models.TFH4:
		return 4 * time.Hour
	case models.TFD1:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

func RoundDownToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	// 1e-9: цена на тике не должна уползать вниз из-за представления float
	steps := math.Floor(px/tick + 1e-9)
	return steps * tick
}

func RoundUpToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Ceil(px/tick - 1e-9)
	return steps * tick
}

// RoundPrice округляет цену до digits знаков (котировочный шаг инструмента).
func RoundPrice(px float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(px*p) / p
}

// PriceToPips переводит ценовое расстояние в пипсы инструмента.
func PriceToPips(dist float64, inst models.Instrument) float64 {
	if inst.PipSize <= 0 {
		return 0
	}
	return dist / inst.PipSize
}

// PipsToPrice — обратное преобразование.
func PipsToPrice(pips float64, inst models.Instrument) float64 {
	return pips * inst.PipSize
}

// ProfitPips — текущий ход цены в пипсах в пользу позиции.
// Для BUY считаем по bid, для SELL по ask — как закрывал бы брокер.
func ProfitPips(side models.Side, entry float64, tick models.Tick, inst models.Instrument) float64 {
	switch side {
	case models.SideBuy:
		return PriceToPips(tick.Bid-entry, inst)
	case models.SideSell:
		return PriceToPips(entry-tick.Ask, inst)
	}
	return 0
}

// TradingDay — дата торгового дня в зоне сервера. Смена дня = смена этой даты.
func TradingDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// SessionLabel — название сессии по часу серверного времени.
// Интервалы как в журнале: 8-13 London, 13-17 London/NY, 17-22 New York.
func SessionLabel(t time.Time, loc *time.Location) string {
	h := t.In(loc).Hour()
	switch {
	case h >= 8 && h < 13:
		return "London"
	case h >= 13 && h < 17:
		return "London/NY"
	case h >= 17 && h < 22:
		return "New York"
	default:
		return "Asia/Sydney"
	}
}
