package service

import "prop_bot/internal/models"

type Trend int

const (
	TrendNone Trend = iota
	TrendUp
	TrendDown
)

func (t Trend) String() string {
	switch t {
	case TrendUp:
		return "up"
	case TrendDown:
		return "down"
	}
	return "flat"
}

// sma — простая средняя последних period значений до индекса last включительно.
func sma(closes []float64, period, last int) float64 {
	if period <= 0 || last+1 < period || last >= len(closes) {
		return 0
	}
	var sum float64
	for i := last - period + 1; i <= last; i++ {
		sum += closes[i]
	}
	return sum / float64(period)
}

// smaTrend: close над растущей SMA — up, под падающей — down, иначе flat.
// Нужно period+1 баров: сравниваем SMA на последнем и предпоследнем баре.
func smaTrend(bars []models.Bar, period int) Trend {
	n := len(bars)
	if n < period+1 {
		return TrendNone
	}
	closes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
	}
	cur := sma(closes, period, n-1)
	prev := sma(closes, period, n-2)
	last := closes[n-1]

	switch {
	case last > cur && cur > prev:
		return TrendUp
	case last < cur && cur < prev:
		return TrendDown
	}
	return TrendNone
}

// rsi по Уайлдеру: сид простым средним, дальше сглаживание по всей серии.
// Данных меньше period+1 — нейтральные 50, фильтр не мешает.
func rsi(closes []float64, period int) float64 {
	n := len(closes)
	if period <= 0 || n < period+1 {
		return 50
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
