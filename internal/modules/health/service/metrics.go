package service

import "github.com/prometheus/client_golang/prometheus"

var (
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Market ticks ingested"},
	)
	WSConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "ws_connected", Help: "Tick stream connected (0/1)"},
	)
	ConnState = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "conn_state", Help: "Bridge state: 0 disconnected, 1 degraded, 2 connected"},
	)
	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "equity", Help: "Account equity"},
	)
	DrawdownDaily = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "drawdown_daily_pct", Help: "Drawdown from day start, percent"},
	)
	DrawdownOverall = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "drawdown_overall_pct", Help: "Drawdown from high-water mark, percent"},
	)
	DrawdownBlocked = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "drawdown_blocked", Help: "Risk latch engaged (0/1)"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, WSConnected, ConnState,
		Equity, DrawdownDaily, DrawdownOverall, DrawdownBlocked,
	)
}
