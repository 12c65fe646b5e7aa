package service

import (
	"sync"
	"sync/atomic"
	"time"

	"prop_bot/internal/models"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected  atomic.Bool
	lastTickUnix atomic.Int64 // unix seconds

	mu   sync.Mutex
	snap models.DrawdownSnapshot // последний снимок guard'а, для /healthz
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) {
	s.wsConnected.Store(v)
	WSConnected.Set(b2f(v))
}
func (s *State) WSConnected() bool { return s.wsConnected.Load() }

// SetConnState — состояние супервизора: readiness и метрика.
func (s *State) SetConnState(st models.ConnState) {
	s.SetReady(st == models.ConnConnected)
	ConnState.Set(float64(st))
}

func (s *State) TouchTick(t time.Time) {
	s.lastTickUnix.Store(t.Unix())
	TicksTotal.Inc()
}

func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

// ObserveEquity — снимок guard'а после опроса счёта: гейджи + копия для /healthz.
func (s *State) ObserveEquity(snap models.DrawdownSnapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	Equity.Set(snap.Equity)
	DrawdownDaily.Set(snap.DailyPct)
	DrawdownOverall.Set(snap.OverallPct)
	DrawdownBlocked.Set(b2f(snap.Blocked))
}

func (s *State) Drawdown() models.DrawdownSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

func b2f(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
