package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
	"prop_bot/internal/traderr"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Supervisor оборачивает все вызовы шлюза ретраями с экспоненциальной паузой
// и ведёт состояние связи: CONNECTED -> DISCONNECTED -> DEGRADED -> CONNECTED.
// Защитные операции (перестановка стопов, закрытия) получают больше попыток
// и никогда не теряются: при неудаче их переочередит lifecycle после реконнекта.
type Supervisor struct {
	cfg    config.SupervisorConfig
	pinger Pinger
	events chan<- models.Event

	state    atomic.Int32
	mu       sync.Mutex
	subs     []chan models.ConnState
	okStreak int

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(cfg *config.Config, pinger Pinger, events chan<- models.Event) *Supervisor {
	s := &Supervisor{
		cfg:    cfg.Supervisor,
		pinger: pinger,
		events: events,
		sleep:  sleepCtx,
		now:    time.Now,
	}
	s.state.Store(int32(models.ConnDisconnected))
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Supervisor) State() models.ConnState {
	return models.ConnState(s.state.Load())
}

// Subscribe — уведомления о каждом переходе состояния. Буфер небольшой,
// отправка неблокирующая: медленный подписчик теряет промежуточные переходы,
// но не тормозит торговлю.
func (s *Supervisor) Subscribe() <-chan models.ConnState {
	ch := make(chan models.ConnState, 8)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// Do — обычный вызов: до RetryAttempts попыток с паузами base*2^n (потолок cap).
func (s *Supervisor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return s.do(ctx, op, s.cfg.RetryAttempts, fn)
}

// DoProtective — защитный вызов (стопы, закрытия): больше попыток, тот же механизм.
func (s *Supervisor) DoProtective(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return s.do(ctx, op, s.cfg.ProtectiveAttempts, fn)
}

func (s *Supervisor) do(ctx context.Context, op string, attempts int, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn(ctx)
		if err == nil {
			s.reportSuccess()
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			// отмена снаружи: про состояние связи ошибка ничего не говорит
			return err
		}
		if !errors.Is(err, traderr.ErrDataUnavailable) {
			// сервер ответил (реджект, requote, not found) — связь живая
			s.reportSuccess()
			if !traderr.Retryable(err) {
				return err
			}
		}

		if attempt < attempts-1 {
			d := backoffDelay(s.cfg.RetryBase, s.cfg.RetryCap, attempt)
			log.Printf("[SUP] %s: попытка %d/%d не удалась (%v), пауза %s", op, attempt+1, attempts, err, d)
			if sErr := s.sleep(ctx, d); sErr != nil {
				return sErr
			}
		}
	}

	if errors.Is(lastErr, traderr.ErrDataUnavailable) {
		s.markDisconnected(op, lastErr)
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", op, attempts, lastErr)
}

func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base << uint(attempt)
	if d <= 0 || (limit > 0 && d > limit) {
		return limit
	}
	return d
}

// reportSuccess двигает лестницу восстановления:
// DISCONNECTED -> DEGRADED сразу, DEGRADED -> CONNECTED после RecoveryThreshold подряд.
func (s *Supervisor) reportSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case models.ConnConnected:
		return
	case models.ConnDisconnected:
		s.okStreak = 1
		s.transitionLocked(models.ConnDegraded, "first success after outage")
	case models.ConnDegraded:
		s.okStreak++
		if s.okStreak >= s.cfg.RecoveryThreshold {
			s.transitionLocked(models.ConnConnected, fmt.Sprintf("%d consecutive successes", s.okStreak))
		}
	}
}

func (s *Supervisor) markDisconnected(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == models.ConnDisconnected {
		return
	}
	s.okStreak = 0
	s.transitionLocked(models.ConnDisconnected, fmt.Sprintf("%s: %v", op, err))
}

// MarkConnected — быстрый путь холодного старта: первый же успешный ping
// поднимает состояние сразу в CONNECTED, лестница нужна только после обрыва.
func (s *Supervisor) MarkConnected(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == models.ConnConnected {
		return
	}
	s.okStreak = 0
	s.transitionLocked(models.ConnConnected, reason)
}

func (s *Supervisor) transitionLocked(next models.ConnState, reason string) {
	prev := s.State()
	s.state.Store(int32(next))
	log.Printf("[SUP] связь %s -> %s (%s)", prev, next, reason)

	models.TrySend(s.events, models.Event{
		Type:   models.EventConnState,
		At:     s.now(),
		State:  next.String(),
		Reason: reason,
	})
	for _, ch := range s.subs {
		select {
		case ch <- next:
		default:
		}
	}
}
