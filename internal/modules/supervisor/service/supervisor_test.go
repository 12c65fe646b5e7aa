package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
	"prop_bot/internal/traderr"
)

type nopPinger struct{ err error }

func (p nopPinger) Ping(ctx context.Context) error { return p.err }

func newTestSup() (*Supervisor, *[]time.Duration) {
	cfg := &config.Config{
		Supervisor: config.SupervisorConfig{
			RetryBase:          time.Second,
			RetryCap:           30 * time.Second,
			RetryAttempts:      5,
			ProtectiveAttempts: 8,
			HeartbeatInterval:  15 * time.Second,
			RecoveryThreshold:  3,
		},
	}
	s := New(cfg, nopPinger{}, nil)
	delays := &[]time.Duration{}
	s.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return s, delays
}

func TestDoExhaustedMarksDisconnected(t *testing.T) {
	s, delays := newTestSup()
	s.MarkConnected("test")

	calls := 0
	err := s.Do(context.Background(), "GetBars", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("bridge down: %w", traderr.ErrDataUnavailable)
	})
	if err == nil {
		t.Fatal("want error after exhausted attempts")
	}
	if calls != 5 {
		t.Fatalf("calls = %d, want 5", calls)
	}
	if got := s.State(); got != models.ConnDisconnected {
		t.Fatalf("state = %s, want DISCONNECTED", got)
	}

	// паузы между попытками: 1s, 2s, 4s, 8s
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i, d := range want {
		if (*delays)[i] != d {
			t.Fatalf("delay[%d] = %s, want %s", i, (*delays)[i], d)
		}
	}
}

func TestBackoffCapped(t *testing.T) {
	if d := backoffDelay(time.Second, 30*time.Second, 10); d != 30*time.Second {
		t.Fatalf("capped delay = %s, want 30s", d)
	}
	if d := backoffDelay(time.Second, 30*time.Second, 0); d != time.Second {
		t.Fatalf("first delay = %s, want 1s", d)
	}
}

func TestRecoveryLadder(t *testing.T) {
	s, _ := newTestSup()
	s.MarkConnected("test")

	sub := s.Subscribe()

	// обрыв
	_ = s.Do(context.Background(), "GetTick", func(ctx context.Context) error {
		return traderr.ErrDataUnavailable
	})
	if s.State() != models.ConnDisconnected {
		t.Fatalf("state = %s, want DISCONNECTED", s.State())
	}

	ok := func(ctx context.Context) error { return nil }

	// первый успех: DEGRADED, но ещё не CONNECTED
	_ = s.Do(context.Background(), "Ping", ok)
	if s.State() != models.ConnDegraded {
		t.Fatalf("after 1 success: state = %s, want DEGRADED", s.State())
	}

	_ = s.Do(context.Background(), "Ping", ok)
	if s.State() != models.ConnDegraded {
		t.Fatalf("after 2 successes: state = %s, want DEGRADED", s.State())
	}

	// третий подряд: CONNECTED
	_ = s.Do(context.Background(), "Ping", ok)
	if s.State() != models.ConnConnected {
		t.Fatalf("after 3 successes: state = %s, want CONNECTED", s.State())
	}

	// подписчик видит все переходы: DISCONNECTED, DEGRADED, CONNECTED
	wantStates := []models.ConnState{models.ConnDisconnected, models.ConnDegraded, models.ConnConnected}
	for _, want := range wantStates {
		select {
		case got := <-sub:
			if got != want {
				t.Fatalf("subscriber got %s, want %s", got, want)
			}
		default:
			t.Fatalf("subscriber missed transition to %s", want)
		}
	}
}

func TestServerRejectDoesNotTripConnection(t *testing.T) {
	s, _ := newTestSup()
	s.MarkConnected("test")

	calls := 0
	err := s.Do(context.Background(), "PlaceMarket", func(ctx context.Context) error {
		calls++
		return &traderr.OrderError{Op: "PlaceMarket", Code: 10014, Msg: "invalid volume"}
	})
	var oe *traderr.OrderError
	if !errors.As(err, &oe) {
		t.Fatalf("want OrderError passthrough, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-retryable reject must not retry: calls = %d", calls)
	}
	if s.State() != models.ConnConnected {
		t.Fatalf("reject tripped connection state: %s", s.State())
	}
}

func TestRequoteRetriesThenSucceeds(t *testing.T) {
	s, _ := newTestSup()
	s.MarkConnected("test")

	calls := 0
	err := s.DoProtective(context.Background(), "ModifyPosition", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &traderr.OrderError{Op: "ModifyPosition", Code: 10004, Msg: "requote", Retryable: true}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("want success after requotes, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if s.State() != models.ConnConnected {
		t.Fatalf("state = %s, want CONNECTED", s.State())
	}
}

func TestContextCancelStopsRetries(t *testing.T) {
	s, _ := newTestSup()
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	s.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	err := s.Do(ctx, "GetBars", func(ctx context.Context) error {
		calls++
		return traderr.ErrDataUnavailable
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
