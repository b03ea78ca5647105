package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"remindbot/internal/eventbus"
)

func startEngine(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	cfg.Enabled = true
	s := New(cfg, logxNop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	var ran atomic.Bool
	if err := s.Enqueue(Task{Name: "r1:start", Run: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	e := waitEvent(t, ch, eventbus.TaskFinished)
	if ev := e.Data.(TaskEvent); ev.Name != "r1:start" || ev.Attempts != 1 {
		t.Fatalf("event = %+v", ev)
	}
	if !ran.Load() {
		t.Fatal("task did not run")
	}
}

func TestNoRetryStopsAfterFirstAttempt(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, RetryMax: 3})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	var calls atomic.Int32
	permanent := errors.New("bad chat")
	_ = s.Enqueue(Task{Name: "send", Run: func(ctx context.Context) error {
		calls.Add(1)
		return NoRetry(permanent)
	}})
	e := waitEvent(t, ch, eventbus.TaskFailed)
	if ev := e.Data.(TaskEvent); ev.Attempts != 1 || ev.Error != permanent.Error() {
		t.Fatalf("event = %+v", ev)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	var calls atomic.Int32
	_ = s.Enqueue(Task{
		Name: "flaky",
		Run: func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	e := waitEvent(t, ch, eventbus.TaskFinished)
	if ev := e.Data.(TaskEvent); ev.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", ev.Attempts)
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, RetryBase: time.Millisecond, RetryMaxDelay: time.Millisecond})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	_ = s.Enqueue(Task{Name: "panicky", RetryMax: 1, Run: func(ctx context.Context) error {
		panic("boom")
	}})
	waitEvent(t, ch, eventbus.TaskFailed)
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 1})

	block := make(chan struct{})
	started := make(chan struct{})
	st := &RunState{}
	run := func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}
	if err := s.Enqueue(Task{Name: "w", Run: run, State: st, SkipIfRunning: true}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started
	err := s.Enqueue(Task{Name: "w", Run: run, State: st, SkipIfRunning: true})
	close(block)
	if !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue = %v, want ErrOverlapSkip", err)
	}
}

func TestEnqueueWhenStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logxNop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue = %v, want ErrStopped", err)
	}
	d := New(Config{}, logxNop(), nil)
	if err := d.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Enqueue = %v, want ErrDisabled", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	cfg := withDefaults(Config{RetryBase: time.Second, RetryMaxDelay: 10 * time.Second, RetryJitter: 0.000001})
	rng := rand.New(rand.NewSource(1))

	d := backoffDelay(cfg, 1, RetryAfter(errors.New("429"), 30*time.Second), rng)
	if d > cfg.RetryMaxDelay || d < 9*time.Second {
		t.Fatalf("hinted delay = %v, want about %v", d, cfg.RetryMaxDelay)
	}
	d = backoffDelay(cfg, 3, errors.New("502"), rng)
	if d < 3900*time.Millisecond || d > 4100*time.Millisecond {
		t.Fatalf("backoffDelay(3) = %v, want about 4s", d)
	}
}

func TestFailureClassification(t *testing.T) {
	t.Parallel()
	base := errors.New("no api key")
	wrapped := fmt.Errorf("weather report s1: %w", NoRetry(base))
	if !IsNoRetry(wrapped) || !errors.Is(wrapped, base) {
		t.Fatalf("IsNoRetry(%v) = false", wrapped)
	}
	if _, ok := RetryDelay(wrapped); ok {
		t.Fatal("a no-retry error carries no delay")
	}

	limited := fmt.Errorf("weather report s1: %w", RetryAfter(errors.New("429"), 30*time.Second))
	if d, ok := RetryDelay(limited); !ok || d != 30*time.Second {
		t.Fatalf("RetryDelay = %v, %v; want 30s", d, ok)
	}
	if IsNoRetry(limited) {
		t.Fatal("a rate-limited error is retryable")
	}
	if NoRetry(nil) != nil || RetryAfter(nil, time.Second) != nil {
		t.Fatal("nil errors must stay nil")
	}
}

func TestFinalFailureIsNotRetried(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, RetryMax: 3, RetryBase: time.Millisecond})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	var calls atomic.Int32
	_ = s.Enqueue(Task{Name: "r1:start", Run: func(context.Context) error {
		calls.Add(1)
		return NoRetry(errors.New("notifier stopped"))
	}})
	e := waitEvent(t, ch, eventbus.TaskFailed)
	if ev := e.Data.(TaskEvent); ev.Attempts != 1 || ev.Error != "notifier stopped" {
		t.Fatalf("event = %+v, want one attempt with the inner error", ev)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}
