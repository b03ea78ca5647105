package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"remindbot/internal/eventbus"
	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

type fakeExec struct {
	tasks chan engine.Task
}

func newFakeExec() *fakeExec { return &fakeExec{tasks: make(chan engine.Task, 64)} }

func (f *fakeExec) Enqueue(t engine.Task) error {
	f.tasks <- t
	return nil
}

func (f *fakeExec) next(t *testing.T) engine.Task {
	t.Helper()
	select {
	case task := <-f.tasks:
		return task
	case <-time.After(3 * time.Second):
		t.Fatal("no task enqueued")
		return engine.Task{}
	}
}

func (f *fakeExec) none(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case task := <-f.tasks:
		t.Fatalf("unexpected task %q", task.Name)
	case <-time.After(within):
	}
}

func noop(context.Context) error { return nil }

func fakeNow() clock.FakeClock {
	clk := clock.NewFake()
	clk.Set(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	return clk
}

func TestTagIsDeterministic(t *testing.T) {
	t.Parallel()
	if got := Tag("abc", RoleRepeat); got != "abc:repeat" {
		t.Fatalf("Tag = %q, want abc:repeat", got)
	}
	if Tag("a", RoleStart) == Tag("a", RoleEnd) || Tag("a", RoleStart) == Tag("b", RoleStart) {
		t.Fatal("tags collide")
	}
}

func TestScheduleRejectsPastAndInvalid(t *testing.T) {
	t.Parallel()
	clk := fakeNow()
	s := New(Config{}, newFakeExec(), clk, logx.Nop(), nil)
	now := clk.Now()

	tests := []struct {
		name string
		run  func() (string, error)
		want error
	}{
		{"past once", func() (string, error) {
			return s.ScheduleOnce(Spec{ID: "r", Role: RoleStart, At: now.Add(-time.Minute), Run: noop})
		}, ErrPastInstant},
		{"exactly now", func() (string, error) {
			return s.ScheduleOnce(Spec{ID: "r", Role: RoleStart, At: now, Run: noop})
		}, ErrPastInstant},
		{"past repeat", func() (string, error) {
			return s.ScheduleRepeating(Spec{ID: "r", Role: RoleRepeat, At: now.Add(-time.Hour), Every: time.Hour, Run: noop})
		}, ErrPastInstant},
		{"repeat without interval", func() (string, error) {
			return s.ScheduleRepeating(Spec{ID: "r", Role: RoleRepeat, At: now.Add(time.Hour), Run: noop})
		}, ErrInvalidSpec},
		{"once with interval", func() (string, error) {
			return s.ScheduleOnce(Spec{ID: "r", Role: RoleStart, At: now.Add(time.Hour), Every: time.Hour, Run: noop})
		}, ErrInvalidSpec},
		{"no callback", func() (string, error) {
			return s.ScheduleOnce(Spec{ID: "r", Role: RoleStart, At: now.Add(time.Hour)})
		}, ErrInvalidSpec},
		{"no id", func() (string, error) {
			return s.ScheduleOnce(Spec{Role: RoleStart, At: now.Add(time.Hour), Run: noop})
		}, ErrInvalidSpec},
	}
	for _, tt := range tests {
		if _, err := tt.run(); !errors.Is(err, tt.want) {
			t.Fatalf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
	if got := s.Live(); got != 0 {
		t.Fatalf("Live = %d, want 0", got)
	}
}

func TestScheduleSameTagReplaces(t *testing.T) {
	t.Parallel()
	clk := fakeNow()
	s := New(Config{}, newFakeExec(), clk, logx.Nop(), nil)
	at := clk.Now().Add(time.Hour)

	for i := 0; i < 3; i++ {
		tag, err := s.ScheduleRepeating(Spec{ID: "w1", Role: RoleDaily, At: at.Add(time.Duration(i) * time.Minute), Every: 24 * time.Hour, Run: noop})
		if err != nil {
			t.Fatalf("ScheduleRepeating: %v", err)
		}
		if tag != "w1:daily" {
			t.Fatalf("tag = %q", tag)
		}
	}
	ts := s.TriggersFor("w1")
	if len(ts) != 1 {
		t.Fatalf("TriggersFor = %d triggers, want 1", len(ts))
	}
	if want := at.Add(2 * time.Minute); !ts[0].First.Equal(want) {
		t.Fatalf("First = %v, want %v", ts[0].First, want)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	clk := fakeNow()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(32)
	defer unsub()
	s := New(Config{}, newFakeExec(), clk, logx.Nop(), bus)
	at := clk.Now().Add(time.Hour)

	_, _ = s.ScheduleOnce(Spec{ID: "r1", Role: RoleStart, At: at, Run: noop})
	_, _ = s.ScheduleRepeating(Spec{ID: "r1", Role: RoleRepeat, At: at.Add(24 * time.Hour), Every: 24 * time.Hour, Run: noop})
	_, _ = s.ScheduleOnce(Spec{ID: "r2", Role: RoleStart, At: at, Run: noop})

	if got := s.Cancel("r1"); got != 2 {
		t.Fatalf("Cancel(r1) = %d, want 2", got)
	}
	if got := s.Cancel("r1"); got != 0 {
		t.Fatalf("second Cancel(r1) = %d, want 0", got)
	}
	if got := s.Cancel("missing"); got != 0 {
		t.Fatalf("Cancel(missing) = %d, want 0", got)
	}
	if got := s.Count("r2"); got != 1 {
		t.Fatalf("Count(r2) = %d, want 1", got)
	}

	cancelled := 0
	for len(ch) > 0 {
		if e := <-ch; e.Type == eventbus.TriggerCancelled {
			cancelled++
		}
	}
	if cancelled != 2 {
		t.Fatalf("cancelled events = %d, want 2", cancelled)
	}
}

func TestReplaceIsAllOrNothing(t *testing.T) {
	t.Parallel()
	clk := fakeNow()
	s := New(Config{}, newFakeExec(), clk, logx.Nop(), nil)
	now := clk.Now()

	_, _ = s.ScheduleRepeating(Spec{ID: "w1", Role: RoleDaily, At: now.Add(time.Hour), Every: 24 * time.Hour, Run: noop})

	_, err := s.Replace("w1", []Spec{
		{ID: "w1", Role: RoleDaily, At: now.Add(2 * time.Hour), Every: 24 * time.Hour, Run: noop},
		{ID: "w1", Role: RoleEnd, At: now.Add(3 * time.Hour)},
	})
	if !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("Replace(no callback) = %v, want ErrInvalidSpec", err)
	}
	if ts := s.TriggersFor("w1"); len(ts) != 1 || !ts[0].First.Equal(now.Add(time.Hour)) {
		t.Fatalf("failed Replace changed triggers: %+v", ts)
	}

	if _, err := s.Replace("w1", []Spec{{ID: "other", Role: RoleDaily, At: now.Add(time.Hour), Every: time.Hour, Run: noop}}); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("Replace(foreign id) = %v, want ErrInvalidSpec", err)
	}

	tags, err := s.Replace("w1", []Spec{{ID: "w1", Role: RoleDaily, At: now.Add(3 * time.Hour), Every: 24 * time.Hour, Run: noop}})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if len(tags) != 1 || tags[0] != "w1:daily" {
		t.Fatalf("tags = %v", tags)
	}
	ts := s.TriggersFor("w1")
	if len(ts) != 1 || !ts[0].First.Equal(now.Add(3*time.Hour)) {
		t.Fatalf("TriggersFor = %+v", ts)
	}

	if _, err := s.Replace("w1", nil); err != nil {
		t.Fatalf("Replace(nil): %v", err)
	}
	if got := s.Count("w1"); got != 0 {
		t.Fatalf("Count after empty Replace = %d, want 0", got)
	}
}

func TestReplaceSettlesPassedInstants(t *testing.T) {
	t.Parallel()
	clk := fakeNow()
	s := New(Config{}, newFakeExec(), clk, logx.Nop(), nil)
	now := clk.Now()

	// Planned a moment ago: the start has just passed, repeat and end have not.
	tags, err := s.Replace("r1", []Spec{
		{ID: "r1", Role: RoleStart, At: now.Add(-time.Millisecond), Run: noop},
		{ID: "r1", Role: RoleRepeat, At: now.Add(-time.Millisecond), Every: 24 * time.Hour, Run: noop},
		{ID: "r1", Role: RoleEnd, At: now.Add(72 * time.Hour), CancelOnFire: []Role{RoleRepeat}, Run: noop},
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if len(tags) != 2 || tags[0] != "r1:repeat" || tags[1] != "r1:end" {
		t.Fatalf("tags = %v, want [r1:repeat r1:end]", tags)
	}
	for _, tr := range s.TriggersFor("r1") {
		if tr.Role != RoleRepeat {
			continue
		}
		if want := now.Add(24*time.Hour - time.Millisecond); !tr.First.Equal(want) {
			t.Fatalf("repeat First = %v, want %v", tr.First, want)
		}
	}

	// An end that passed takes the repeat it would cancel with it.
	tags, err = s.Replace("r1", []Spec{
		{ID: "r1", Role: RoleRepeat, At: now.Add(time.Hour), Every: time.Hour, Run: noop},
		{ID: "r1", Role: RoleEnd, At: now, CancelOnFire: []Role{RoleRepeat}, Run: noop},
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if len(tags) != 0 || s.Count("r1") != 0 {
		t.Fatalf("tags = %v, live = %d, want none", tags, s.Count("r1"))
	}
}

func TestTriggerViewNextAndPrev(t *testing.T) {
	t.Parallel()
	clk := fakeNow()
	s := New(Config{}, newFakeExec(), clk, logx.Nop(), nil)
	first := clk.Now().Add(time.Hour)
	_, _ = s.ScheduleRepeating(Spec{ID: "r", Role: RoleRepeat, At: first, Every: 6 * time.Hour, Run: noop})

	clk.Add(14 * time.Hour) // first + 13h
	ts := s.Triggers()
	if len(ts) != 1 {
		t.Fatalf("Triggers = %d", len(ts))
	}
	if want := first.Add(18 * time.Hour); !ts[0].Next.Equal(want) {
		t.Fatalf("Next = %v, want %v", ts[0].Next, want)
	}
	if want := first.Add(12 * time.Hour); !ts[0].Prev.Equal(want) {
		t.Fatalf("Prev = %v, want %v", ts[0].Prev, want)
	}
}

func TestAnchoredSchedule(t *testing.T) {
	t.Parallel()
	first := time.Date(2025, 1, 1, 7, 0, 0, 0, time.UTC)
	s := anchoredSchedule{first: first, every: 24 * time.Hour}
	tests := []struct {
		at   time.Time
		want time.Time
	}{
		{first.Add(-time.Hour), first},
		{first, first.Add(24 * time.Hour)},
		{first.Add(time.Second), first.Add(24 * time.Hour)},
		{first.Add(49 * time.Hour), first.Add(72 * time.Hour)},
	}
	for _, tt := range tests {
		if got := s.Next(tt.at); !got.Equal(tt.want) {
			t.Fatalf("Next(%v) = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestOneShotFiresOnceAndLeavesIndex(t *testing.T) {
	t.Parallel()
	exec := newFakeExec()
	s := New(Config{TriggerTimeout: 5 * time.Second}, exec, clock.New(), logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if _, err := s.ScheduleOnce(Spec{ID: "r1", Role: RoleStart, At: time.Now().Add(30 * time.Millisecond), Run: noop}); err != nil {
		t.Fatalf("ScheduleOnce: %v", err)
	}
	task := exec.next(t)
	if task.Name != "r1:start" || task.Timeout != 5*time.Second {
		t.Fatalf("task = %+v", task)
	}
	if got := s.Count("r1"); got != 0 {
		t.Fatalf("Count after fire = %d, want 0", got)
	}
	exec.none(t, 80*time.Millisecond)
}

func TestCancelledOneShotNeverFires(t *testing.T) {
	t.Parallel()
	exec := newFakeExec()
	s := New(Config{}, exec, clock.New(), logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_, _ = s.ScheduleOnce(Spec{ID: "r1", Role: RoleStart, At: time.Now().Add(40 * time.Millisecond), Run: noop})
	s.Cancel("r1")
	exec.none(t, 120*time.Millisecond)
}

func TestEndTriggerCancelsRepeat(t *testing.T) {
	t.Parallel()
	exec := newFakeExec()
	s := New(Config{}, exec, clock.New(), logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	now := time.Now()
	_, _ = s.ScheduleRepeating(Spec{ID: "r1", Role: RoleRepeat, At: now.Add(time.Hour), Every: time.Hour, Run: noop})
	_, _ = s.ScheduleOnce(Spec{ID: "r1", Role: RoleEnd, At: now.Add(30 * time.Millisecond), CancelOnFire: []Role{RoleRepeat}, Run: noop})

	if task := exec.next(t); task.Name != "r1:end" {
		t.Fatalf("task = %q, want r1:end", task.Name)
	}
	if got := s.Count("r1"); got != 0 {
		t.Fatalf("Count after end = %d, want 0", got)
	}
}

func TestRepeatingFiresOnAnchor(t *testing.T) {
	t.Parallel()
	exec := newFakeExec()
	s := New(Config{}, exec, clock.New(), logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_, _ = s.ScheduleRepeating(Spec{ID: "r1", Role: RoleRepeat, At: time.Now().Add(30 * time.Millisecond), Every: 40 * time.Millisecond, Run: noop})
	for i := 0; i < 2; i++ {
		task := exec.next(t)
		if task.Name != "r1:repeat" || task.State == nil || !task.SkipIfRunning {
			t.Fatalf("task = %+v", task)
		}
	}
	if got := s.Count("r1"); got != 1 {
		t.Fatalf("Count = %d, want 1", got)
	}
	s.Cancel("r1")
	// drain anything already in flight, then expect silence
	time.Sleep(10 * time.Millisecond)
	for len(exec.tasks) > 0 {
		<-exec.tasks
	}
	exec.none(t, 120*time.Millisecond)
}

func TestOneShotFollowsInjectedClock(t *testing.T) {
	t.Parallel()
	exec := newFakeExec()
	clk := fakeNow()
	s := New(Config{}, exec, clk, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_, _ = s.ScheduleOnce(Spec{ID: "r1", Role: RoleStart, At: clk.Now().Add(time.Hour), Run: noop})
	_, _ = s.ScheduleOnce(Spec{ID: "r2", Role: RoleStart, At: clk.Now().Add(time.Hour), Run: noop})
	s.Cancel("r2")
	exec.none(t, 50*time.Millisecond)

	clk.Add(time.Hour)
	if task := exec.next(t); task.Name != "r1:start" {
		t.Fatalf("task = %q, want r1:start", task.Name)
	}
	exec.none(t, 50*time.Millisecond)
}

func TestStartStopsWithContext(t *testing.T) {
	t.Parallel()
	exec := newFakeExec()
	clk := fakeNow()
	s := New(Config{}, exec, clk, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	_, _ = s.ScheduleOnce(Spec{ID: "r1", Role: RoleStart, At: clk.Now().Add(time.Minute), Run: noop})

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for s.Snapshot().Running {
		if time.Now().After(deadline) {
			t.Fatal("scheduler still running after ctx was cancelled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	clk.Add(time.Minute)
	exec.none(t, 50*time.Millisecond)
	if got := s.Count("r1"); got != 1 {
		t.Fatalf("Count = %d, want registration kept", got)
	}
}

func TestPendingTriggersArmOnStart(t *testing.T) {
	t.Parallel()
	exec := newFakeExec()
	s := New(Config{}, exec, clock.New(), logx.Nop(), nil)
	_, _ = s.ScheduleOnce(Spec{ID: "r1", Role: RoleStart, At: time.Now().Add(20 * time.Millisecond), Run: noop})

	exec.none(t, 60*time.Millisecond)
	s.Start(context.Background())
	defer s.Stop(context.Background())
	if task := exec.next(t); task.Name != "r1:start" {
		t.Fatalf("task = %q", task.Name)
	}
}
