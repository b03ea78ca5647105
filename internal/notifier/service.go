package notifier

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const recentSize = 300

// Service queues notifications and delivers them from a small worker pool.
// It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus
	clk    clock.Clock
	store  storage.DedupStore
	dedup  *suppressor

	accepting bool
	inflight  sync.WaitGroup // Notify calls past the accepting check
	queue     chan kit.Notification
	sup       *rtsup.Supervisor
	stopDone  chan struct{} // non-nil while stopping

	rmu    sync.Mutex
	recent []Delivery
}

// New creates the service. store may be nil; it is only used with PersistDedup.
func New(cfg Config, sender Sender, clk clock.Clock, log logx.Logger, bus eventbus.Bus, store storage.DedupStore) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.New()
	}
	log = log.With(logx.String("comp", "notifier"))
	s := &Service{
		sender: sender,
		log:    log,
		bus:    bus,
		clk:    clk,
		store:  store,
		dedup:  newSuppressor(clk, log),
	}
	s.Apply(cfg)
	return s
}

// Supervisor returns the worker supervisor, or nil when not started.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Worker and queue sizes take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Start launches the workers. It is a no-op when disabled or already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	q := make(chan kit.Notification, cfg.QueueSize)
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.queue, s.sup, s.accepting = q, sup, true
	st := s.store
	var writes chan dedupWrite
	if cfg.PersistDedup && st != nil {
		writes = s.dedup.persist(st)
	}
	s.mu.Unlock()

	if writes != nil {
		s.goLoop(sup, "dedup.persist", func(c context.Context) { s.dedup.persistLoop(c, writes, st) })
	}
	for i := 0; i < cfg.Workers; i++ {
		s.goLoop(sup, "worker."+strconv.Itoa(i), func(c context.Context) { s.work(c, q) })
	}
	s.log.Info("notifier started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize), logx.Bool("persist_dedup", writes != nil))
}

// goLoop runs fn under sup. A return outside shutdown is a failure and is
// restarted.
func (s *Service) goLoop(sup *rtsup.Supervisor, name string, fn func(context.Context)) {
	sup.GoRestart(name, func(c context.Context) error {
		fn(c)
		s.mu.Lock()
		stopping := s.stopDone != nil
		s.mu.Unlock()
		switch {
		case stopping:
			return context.Canceled
		case c.Err() != nil:
			return c.Err()
		}
		return errors.New("notifier " + name + " exited unexpectedly")
	}, rtsup.WithPublishFirstError(true))
}

// Stop refuses new notifications and drains the queue until ctx ends, after
// which the workers are cancelled and what is left is dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.inflight.Wait()
		close(q)
		if w := s.dedup.detach(); w != nil {
			close(w)
		}
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue, s.sup, s.stopDone = nil, nil, nil
		s.mu.Unlock()
		s.log.Info("notifier stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Notify queues n. A duplicate inside the dedup window is accepted and
// dropped. ErrQueueFull means the caller may retry later.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting {
		s.mu.Unlock()
		return ErrStopped
	}
	q, cfg := s.queue, s.cfg
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if cfg.DedupWindow > 0 {
		if key := dedupKey(n); key != "" && !s.dedup.allow(ctx, key, cfg.DedupWindow, cfg.DedupMaxEntries) {
			s.publish(eventbus.NotifierDeduped, n, nil)
			return nil
		}
	}

	select {
	case q <- n:
		s.publish(eventbus.NotifierQueued, n, nil)
		return nil
	default:
		s.publish(eventbus.NotifierDropped, n, ErrQueueFull)
		return ErrQueueFull
	}
}

// Recent returns the latest deliveries, oldest first.
func (s *Service) Recent() []Delivery {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	return append([]Delivery(nil), s.recent...)
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	st := Stats{Enabled: s.cfg.Enabled, Running: s.accepting}
	if s.queue != nil {
		st.QueueLen, st.QueueCap = len(s.queue), cap(s.queue)
	}
	s.mu.Unlock()
	st.Dedup = s.dedup.len()
	s.rmu.Lock()
	st.History = len(s.recent)
	s.rmu.Unlock()
	return st
}

func (s *Service) publish(typ string, n kit.Notification, err error) {
	if s.bus == nil {
		return
	}
	now := s.clk.Now()
	ev := NotificationEvent{ChatID: n.Target.ChatID, Source: n.Source, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func (s *Service) work(ctx context.Context, q <-chan kit.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, n)
		}
	}
}

// deliver sends n, retrying transient failures with jittered backoff. A flood
// wait from Telegram stretches the backoff to what it asked for.
func (s *Service) deliver(ctx context.Context, n kit.Notification) {
	if n.Text == "" || s.sender == nil {
		return
	}
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	log := s.log.With(logx.ChatID(n.Target.ChatID), logx.Tag(n.Source))
	attempts := 1 + cfg.RetryMax
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lim.Wait(ctx) != nil {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err = s.sender.SendText(cctx, n.Target, n.Text, n.Options)
		cancel()
		if err == nil {
			s.remember(n)
			s.publish(eventbus.NotifierSent, n, nil)
			return
		}
		log.Debug("send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if errors.Is(err, kit.ErrPermanent) || attempt == attempts {
			break
		}
		delay := retryDelay(cfg, attempt)
		if after, ok := kit.RetryAfter(err); ok {
			delay = max(delay, after)
		}
		t := s.clk.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	log.Warn("notification dropped", logx.Err(err), logx.Int("attempts", attempts))
	s.publish(eventbus.NotifierFailed, n, err)
}

func (s *Service) remember(n kit.Notification) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	s.recent = append(s.recent, Delivery{At: s.clk.Now(), ChatID: n.Target.ChatID, Source: n.Source, Text: n.Text})
	if len(s.recent) > recentSize {
		s.recent = s.recent[len(s.recent)-recentSize:]
	}
}

// retryDelay is the wait after the given failed attempt: RetryBase doubled
// per attempt, capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, cfg.RetryMaxDelay)
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
