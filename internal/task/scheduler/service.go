package scheduler

import (
	"context"
	"time"

	"github.com/jmhodges/clock"
	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

func New(cfg Config, exec Executor, clk clock.Clock, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		cfg:         cfg,
		log:         log,
		bus:         bus,
		exec:        exec,
		clk:         clk,
		index:       map[string]map[Role]*trigger{},
		lastEnqWarn: map[string]time.Time{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates the config. Live triggers keep their timeout until re-armed.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Start starts cron and arms every registered trigger. Triggers registered
// before Start are held and armed here; a one-shot whose instant passed in the
// meantime fires immediately. Cancelling ctx stops the service like Stop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || ctx.Err() != nil {
		return
	}
	s.c = cron.New(cron.WithLocation(time.UTC))
	n := 0
	for _, roles := range s.index {
		for _, t := range roles {
			s.armLocked(t)
			n++
		}
	}
	s.c.Start()
	s.unbind = context.AfterFunc(ctx, func() { s.Stop(context.Background()) })
	s.log.Info("service started", logx.Int("triggers", n))
}

// Stop halts cron and all timers. Registrations are kept so a later Start
// re-arms them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	if s.unbind != nil {
		s.unbind()
		s.unbind = nil
	}
	for _, roles := range s.index {
		for _, t := range roles {
			s.disarmLocked(t)
		}
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	s.log.Info("stop requested")
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) publish(typ string, t *trigger, at time.Time) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clk.Now(), Data: TriggerEvent{
		Tag:       t.spec.Tag(),
		ID:        t.spec.ID,
		Role:      t.spec.Role,
		Recipient: t.spec.Recipient,
		At:        at,
	}})
}
