package reminder

import (
	"context"
	"fmt"
	"time"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

// Document kinds and results reported by Reprogram.
const (
	DocReminder     = "reminder"
	DocSubscription = "subscription"

	ResultArmed   = "armed"   // at least one trigger is live
	ResultIdle    = "idle"    // valid, but every instant is past
	ResultInvalid = "invalid" // failed to decode
	ResultFailed  = "failed"  // scheduling failed
)

// ReprogramEvent is the payload of eventbus.ReprogramDocument.
type ReprogramEvent struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	Result   string `json:"result"`
	Triggers int    `json:"triggers"`
	Error    string `json:"error,omitempty"`
}

type ReprogramCounts struct {
	Scanned int
	Armed   int
	Idle    int
	Invalid int
	Failed  int
}

type ReprogramFailure struct {
	Kind string
	ID   string
	Err  error
}

type ReprogramReport struct {
	Reminders     ReprogramCounts
	Subscriptions ReprogramCounts
	Triggers      int
	Failures      []ReprogramFailure
	Took          time.Duration
}

// Reprogram rebuilds the triggers of every stored reminder and subscription.
//
// Each document is handled on its own: a bad document is logged, counted and
// skipped. Only a failure to list a whole collection, or ctx ending, is
// returned; the report then covers what was processed.
func (s *Service) Reprogram(ctx context.Context) (rep ReprogramReport, err error) {
	start := s.clk.Now()
	defer func() { rep.Took = s.clk.Since(start) }()

	reminders, err := s.store.ListReminders(ctx)
	if err != nil {
		return rep, fmt.Errorf("reprogram: list reminders: %w", err)
	}
	for _, rec := range reminders {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Reminders.Scanned++
		r, err := DecodeReminder(rec)
		if err != nil {
			s.recordFailure(&rep, &rep.Reminders, DocReminder, rec.ID, ResultInvalid, err)
			continue
		}
		tags, err := s.armReminder(r)
		if err != nil {
			s.recordFailure(&rep, &rep.Reminders, DocReminder, rec.ID, ResultFailed, err)
			continue
		}
		s.recordArmed(&rep, &rep.Reminders, DocReminder, r.ID, len(tags))
	}

	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return rep, fmt.Errorf("reprogram: list subscriptions: %w", err)
	}
	for _, rec := range subs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Subscriptions.Scanned++
		sub, err := DecodeSubscription(rec)
		if err != nil {
			s.recordFailure(&rep, &rep.Subscriptions, DocSubscription, rec.ID, ResultInvalid, err)
			continue
		}
		tags, err := s.armSubscription(sub)
		if err != nil {
			s.recordFailure(&rep, &rep.Subscriptions, DocSubscription, rec.ID, ResultFailed, err)
			continue
		}
		s.recordArmed(&rep, &rep.Subscriptions, DocSubscription, sub.ID, len(tags))
	}

	s.log.Info("reprogram done",
		logx.Int("reminders", rep.Reminders.Scanned),
		logx.Int("subscriptions", rep.Subscriptions.Scanned),
		logx.Int("triggers", rep.Triggers),
		logx.Int("failures", len(rep.Failures)),
	)
	return rep, nil
}

func (s *Service) recordArmed(rep *ReprogramReport, c *ReprogramCounts, kind, id string, n int) {
	result := ResultArmed
	if n == 0 {
		result = ResultIdle
		c.Idle++
	} else {
		c.Armed++
	}
	rep.Triggers += n
	s.publish(ReprogramEvent{Kind: kind, ID: id, Result: result, Triggers: n})
}

func (s *Service) recordFailure(rep *ReprogramReport, c *ReprogramCounts, kind, id, result string, err error) {
	if result == ResultInvalid {
		c.Invalid++
	} else {
		c.Failed++
	}
	rep.Failures = append(rep.Failures, ReprogramFailure{Kind: kind, ID: id, Err: err})
	s.log.Warn("reprogram skipped document", logx.String("kind", kind), logx.String("id", id), logx.Err(err))
	s.publish(ReprogramEvent{Kind: kind, ID: id, Result: result, Error: err.Error()})
}

func (s *Service) publish(ev ReprogramEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.ReprogramDocument, Time: s.clk.Now(), Data: ev})
}
