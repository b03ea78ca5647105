package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

// ScheduleOnce registers a one-shot trigger and returns its tag. An existing
// trigger with the same tag is replaced.
func (s *Service) ScheduleOnce(spec Spec) (string, error) {
	if spec.Every != 0 {
		return "", fmt.Errorf("%w: one-shot %s has an interval", ErrInvalidSpec, spec.Tag())
	}
	return s.schedule(spec)
}

// ScheduleRepeating registers a trigger firing at spec.At and every spec.Every
// after it, and returns its tag.
func (s *Service) ScheduleRepeating(spec Spec) (string, error) {
	if spec.Every <= 0 {
		return "", fmt.Errorf("%w: repeating %s needs a positive interval", ErrInvalidSpec, spec.Tag())
	}
	return s.schedule(spec)
}

func (s *Service) schedule(spec Spec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateLocked(spec); err != nil {
		return "", err
	}
	if !spec.At.After(s.clk.Now()) {
		return "", fmt.Errorf("%w: %s at %s", ErrPastInstant, spec.Tag(), spec.At.UTC().Format(time.RFC3339))
	}
	s.removeLocked(spec.ID, spec.Role)
	s.addLocked(spec)
	return spec.Tag(), nil
}

// Replace swaps every trigger of id for specs in one critical section and
// returns the tags it armed. A malformed spec leaves everything unchanged;
// an empty specs cancels id.
//
// Specs are usually planned a moment before Replace runs, so instants that
// passed in between are settled here instead of failing the batch: a one-shot
// is dropped together with the roles it would cancel on fire, and a repeating
// trigger moves to its next anchored instant.
func (s *Service) Replace(id string, specs []Spec) ([]string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidSpec)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[Role]bool{}
	for _, sp := range specs {
		if sp.ID != id {
			return nil, fmt.Errorf("%w: spec %s does not belong to %s", ErrInvalidSpec, sp.Tag(), id)
		}
		if seen[sp.Role] {
			return nil, fmt.Errorf("%w: duplicate role %s", ErrInvalidSpec, sp.Role)
		}
		seen[sp.Role] = true
		if err := s.validateLocked(sp); err != nil {
			return nil, err
		}
	}

	now := s.clk.Now()
	dropped := map[Role]bool{}
	live := make([]Spec, 0, len(specs))
	for _, sp := range specs {
		if sp.At.After(now) {
			live = append(live, sp)
			continue
		}
		if sp.Every > 0 {
			sp.At = anchoredSchedule{first: sp.At, every: sp.Every}.Next(now)
			live = append(live, sp)
			continue
		}
		s.log.Debug("one-shot passed before arming", logx.Tag(sp.Tag()))
		for _, r := range sp.CancelOnFire {
			dropped[r] = true
		}
	}

	for role := range s.index[id] {
		s.removeLocked(id, role)
	}
	tags := make([]string, 0, len(live))
	for _, sp := range live {
		if dropped[sp.Role] {
			continue
		}
		s.addLocked(sp)
		tags = append(tags, sp.Tag())
	}
	return tags, nil
}

// Cancel removes every trigger of id and returns how many were live.
// Unknown ids are a no-op.
func (s *Service) Cancel(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for role := range s.index[id] {
		if s.removeLocked(id, role) {
			n++
		}
	}
	if n > 0 {
		s.log.Debug("triggers cancelled", logx.String("id", id), logx.Int("n", n))
	}
	return n
}

// CancelRole removes a single trigger.
func (s *Service) CancelRole(id string, role Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id, role)
}

// Count returns the number of live triggers for id.
func (s *Service) Count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index[id])
}

// Live returns the number of live triggers.
func (s *Service) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, roles := range s.index {
		n += len(roles)
	}
	return n
}

// Triggers lists live triggers sorted by tag.
func (s *Service) Triggers() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trigger, 0, len(s.index))
	for _, roles := range s.index {
		for _, t := range roles {
			out = append(out, s.viewLocked(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// TriggersFor lists the live triggers of id.
func (s *Service) TriggersFor(id string) []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trigger, 0, len(s.index[id]))
	for _, t := range s.index[id] {
		out = append(out, s.viewLocked(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

func (s *Service) validateLocked(spec Spec) error {
	if strings.TrimSpace(spec.ID) == "" || spec.Role == "" {
		return fmt.Errorf("%w: id and role required", ErrInvalidSpec)
	}
	if spec.Run == nil {
		return fmt.Errorf("%w: %s has no callback", ErrInvalidSpec, spec.Tag())
	}
	if spec.At.IsZero() || spec.Every < 0 {
		return fmt.Errorf("%w: %s has no fire instant", ErrInvalidSpec, spec.Tag())
	}
	return nil
}

func (s *Service) addLocked(spec Spec) {
	s.seq++
	t := &trigger{spec: spec, ver: s.seq}
	if spec.Every > 0 {
		t.state = &engine.RunState{}
	}
	roles := s.index[spec.ID]
	if roles == nil {
		roles = map[Role]*trigger{}
		s.index[spec.ID] = roles
	}
	roles[spec.Role] = t
	if s.c != nil {
		s.armLocked(t)
	}
	s.publish(eventbus.TriggerArmed, t, spec.At)
	s.log.Debug("trigger armed",
		logx.Tag(spec.Tag()),
		logx.Time("at", spec.At.UTC()),
		logx.Duration("every", spec.Every),
	)
}

// removeLocked stops and forgets one trigger. Returns false if it was not live.
func (s *Service) removeLocked(id string, role Role) bool {
	roles := s.index[id]
	t := roles[role]
	if t == nil {
		return false
	}
	s.disarmLocked(t)
	delete(roles, role)
	if len(roles) == 0 {
		delete(s.index, id)
	}
	s.publish(eventbus.TriggerCancelled, t, t.spec.At)
	return true
}

func (s *Service) armLocked(t *trigger) {
	s.seq++
	t.ver = s.seq
	id, role, ver := t.spec.ID, t.spec.Role, t.ver
	if t.spec.Every > 0 {
		sched := anchoredSchedule{first: t.spec.At.UTC(), every: t.spec.Every}
		t.entryID = s.c.Schedule(sched, cron.FuncJob(func() { s.fire(id, role, ver) }))
		return
	}
	delay := t.spec.At.Sub(s.clk.Now())
	if delay <= 0 {
		go s.fire(id, role, ver)
		return
	}
	// One-shots wait on the injected clock, so a fake clock drives them.
	tm := s.clk.NewTimer(delay)
	stop := make(chan struct{})
	t.timer, t.stop = tm, stop
	go func() {
		select {
		case <-tm.C:
			s.fire(id, role, ver)
		case <-stop:
		}
	}()
}

func (s *Service) disarmLocked(t *trigger) {
	if t.timer != nil {
		t.timer.Stop()
		close(t.stop)
		t.timer, t.stop = nil, nil
	}
	if t.entryID != 0 && s.c != nil {
		s.c.Remove(t.entryID)
	}
	t.entryID = 0
}

// fire runs on a timer or cron goroutine. The version check drops callbacks
// of triggers that were cancelled, replaced or re-armed after the timer was
// set.
func (s *Service) fire(id string, role Role, ver uint64) {
	s.mu.Lock()
	t := s.index[id][role]
	if t == nil || t.ver != ver || s.c == nil {
		s.mu.Unlock()
		return
	}
	if t.spec.Every == 0 {
		// One-shots leave the index when they fire.
		t.timer, t.stop = nil, nil
		delete(s.index[id], role)
		if len(s.index[id]) == 0 {
			delete(s.index, id)
		}
	}
	for _, r := range t.spec.CancelOnFire {
		s.removeLocked(id, r)
	}
	timeout := t.spec.Timeout
	if timeout <= 0 {
		timeout = s.cfg.TriggerTimeout
	}
	spec := t.spec
	state := t.state
	s.mu.Unlock()

	s.publish(eventbus.TriggerFired, t, s.clk.Now())
	s.log.Debug("trigger fired", logx.Tag(spec.Tag()))

	if s.exec == nil {
		return
	}
	err := s.exec.Enqueue(engine.Task{
		Name:          spec.Tag(),
		Timeout:       timeout,
		Run:           spec.Run,
		SkipIfRunning: state != nil,
		State:         state,
	})
	if err != nil {
		s.reportEnqueueError(spec.Tag(), err)
	}
}

func (s *Service) viewLocked(t *trigger) Trigger {
	v := Trigger{
		Tag:       t.spec.Tag(),
		ID:        t.spec.ID,
		Role:      t.spec.Role,
		Recipient: t.spec.Recipient,
		First:     t.spec.At.UTC(),
		Every:     t.spec.Every,
		Next:      t.spec.At.UTC(),
	}
	if t.spec.Every > 0 {
		now := s.clk.Now()
		v.Next = anchoredSchedule{first: v.First, every: t.spec.Every}.Next(now)
		if now.After(v.First) {
			v.Prev = v.Next.Add(-t.spec.Every)
		}
	}
	return v
}
