package scheduler

import "time"

// anchoredSchedule fires at first, first+every, first+2*every, ...
// The phase is fixed by first, independent of when cron was started.
type anchoredSchedule struct {
	first time.Time
	every time.Duration
}

func (s anchoredSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	if s.every <= 0 {
		return time.Time{}
	}
	k := t.Sub(s.first)/s.every + 1
	return s.first.Add(k * s.every)
}
