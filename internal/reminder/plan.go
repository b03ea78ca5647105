package reminder

import (
	"time"

	"remindbot/internal/task/scheduler"
	"remindbot/internal/tzoffset"
)

// Arm is one trigger the planner wants live.
type Arm struct {
	Role         scheduler.Role
	At           time.Time
	Every        time.Duration
	CancelOnFire []scheduler.Role
}

// PlanReminder derives the triggers of r relative to now. Instants that are
// not strictly after now produce no arm.
//
// The repeat trigger is anchored at start: it fires at start+k*interval for
// k >= 1, never at start itself. When now is past start+interval the repeat
// resumes at the next anchored instant, keeping its phase. A repeat whose next
// instant is not before a set end is not armed: the end has fired, or will
// fire first and cancel it.
func PlanReminder(r Reminder, now time.Time) []Arm {
	start, ok := tzoffset.ToUTC(r.Start)
	if !ok {
		return nil
	}
	end, hasEnd := tzoffset.ToUTC(r.End)

	var arms []Arm
	if start.After(now) {
		arms = append(arms, Arm{Role: scheduler.RoleStart, At: start})
	}
	if every := r.Recurrence.Interval(); every > 0 {
		next := nextRepeat(start, every, now)
		if !hasEnd || next.Before(end) {
			arms = append(arms, Arm{Role: scheduler.RoleRepeat, At: next, Every: every})
		}
	}
	if hasEnd && end.After(now) {
		arms = append(arms, Arm{
			Role:         scheduler.RoleEnd,
			At:           end,
			CancelOnFire: []scheduler.Role{scheduler.RoleRepeat},
		})
	}
	return arms
}

// nextRepeat returns the first start+k*every, k >= 1, strictly after now.
func nextRepeat(start time.Time, every time.Duration, now time.Time) time.Time {
	first := start.Add(every)
	if first.After(now) {
		return first
	}
	k := now.Sub(first)/every + 1
	return first.Add(k * every)
}

// PlanSubscription returns the single daily weather trigger of s.
func PlanSubscription(s Subscription, now time.Time) []Arm {
	return []Arm{{
		Role:  scheduler.RoleDaily,
		At:    s.At.NextAfter(now),
		Every: 24 * time.Hour,
	}}
}
