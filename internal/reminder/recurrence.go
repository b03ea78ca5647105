package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownRecurrence = errors.New("reminder: unknown recurrence")

// Kind is the recurrence of a reminder.
type Kind int

const (
	KindNone Kind = iota
	KindDaily
	KindWeekly
	KindEveryNDays
	KindEveryNHours
)

// ParseKind accepts the canonical tags and their Spanish aliases.
// An empty tag means KindNone.
func ParseKind(tag string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "", "none", "ninguna":
		return KindNone, nil
	case "daily", "diaria":
		return KindDaily, nil
	case "weekly", "semanal":
		return KindWeekly, nil
	case "every_n_days", "cada_x_dias":
		return KindEveryNDays, nil
	case "every_n_hours", "cada_x_horas":
		return KindEveryNHours, nil
	default:
		return KindNone, fmt.Errorf("%w: %q", ErrUnknownRecurrence, tag)
	}
}

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindDaily:
		return "daily"
	case KindWeekly:
		return "weekly"
	case KindEveryNDays:
		return "every_n_days"
	case KindEveryNHours:
		return "every_n_hours"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Label is the Spanish name shown to users.
func (k Kind) Label() string {
	switch k {
	case KindNone:
		return "ninguna"
	case KindDaily:
		return "diaria"
	case KindWeekly:
		return "semanal"
	case KindEveryNDays:
		return "cada_x_dias"
	case KindEveryNHours:
		return "cada_x_horas"
	default:
		return k.String()
	}
}

// NeedsN reports whether the kind takes a multiplier.
func (k Kind) NeedsN() bool { return k == KindEveryNDays || k == KindEveryNHours }

type Recurrence struct {
	Kind Kind
	N    int
}

func (r Recurrence) Validate() error {
	switch r.Kind {
	case KindNone, KindDaily, KindWeekly:
		return nil
	case KindEveryNDays, KindEveryNHours:
		if r.N < 1 {
			return fmt.Errorf("%s needs N >= 1, got %d", r.Kind, r.N)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownRecurrence, r.Kind)
	}
}

// Interval returns the repeat period, or 0 for KindNone and invalid values.
func (r Recurrence) Interval() time.Duration {
	switch r.Kind {
	case KindDaily:
		return 24 * time.Hour
	case KindWeekly:
		return 7 * 24 * time.Hour
	case KindEveryNDays:
		if r.N < 1 {
			return 0
		}
		return time.Duration(r.N) * 24 * time.Hour
	case KindEveryNHours:
		if r.N < 1 {
			return 0
		}
		return time.Duration(r.N) * time.Hour
	default:
		return 0
	}
}

func (r Recurrence) String() string {
	if r.Kind.NeedsN() {
		return fmt.Sprintf("%s (%d)", r.Kind.Label(), r.N)
	}
	return r.Kind.Label()
}
