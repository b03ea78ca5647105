package tzoffset

import (
	"fmt"
	"strings"
	"time"
)

// Wall-clock layouts accepted for local date-times.
const (
	LayoutMinute = "2006-01-02 15:04"
	LayoutSecond = "2006-01-02 15:04:05"
)

// Moment is either a naive local date-time with an offset, or an absolute instant.
type Moment interface {
	ToUTC() time.Time
	isMoment()
}

// LocalDateTime is a wall-clock reading in a fixed offset.
// Wall's own location is ignored; only its calendar fields are used.
type LocalDateTime struct {
	Wall   time.Time
	Offset Offset
}

func (l LocalDateTime) ToUTC() time.Time {
	w := l.Wall
	t := time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), l.Offset.Location())
	return t.UTC()
}

func (LocalDateTime) isMoment() {}

// Instant is already absolute; converting it again is a no-op.
type Instant struct {
	At time.Time
}

func (i Instant) ToUTC() time.Time { return i.At.UTC() }

func (Instant) isMoment() {}

// ToUTC converts m. A nil moment reports false.
func ToUTC(m Moment) (time.Time, bool) {
	if m == nil {
		return time.Time{}, false
	}
	return m.ToUTC(), true
}

// ParseMoment decodes a stored time field.
//
// RFC 3339 values carry their own offset and become an Instant, so documents
// written by an earlier conversion are not shifted twice. Plain wall-clock
// values become a LocalDateTime in zone. Empty raw yields nil.
func ParseMoment(raw, zone string) (Moment, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return Instant{At: t}, nil
	}
	for _, layout := range []string{LayoutMinute, LayoutSecond} {
		if t, err := time.Parse(layout, raw); err == nil {
			return LocalDateTime{Wall: t, Offset: ParseOffset(zone)}, nil
		}
	}
	return nil, fmt.Errorf("tzoffset: unrecognized time %q", raw)
}

// FormatLocal renders m as a wall-clock string in off.
func FormatLocal(m Moment, off Offset) string {
	switch v := m.(type) {
	case LocalDateTime:
		return v.Wall.Format(LayoutMinute)
	case Instant:
		return v.At.In(off.Location()).Format(LayoutMinute)
	default:
		return ""
	}
}
