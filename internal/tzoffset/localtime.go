package tzoffset

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LocalTime is a daily time of day in a fixed offset.
type LocalTime struct {
	Hour   int
	Minute int
	Offset Offset
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("tzoffset: invalid time %q (want HH:MM)", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("tzoffset: invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("tzoffset: invalid minute in %q", s)
	}
	return hour, minute, nil
}

func (lt LocalTime) Validate() error {
	if lt.Hour < 0 || lt.Hour > 23 {
		return fmt.Errorf("tzoffset: hour %d out of range", lt.Hour)
	}
	if lt.Minute < 0 || lt.Minute > 59 {
		return fmt.Errorf("tzoffset: minute %d out of range", lt.Minute)
	}
	return nil
}

// On returns the UTC instant of lt on the local calendar day containing now.
func (lt LocalTime) On(now time.Time) time.Time {
	local := now.In(lt.Offset.Location())
	t := time.Date(local.Year(), local.Month(), local.Day(), lt.Hour, lt.Minute, 0, 0, lt.Offset.Location())
	return t.UTC()
}

// NextAfter returns today's local occurrence in UTC, or tomorrow's when today's
// is not strictly after now.
func (lt LocalTime) NextAfter(now time.Time) time.Time {
	t := lt.On(now)
	if !t.After(now) {
		t = t.Add(24 * time.Hour)
	}
	return t
}

func (lt LocalTime) String() string {
	return fmt.Sprintf("%02d:%02d %s", lt.Hour, lt.Minute, lt.Offset)
}
