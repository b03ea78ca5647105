// Package tzoffset handles fixed "UTC±N" offsets and the local/absolute time
// values stored in reminder documents.
package tzoffset

import (
	"strconv"
	"strings"
	"time"
)

// Offset is a fixed UTC offset in whole hours.
type Offset int

// ParseOffset reads a "UTC+N" / "UTC-N" token.
//
// Malformed tokens yield 0 (UTC). It never fails.
func ParseOffset(token string) Offset {
	token = strings.TrimSpace(token)
	if len(token) < 5 || !strings.HasPrefix(token, "UTC") {
		return 0
	}
	sign := 1
	switch token[3] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0
	}
	n, err := strconv.Atoi(token[4:])
	if err != nil || n < 0 {
		return 0
	}
	return Offset(sign * n)
}

// ValidOffset reports whether token has the exact "UTC[+-]N" shape.
// Used by input validation; ParseOffset stays lenient.
func ValidOffset(token string) bool {
	token = strings.TrimSpace(token)
	if len(token) < 5 || !strings.HasPrefix(token, "UTC") {
		return false
	}
	if token[3] != '+' && token[3] != '-' {
		return false
	}
	n, err := strconv.Atoi(token[4:])
	return err == nil && n >= 0
}

func (o Offset) Hours() int { return int(o) }

func (o Offset) Duration() time.Duration { return time.Duration(o) * time.Hour }

// Location returns a fixed zone named like the token.
func (o Offset) Location() *time.Location {
	return time.FixedZone(o.String(), int(o)*3600)
}

func (o Offset) String() string {
	if o < 0 {
		return "UTC-" + strconv.Itoa(-int(o))
	}
	return "UTC+" + strconv.Itoa(int(o))
}
