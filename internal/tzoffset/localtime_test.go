package tzoffset

import (
	"testing"
	"time"
)

func TestLocalTimeNextAfter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		lt   LocalTime
		now  time.Time
		want time.Time
	}{
		{
			name: "already passed today rolls to tomorrow",
			lt:   LocalTime{Hour: 8, Minute: 0, Offset: 1},
			now:  time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
			want: time.Date(2025, 1, 2, 7, 0, 0, 0, time.UTC),
		},
		{
			name: "later today",
			lt:   LocalTime{Hour: 20, Minute: 15, Offset: 1},
			now:  time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
			want: time.Date(2025, 1, 1, 19, 15, 0, 0, time.UTC),
		},
		{
			name: "exactly now is not in the future",
			lt:   LocalTime{Hour: 10, Minute: 0, Offset: 0},
			now:  time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
			want: time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "local day ahead of utc day",
			lt:   LocalTime{Hour: 7, Minute: 30, Offset: 11},
			now:  time.Date(2025, 1, 1, 15, 0, 0, 0, time.UTC), // 02:00 Jan 2 local
			want: time.Date(2025, 1, 1, 20, 30, 0, 0, time.UTC),
		},
		{
			name: "negative offset",
			lt:   LocalTime{Hour: 22, Minute: 0, Offset: -3},
			now:  time.Date(2025, 1, 2, 0, 30, 0, 0, time.UTC), // 21:30 Jan 1 local
			want: time.Date(2025, 1, 2, 1, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.lt.NextAfter(tt.now); !got.Equal(tt.want) {
				t.Fatalf("NextAfter = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()
	h, m, err := ParseClock("08:05")
	if err != nil || h != 8 || m != 5 {
		t.Fatalf("ParseClock = %d, %d, %v", h, m, err)
	}
	for _, bad := range []string{"24:00", "8", "08:60", "aa:bb", ""} {
		if _, _, err := ParseClock(bad); err == nil {
			t.Fatalf("ParseClock(%q) returned nil error", bad)
		}
	}
}
