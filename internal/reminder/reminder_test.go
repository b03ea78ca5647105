package reminder

import (
	"errors"
	"testing"
	"time"

	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/tzoffset"
)

func TestParseKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		tag  string
		want Kind
	}{
		{"", KindNone},
		{"ninguna", KindNone},
		{"none", KindNone},
		{"diaria", KindDaily},
		{"DAILY", KindDaily},
		{"semanal", KindWeekly},
		{"cada_x_dias", KindEveryNDays},
		{" cada_x_horas ", KindEveryNHours},
		{"every_n_hours", KindEveryNHours},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.tag)
		if err != nil {
			t.Fatalf("ParseKind(%q) error: %v", tt.tag, err)
		}
		if got != tt.want {
			t.Fatalf("ParseKind(%q) = %v, want %v", tt.tag, got, tt.want)
		}
	}
	for _, bad := range []string{"mensual", "cada_x_minutos", "1"} {
		if _, err := ParseKind(bad); !errors.Is(err, ErrUnknownRecurrence) {
			t.Fatalf("ParseKind(%q) err = %v, want ErrUnknownRecurrence", bad, err)
		}
	}
}

func TestRecurrenceInterval(t *testing.T) {
	t.Parallel()
	tests := []struct {
		r    Recurrence
		want time.Duration
	}{
		{Recurrence{Kind: KindNone}, 0},
		{Recurrence{Kind: KindDaily}, 86400 * time.Second},
		{Recurrence{Kind: KindWeekly}, 604800 * time.Second},
		{Recurrence{Kind: KindEveryNDays, N: 3}, 3 * 86400 * time.Second},
		{Recurrence{Kind: KindEveryNHours, N: 6}, 21600 * time.Second},
		{Recurrence{Kind: KindEveryNHours, N: 0}, 0},
	}
	for _, tt := range tests {
		if got := tt.r.Interval(); got != tt.want {
			t.Fatalf("%v.Interval() = %v, want %v", tt.r, got, tt.want)
		}
	}
	if err := (Recurrence{Kind: KindEveryNDays}).Validate(); err == nil {
		t.Fatal("every_n_days with N=0 should not validate")
	}
	if err := (Recurrence{Kind: Kind(42)}).Validate(); !errors.Is(err, ErrUnknownRecurrence) {
		t.Fatalf("Validate(kind 42) = %v, want ErrUnknownRecurrence", err)
	}
}

var now = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func local(s string, zone string) tzoffset.Moment {
	m, err := tzoffset.ParseMoment(s, zone)
	if err != nil {
		panic(err)
	}
	return m
}

func roles(arms []Arm) map[scheduler.Role]Arm {
	out := map[scheduler.Role]Arm{}
	for _, a := range arms {
		out[a.Role] = a
	}
	return out
}

func TestPlanReminder(t *testing.T) {
	t.Parallel()

	// 2025-01-02 10:00 at UTC+1 is 09:00Z.
	s := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)

	t.Run("daily repeat starts one interval after start", func(t *testing.T) {
		r := Reminder{Start: local("2025-01-02 10:00", "UTC+1"), Recurrence: Recurrence{Kind: KindDaily}}
		got := roles(PlanReminder(r, now))
		if !got[scheduler.RoleStart].At.Equal(s) {
			t.Fatalf("start = %v, want %v", got[scheduler.RoleStart].At, s)
		}
		rep := got[scheduler.RoleRepeat]
		if !rep.At.Equal(s.Add(24*time.Hour)) || rep.Every != 24*time.Hour {
			t.Fatalf("repeat = %+v, want first %v every 24h", rep, s.Add(24*time.Hour))
		}
	})

	t.Run("every six hours", func(t *testing.T) {
		r := Reminder{Start: local("2025-01-02 10:00", "UTC+1"), Recurrence: Recurrence{Kind: KindEveryNHours, N: 6}}
		rep, ok := roles(PlanReminder(r, now))[scheduler.RoleRepeat]
		if !ok {
			t.Fatal("no repeat arm")
		}
		if rep.Every != 21600*time.Second {
			t.Fatalf("every = %v, want 21600s", rep.Every)
		}
		if !rep.At.Equal(s.Add(6 * time.Hour)) {
			t.Fatalf("first = %v, want %v", rep.At, s.Add(6*time.Hour))
		}
	})

	t.Run("no recurrence has no repeat", func(t *testing.T) {
		r := Reminder{Start: local("2025-01-02 10:00", "UTC+1")}
		arms := PlanReminder(r, now)
		if len(arms) != 1 || arms[0].Role != scheduler.RoleStart {
			t.Fatalf("arms = %+v, want only start", arms)
		}
	})

	t.Run("end cancels repeat", func(t *testing.T) {
		r := Reminder{
			Start:      local("2025-01-02 10:00", "UTC+1"),
			End:        local("2025-01-10 10:00", "UTC+1"),
			Recurrence: Recurrence{Kind: KindDaily},
		}
		end := roles(PlanReminder(r, now))[scheduler.RoleEnd]
		if !end.At.Equal(time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)) {
			t.Fatalf("end = %v", end.At)
		}
		if len(end.CancelOnFire) != 1 || end.CancelOnFire[0] != scheduler.RoleRepeat {
			t.Fatalf("end.CancelOnFire = %v, want [repeat]", end.CancelOnFire)
		}
	})

	t.Run("past instants are never armed", func(t *testing.T) {
		r := Reminder{
			Start:      local("2024-12-31 08:00", "UTC+0"),
			End:        local("2025-01-01 08:00", "UTC+0"),
			Recurrence: Recurrence{Kind: KindDaily},
		}
		got := roles(PlanReminder(r, now))
		if _, ok := got[scheduler.RoleStart]; ok {
			t.Fatal("past start armed")
		}
		if _, ok := got[scheduler.RoleEnd]; ok {
			t.Fatal("past end armed")
		}
		// start+24h = 2025-01-01T08:00Z, also past.
		if _, ok := got[scheduler.RoleRepeat]; ok {
			t.Fatal("past repeat armed")
		}

		r.Recurrence = Recurrence{Kind: KindWeekly}
		r.End = nil
		got = roles(PlanReminder(r, now))
		if rep, ok := got[scheduler.RoleRepeat]; !ok || !rep.At.Equal(time.Date(2025, 1, 7, 8, 0, 0, 0, time.UTC)) {
			t.Fatalf("weekly repeat = %+v, want 2025-01-07T08:00Z", rep)
		}
		for _, a := range PlanReminder(r, now) {
			if !a.At.After(now) {
				t.Fatalf("arm %s at %v is not after now", a.Role, a.At)
			}
		}
	})

	t.Run("old daily reminder resumes on its phase", func(t *testing.T) {
		// Started exactly three days before now; S+3d equals now, so S+4d.
		r := Reminder{Start: local("2024-12-29 09:00", "UTC+0"), Recurrence: Recurrence{Kind: KindDaily}}
		arms := PlanReminder(r, now)
		if len(arms) != 1 || arms[0].Role != scheduler.RoleRepeat {
			t.Fatalf("arms = %+v, want only repeat", arms)
		}
		if want := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC); !arms[0].At.Equal(want) || arms[0].Every != 24*time.Hour {
			t.Fatalf("repeat = %+v, want %v every 24h", arms[0], want)
		}

		r = Reminder{Start: local("2024-12-31 10:30", "UTC+0"), Recurrence: Recurrence{Kind: KindEveryNHours, N: 6}}
		rep, ok := roles(PlanReminder(r, now))[scheduler.RoleRepeat]
		if !ok || !rep.At.Equal(time.Date(2025, 1, 1, 10, 30, 0, 0, time.UTC)) {
			t.Fatalf("6h repeat = %+v, want 2025-01-01T10:30Z", rep)
		}
	})

	t.Run("passed end keeps the repeat down", func(t *testing.T) {
		r := Reminder{
			Start:      local("2025-01-01 08:00", "UTC+0"),
			End:        local("2025-01-01 08:30", "UTC+0"),
			Recurrence: Recurrence{Kind: KindEveryNHours, N: 6},
		}
		if arms := PlanReminder(r, now); len(arms) != 0 {
			t.Fatalf("arms = %+v, want none after the end", arms)
		}
	})

	t.Run("end before the next repeat arms only the end", func(t *testing.T) {
		r := Reminder{
			Start:      local("2025-01-01 08:00", "UTC+0"),
			End:        local("2025-01-01 11:00", "UTC+0"),
			Recurrence: Recurrence{Kind: KindDaily},
		}
		arms := PlanReminder(r, now)
		if len(arms) != 1 || arms[0].Role != scheduler.RoleEnd {
			t.Fatalf("arms = %+v, want only end", arms)
		}
	})

	t.Run("absolute start is not shifted", func(t *testing.T) {
		r := Reminder{Start: tzoffset.Instant{At: s}, StartZone: tzoffset.ParseOffset("UTC+5")}
		if got := PlanReminder(r, now); len(got) != 1 || !got[0].At.Equal(s) {
			t.Fatalf("arms = %+v, want start at %v", got, s)
		}
	})
}

func TestPlanSubscriptionFirstFire(t *testing.T) {
	t.Parallel()
	sub := Subscription{At: tzoffset.LocalTime{Hour: 8, Minute: 0, Offset: tzoffset.ParseOffset("UTC+1")}}
	arms := PlanSubscription(sub, now)
	if len(arms) != 1 {
		t.Fatalf("len(arms) = %d, want 1", len(arms))
	}
	want := time.Date(2025, 1, 2, 7, 0, 0, 0, time.UTC)
	if arms[0].Role != scheduler.RoleDaily || !arms[0].At.Equal(want) || arms[0].Every != 24*time.Hour {
		t.Fatalf("arm = %+v, want daily at %v every 24h", arms[0], want)
	}

	sub.At.Hour = 11 // 10:00Z, still ahead today
	if got := PlanSubscription(sub, now)[0].At; !got.Equal(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("first fire = %v, want 2025-01-01T10:00Z", got)
	}
}

func TestDecodeReminder(t *testing.T) {
	t.Parallel()
	good := storage.ReminderRecord{
		ID:          "r1",
		OwnerID:     7,
		Title:       "Pastilla",
		Start:       "2025-01-02 10:00",
		StartZone:   "UTC+1",
		Recurrence:  "cada_x_horas",
		RecurrenceN: 6,
	}
	r, err := DecodeReminder(good)
	if err != nil {
		t.Fatalf("DecodeReminder: %v", err)
	}
	if r.Description != DefaultDescription || r.ChatID != 7 {
		t.Fatalf("defaults not applied: %+v", r)
	}
	if got := r.Start.ToUTC(); !got.Equal(time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %v", got)
	}

	// A start already stored as an instant is taken as-is.
	conv := good
	conv.Start = "2025-01-02T09:00:00Z"
	r, err = DecodeReminder(conv)
	if err != nil {
		t.Fatalf("DecodeReminder(instant): %v", err)
	}
	if got := r.Start.ToUTC(); !got.Equal(time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("instant start shifted: %v", got)
	}

	bad := map[string]func(*storage.ReminderRecord){
		"missing start": func(r *storage.ReminderRecord) { r.Start = "" },
		"garbled start": func(r *storage.ReminderRecord) { r.Start = "mañana" },
		"garbled end":   func(r *storage.ReminderRecord) { r.End = "2025-13-45 99:99" },
		"unknown kind":  func(r *storage.ReminderRecord) { r.Recurrence = "mensual" },
		"zero N":        func(r *storage.ReminderRecord) { r.RecurrenceN = 0 },
		"missing id":    func(r *storage.ReminderRecord) { r.ID = "" },
	}
	for name, mutate := range bad {
		rec := good
		mutate(&rec)
		if _, err := DecodeReminder(rec); !errors.Is(err, ErrInvalidDocument) {
			t.Fatalf("%s: err = %v, want ErrInvalidDocument", name, err)
		}
	}
	rec := good
	rec.Recurrence = "mensual"
	if _, err := DecodeReminder(rec); !errors.Is(err, ErrUnknownRecurrence) {
		t.Fatalf("unknown kind: err = %v, want ErrUnknownRecurrence", err)
	}
}

func TestDecodeSubscription(t *testing.T) {
	t.Parallel()
	rec := storage.SubscriptionRecord{ID: "s1", OwnerID: 1, Province: "Madrid", Hour: 8, Zone: "UTC+1"}
	sub, err := DecodeSubscription(rec)
	if err != nil {
		t.Fatalf("DecodeSubscription: %v", err)
	}
	if sub.At.Offset != 1 || sub.ChatID != 1 {
		t.Fatalf("sub = %+v", sub)
	}
	rec.Hour = 24
	if _, err := DecodeSubscription(rec); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("hour 24: err = %v, want ErrInvalidDocument", err)
	}
	rec.Hour, rec.Province = 8, ""
	if _, err := DecodeSubscription(rec); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("no province: err = %v, want ErrInvalidDocument", err)
	}
}

func TestRecordRoundTripKeepsWallClock(t *testing.T) {
	t.Parallel()
	r := Reminder{
		ID:         "r1",
		Title:      "x",
		Start:      local("2025-01-02 10:00", "UTC-3"),
		StartZone:  tzoffset.ParseOffset("UTC-3"),
		Recurrence: Recurrence{Kind: KindEveryNDays, N: 2},
	}
	rec := r.Record()
	if rec.Start != "2025-01-02 10:00" || rec.StartZone != "UTC-3" || rec.Recurrence != "every_n_days" || rec.RecurrenceN != 2 {
		t.Fatalf("Record() = %+v", rec)
	}
	if rec.End != "" || rec.EndZone != "" {
		t.Fatalf("open-ended reminder stored an end: %+v", rec)
	}
}
