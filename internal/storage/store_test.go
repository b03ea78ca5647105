package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "remindbot/pkg/logx"
)

func openers(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"file": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.json")}, logx.Nop())
			if err != nil {
				t.Fatalf("Open(file): %v", err)
			}
			return st
		},
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("Open(sqlite): %v", err)
			}
			return st
		},
	}
}

func eachDriver(t *testing.T, fn func(t *testing.T, st Store)) {
	for name, open := range openers(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			st := open(t)
			t.Cleanup(func() { _ = st.Close() })
			fn(t, st)
		})
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if st != nil || err != nil {
		t.Fatalf("Open(none) = %v, %v; want nil, nil", st, err)
	}
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("Open(unknown) returned nil error")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("Open(sqlite without path) returned nil error")
	}
}

func TestUsers(t *testing.T) {
	t.Parallel()
	eachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		if _, err := st.GetUser(ctx, 1); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetUser(missing) = %v, want ErrNotFound", err)
		}
		if err := st.UpsertUser(ctx, UserRecord{ID: 1, ChatID: 10, Username: "ana", Nickname: "ana_1"}); err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
		if err := st.UpsertUser(ctx, UserRecord{ID: 1, ChatID: 10, Username: "ana", Nickname: "anita"}); err != nil {
			t.Fatalf("UpsertUser(update): %v", err)
		}
		u, err := st.GetUser(ctx, 1)
		if err != nil {
			t.Fatalf("GetUser: %v", err)
		}
		if u.Nickname != "anita" || u.ChatID != 10 || u.Username != "ana" {
			t.Fatalf("GetUser = %+v", u)
		}
	})
}

func TestReminders(t *testing.T) {
	t.Parallel()
	eachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		id1, err := st.CreateReminder(ctx, ReminderRecord{
			OwnerID: 1, ChatID: 10, Title: "Gym", Description: "piernas",
			Start: "2025-01-02 08:00", StartZone: "UTC+1", Recurrence: "daily",
		})
		if err != nil {
			t.Fatalf("CreateReminder: %v", err)
		}
		if id1 == "" {
			t.Fatal("CreateReminder returned empty id")
		}
		id2, _ := st.CreateReminder(ctx, ReminderRecord{OwnerID: 1, ChatID: 10, Title: "Agua", Start: "2025-01-02 09:00", StartZone: "UTC+1", Recurrence: "every_n_hours", RecurrenceN: 6, End: "2025-01-03 09:00", EndZone: "UTC+1"})
		_, _ = st.CreateReminder(ctx, ReminderRecord{OwnerID: 2, ChatID: 20, Title: "Otro"})

		mine, err := st.ListRemindersByOwner(ctx, 1)
		if err != nil {
			t.Fatalf("ListRemindersByOwner: %v", err)
		}
		if len(mine) != 2 || mine[0].ID != id1 || mine[1].ID != id2 {
			t.Fatalf("ListRemindersByOwner = %+v", mine)
		}
		if mine[1].RecurrenceN != 6 || mine[1].End != "2025-01-03 09:00" || mine[1].EndZone != "UTC+1" {
			t.Fatalf("fields not round-tripped: %+v", mine[1])
		}
		all, _ := st.ListReminders(ctx)
		if len(all) != 3 {
			t.Fatalf("ListReminders = %d, want 3", len(all))
		}

		got, err := st.GetReminder(ctx, id1)
		if err != nil || got.Title != "Gym" || got.Start != "2025-01-02 08:00" {
			t.Fatalf("GetReminder = %+v, %v", got, err)
		}

		if n, err := st.DeleteReminder(ctx, 2, id1); err != nil || n != 0 {
			t.Fatalf("DeleteReminder(other owner) = %d, %v; want 0", n, err)
		}
		if n, err := st.DeleteReminder(ctx, 1, id1); err != nil || n != 1 {
			t.Fatalf("DeleteReminder = %d, %v; want 1", n, err)
		}
		if n, _ := st.DeleteReminder(ctx, 1, id1); n != 0 {
			t.Fatalf("second DeleteReminder = %d, want 0", n)
		}
		if _, err := st.GetReminder(ctx, id1); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetReminder(deleted) = %v, want ErrNotFound", err)
		}
	})
}

func TestSubscriptions(t *testing.T) {
	t.Parallel()
	eachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		id, err := st.CreateSubscription(ctx, SubscriptionRecord{OwnerID: 1, ChatID: 10, DisplayName: "ana", Province: "Madrid", Hour: 8, Zone: "UTC+1"})
		if err != nil {
			t.Fatalf("CreateSubscription: %v", err)
		}
		if n, err := st.UpdateSubscriptionTime(ctx, 1, id, 9, 30, "UTC+2"); err != nil || n != 1 {
			t.Fatalf("UpdateSubscriptionTime = %d, %v", n, err)
		}
		if n, _ := st.UpdateSubscriptionTime(ctx, 2, id, 1, 1, "UTC+0"); n != 0 {
			t.Fatalf("UpdateSubscriptionTime(other owner) = %d, want 0", n)
		}
		got, err := st.GetSubscription(ctx, id)
		if err != nil {
			t.Fatalf("GetSubscription: %v", err)
		}
		if got.Hour != 9 || got.Minute != 30 || got.Zone != "UTC+2" || got.Province != "Madrid" {
			t.Fatalf("GetSubscription = %+v", got)
		}
		subs, _ := st.ListSubscriptionsByOwner(ctx, 1)
		if len(subs) != 1 {
			t.Fatalf("ListSubscriptionsByOwner = %d, want 1", len(subs))
		}
		if n, _ := st.DeleteSubscription(ctx, 1, id); n != 1 {
			t.Fatalf("DeleteSubscription = %d, want 1", n)
		}
		all, _ := st.ListSubscriptions(ctx)
		if len(all) != 0 {
			t.Fatalf("ListSubscriptions = %d, want 0", len(all))
		}
	})
}

func TestDedup(t *testing.T) {
	t.Parallel()
	eachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		if _, ok, err := st.GetDedup(ctx, "k"); ok || err != nil {
			t.Fatalf("GetDedup(missing) = %v, %v", ok, err)
		}
		until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
		if err := st.PutDedup(ctx, "k", until); err != nil {
			t.Fatalf("PutDedup: %v", err)
		}
		got, ok, err := st.GetDedup(ctx, "k")
		if err != nil || !ok || !got.Equal(until) {
			t.Fatalf("GetDedup = %v, %v, %v; want %v", got, ok, err, until)
		}
	})
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bot.json")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	a, _ := st.CreateReminder(ctx, ReminderRecord{OwnerID: 1, Title: "a"})
	b, _ := st.CreateReminder(ctx, ReminderRecord{OwnerID: 1, Title: "b"})
	_ = st.Close()

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	c, _ := st.CreateReminder(ctx, ReminderRecord{OwnerID: 1, Title: "c"})
	list, _ := st.ListRemindersByOwner(ctx, 1)
	if len(list) != 3 || list[0].ID != a || list[1].ID != b || list[2].ID != c {
		t.Fatalf("order after reopen = %+v", list)
	}
}
