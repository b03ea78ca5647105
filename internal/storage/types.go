package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicate is returned when a document ID already exists.
	ErrDuplicate = errors.New("storage: duplicate id")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string        // sqlite, file
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means pgx default
}

type UserRecord struct {
	ID        int64
	ChatID    int64
	Username  string
	Nickname  string
	CreatedAt time.Time
}

// ReminderRecord is a reminder document. Start and End hold either a
// wall-clock "YYYY-MM-DD HH:MM" in their zone or an RFC 3339 instant.
type ReminderRecord struct {
	ID          string
	OwnerID     int64
	ChatID      int64
	Title       string
	Description string
	Start       string
	StartZone   string
	End         string
	EndZone     string
	Recurrence  string
	RecurrenceN int
	CreatedAt   time.Time
}

type SubscriptionRecord struct {
	ID          string
	OwnerID     int64
	ChatID      int64
	DisplayName string
	Province    string
	Hour        int
	Minute      int
	Zone        string
	CreatedAt   time.Time
}

type UserStore interface {
	UpsertUser(ctx context.Context, u UserRecord) error
	GetUser(ctx context.Context, id int64) (UserRecord, error)
}

// ReminderStore lists in creation order. Delete reports affected rows and
// only touches documents of owner.
type ReminderStore interface {
	CreateReminder(ctx context.Context, r ReminderRecord) (string, error)
	GetReminder(ctx context.Context, id string) (ReminderRecord, error)
	ListReminders(ctx context.Context) ([]ReminderRecord, error)
	ListRemindersByOwner(ctx context.Context, owner int64) ([]ReminderRecord, error)
	DeleteReminder(ctx context.Context, owner int64, id string) (int64, error)
}

type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, s SubscriptionRecord) (string, error)
	GetSubscription(ctx context.Context, id string) (SubscriptionRecord, error)
	ListSubscriptions(ctx context.Context) ([]SubscriptionRecord, error)
	ListSubscriptionsByOwner(ctx context.Context, owner int64) ([]SubscriptionRecord, error)
	UpdateSubscriptionTime(ctx context.Context, owner int64, id string, hour, minute int, zone string) (int64, error)
	DeleteSubscription(ctx context.Context, owner int64, id string) (int64, error)
}

type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// Store is the persistence API used by the bot.
type Store interface {
	UserStore
	ReminderStore
	SubscriptionStore
	DedupStore
	Ping(ctx context.Context) error
	Close() error
}
