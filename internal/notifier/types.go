package notifier

import (
	"context"
	"time"

	kit "remindbot/internal/transport"
)

// Config controls the delivery pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int // Telegram allows roughly 30 msg/s per bot; stay well under
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	c.DedupWindow = max(c.DedupWindow, 0)
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	return c
}

// Sender is the part of the transport adapter the notifier uses.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Delivery is one message that reached Telegram.
type Delivery struct {
	At     time.Time
	ChatID int64
	Source string
	Text   string
}

// Stats is a point-in-time view for /estado and the ops server.
type Stats struct {
	Enabled  bool
	Running  bool
	QueueLen int
	QueueCap int
	Dedup    int
	History  int
}

// NotificationEvent is the Data of every notifier.* bus event.
type NotificationEvent struct {
	ChatID int64     `json:"chat_id"`
	Source string    `json:"source,omitempty"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
