package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

var (
	ErrPastInstant = errors.New("scheduler: fire instant is not in the future")
	ErrInvalidSpec = errors.New("scheduler: invalid trigger spec")
)

type Config struct {
	Enabled bool

	// TriggerTimeout bounds each fired task when Spec.Timeout is 0.
	TriggerTimeout time.Duration
}

// Role distinguishes the triggers that belong to one document.
type Role string

const (
	RoleStart  Role = "start"
	RoleRepeat Role = "repeat"
	RoleEnd    Role = "end"
	RoleDaily  Role = "daily"
)

// Tag returns the trigger tag for id and role.
func Tag(id string, role Role) string { return id + ":" + string(role) }

// Spec describes one trigger. Every == 0 means one-shot at At; otherwise the
// trigger fires at At and every Every after it.
type Spec struct {
	ID        string
	Role      Role
	Recipient int64
	At        time.Time
	Every     time.Duration
	Timeout   time.Duration

	// CancelOnFire lists sibling roles removed when this trigger fires.
	CancelOnFire []Role

	Run func(ctx context.Context) error
}

func (s Spec) Tag() string { return Tag(s.ID, s.Role) }

// Trigger is a read-only view of a live trigger.
type Trigger struct {
	Tag       string        `json:"tag"`
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Recipient int64         `json:"recipient"`
	First     time.Time     `json:"first"`
	Every     time.Duration `json:"every,omitempty"`
	Next      time.Time     `json:"next"`
	Prev      time.Time     `json:"prev,omitempty"`
}

func (t Trigger) Repeating() bool { return t.Every > 0 }

// TriggerEvent is the payload of trigger.* bus events.
type TriggerEvent struct {
	Tag       string    `json:"tag"`
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Recipient int64     `json:"recipient"`
	At        time.Time `json:"at"`
}

// Executor runs fired triggers. engine.Service implements it.
type Executor interface {
	Enqueue(t engine.Task) error
}

type trigger struct {
	spec    Spec
	ver     uint64
	entryID cron.EntryID
	timer   *clock.Timer
	stop    chan struct{}
	state   *engine.RunState
}

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	bus  eventbus.Bus
	exec Executor
	clk  clock.Clock

	c      *cron.Cron
	unbind func() bool
	index  map[string]map[Role]*trigger
	seq    uint64

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type Snapshot struct {
	Enabled  bool
	Running  bool
	Live     int
	Triggers []Trigger
}
