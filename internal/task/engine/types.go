package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the task execution engine.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout applies when Task.Timeout is 0.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks queued for longer. 0 disables.
	MaxQueueDelay time.Duration

	HistorySize int

	// Retry policy. RetryMax applies when Task.RetryMax is 0.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = ±20%
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 15 * time.Second
	}
	if cfg.RetryJitter <= 0 {
		cfg.RetryJitter = 0.2
	}
	return cfg
}

// Task is one job run by the engine, typically a fired trigger.
type Task struct {
	ID      string // assigned by Enqueue when empty
	Name    string // trigger tag
	Timeout time.Duration
	Run     func(ctx context.Context) error

	// RetryMax overrides Config.RetryMax when > 0.
	RetryMax int

	// SkipIfRunning drops the task while an earlier run sharing State (or,
	// without State, the same Name) is still queued or running. Repeating
	// triggers use it so a slow weather report never stacks up.
	SkipIfRunning bool
	State         *RunState
}

// RunState counts the pending runs of one trigger.
type RunState struct {
	mu      sync.Mutex
	pending int
}

func (s *RunState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending > 0 {
		return false
	}
	s.pending++
	return true
}

func (s *RunState) release() {
	s.mu.Lock()
	s.pending = max(s.pending-1, 0)
	s.mu.Unlock()
}

// HistoryItem is one finished run, for /estado.
type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is the payload of task.* bus events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration
	RetryMax       int

	History []HistoryItem
}
