package config

// Config is the on-disk configuration (JSON or YAML). All durations are Go
// duration strings ("500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Scheduler controls trigger arming.
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls how fired triggers run. If omitted, the engine
	// follows scheduler.enabled with built-in defaults.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Weather  WeatherConfig   `json:"weather"`
	Metrics  MetricsConfig   `json:"metrics"`
}

// TaskEngineConfig controls the task execution engine.
//
// Enabled is a pointer so "omitted" (follow scheduler.enabled) differs from
// an explicit false.
//
// Defaults:
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "30s"
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay drops trigger jobs queued longer than this. "0s" disables.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`
}

// NotifierConfig controls the async delivery pipeline. When the section is
// omitted the notifier runs with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig selects the document store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindbot.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://bot@localhost/remindbot" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // do not log
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int32  `json:"max_conns,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	PollTimeout  string  `json:"poll_timeout"`
	// APIURL overrides the Bot API endpoint (local bot-api server).
	APIURL string `json:"api_url,omitempty"`

	CommandWorkers int    `json:"command_workers,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls trigger arming.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// TriggerTimeout bounds one fired trigger job ("30s" by default).
	TriggerTimeout string `json:"trigger_timeout,omitempty"`
	// ReprogramTimeout bounds the startup reprogram pass ("60s" by default).
	ReprogramTimeout string `json:"reprogram_timeout,omitempty"`
}

// WeatherConfig configures the OpenWeather client.
type WeatherConfig struct {
	APIKey     string  `json:"api_key"` // do not log
	BaseURL    string  `json:"base_url,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

// MetricsConfig controls the ops HTTP server (/metrics, /healthz, /triggers).
//
// Prefer a loopback addr; a public bind needs a token or allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default "127.0.0.1:9090"
	Token         string `json:"token,omitempty"` // bearer token, do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
