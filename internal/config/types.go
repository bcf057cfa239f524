package config

// Config is the on-disk configuration. JSON and YAML share the same keys.
// Durations are Go duration strings ("500ms", "10s", "1m"); maintenance
// schedules are cron specs or descriptors ("@every 5m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls the worker pool that runs trigger fires.
	// Omitted means defaults with enabled following scheduler.enabled.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	// Notifier omitted means enabled with defaults.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  StorageConfig   `json:"storage"`
	Dialog   DialogConfig    `json:"dialog"`
}

type TelegramConfig struct {
	Token string `json:"token" validate:"required"`
	// AllowedUserIDs limits who may talk to the bot. Empty allows everyone.
	AllowedUserIDs []int64 `json:"allowed_user_ids,omitempty" validate:"omitempty,dive,gt=0"`
	PollTimeout    string  `json:"poll_timeout,omitempty" validate:"omitempty,duration"`
	// RequestTimeout bounds the handling of one update.
	RequestTimeout string `json:"request_timeout,omitempty" validate:"omitempty,duration"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingTelegram forwards log lines to a chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty" validate:"required_if=Enabled true"`
	ThreadID   int    `json:"thread_id,omitempty" validate:"gte=0"`
	MinLevel   string `json:"min_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone is the IANA zone deadlines are entered and shown in.
	Timezone string `json:"timezone,omitempty" validate:"omitempty,timezone"`
	// FireTimeout bounds one reminder delivery.
	FireTimeout string `json:"fire_timeout,omitempty" validate:"omitempty,duration"`
	// Reconcile re-syncs installed triggers with the job store.
	Reconcile string `json:"reconcile,omitempty" validate:"omitempty,cronspec"`
}

type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty" validate:"gte=0,lte=64"`
	QueueSize      int    `json:"queue_size,omitempty" validate:"gte=0"`
	DefaultTimeout string `json:"default_timeout,omitempty" validate:"omitempty,duration"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty" validate:"omitempty,duration"`
	HistorySize    int    `json:"history_size,omitempty" validate:"gte=0"`
	RetryMax       int    `json:"retry_max,omitempty" validate:"gte=0,lte=20"`
}

type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers,omitempty" validate:"gte=0,lte=64"`
	QueueSize       int    `json:"queue_size,omitempty" validate:"gte=0"`
	RatePerSec      int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
	RetryMax        int    `json:"retry_max,omitempty" validate:"gte=0,lte=20"`
	RetryBase       string `json:"retry_base,omitempty" validate:"omitempty,duration"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty" validate:"omitempty,duration"`
	DedupWindow     string `json:"dedup_window,omitempty" validate:"omitempty,duration"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty" validate:"gte=0"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig selects the job store.
//
//	"storage": { "driver": "sqlite", "path": "./remindbot.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://bot@localhost/remind?sslmode=disable" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=sqlite postgres file memory"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty" validate:"required_if=Driver postgres"`
	BusyTimeout string `json:"busy_timeout,omitempty" validate:"omitempty,duration"`
}

type DialogConfig struct {
	// SessionTTL drops conversations idle for longer than this.
	SessionTTL string `json:"session_ttl,omitempty" validate:"omitempty,duration"`
	// Prune is the schedule of the idle-session sweep.
	Prune string `json:"prune,omitempty" validate:"omitempty,cronspec"`
}

// TaskEngineEnabled resolves task_engine.enabled against scheduler.enabled.
func (c *Config) TaskEngineEnabled() bool {
	if c.TaskEngine != nil && c.TaskEngine.Enabled != nil {
		return *c.TaskEngine.Enabled
	}
	return c.Scheduler.Enabled
}
