package app

import (
	"fmt"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/notifier"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

const (
	defaultSQLitePath     = "./remindbot.db"
	defaultFileStorePath  = "./remindbot_store"
	defaultReconcile      = "@every 5m"
	defaultSessionPrune   = "@every 1m"
	defaultRequestTimeout = 15 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     lc.Telegram.ChatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "sqlite":
		if path == "" {
			path = defaultSQLitePath
		}
		busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: driver, DSN: strings.TrimSpace(sc.DSN)}, nil
	case "file":
		if path == "" {
			path = defaultFileStorePath
		}
		return storage.Config{Driver: driver, Path: path}, nil
	case "memory":
		return storage.Config{Driver: driver}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := config.TaskEngineConfig{}
	if cfg.TaskEngine != nil {
		te = *cfg.TaskEngine
	}
	enabled := cfg.TaskEngineEnabled()
	// Triggers would enqueue into a stopped pool.
	if cfg.Scheduler.Enabled && !enabled {
		return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
	}
	defTimeout, err := config.ParseDuration("task_engine.default_timeout", te.DefaultTimeout, 0)
	if err != nil {
		return engine.Config{}, err
	}
	maxDelay, err := config.ParseDuration("task_engine.max_queue_delay", te.MaxQueueDelay, 0)
	if err != nil {
		return engine.Config{}, err
	}
	workers := te.Workers
	if workers <= 0 {
		workers = 2
	}
	queue := te.QueueSize
	if queue <= 0 {
		queue = 256
	}
	history := te.HistorySize
	if history <= 0 {
		history = 200
	}
	retry := te.RetryMax
	if retry <= 0 {
		retry = 3
	}
	return engine.Config{
		Enabled:        enabled,
		Workers:        workers,
		QueueSize:      queue,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxDelay,
		HistorySize:    history,
		RetryMax:       retry,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)}
}

// mapNotifierConfig treats an omitted section as enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc == nil {
		return notifier.Config{Enabled: true, PersistDedup: true}, nil
	}
	retryBase, err := config.ParseDuration("notifier.retry_base", nc.RetryBase, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDuration("notifier.retry_max_delay", nc.RetryMaxDelay, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDuration("notifier.dedup_window", nc.DedupWindow, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         nc.Enabled,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedup,
		DedupMaxEntries: nc.DedupMaxEntries,
		PersistDedup:    nc.PersistDedup,
	}, nil
}

// runtimeSettings are the remaining knobs that do not belong to a service
// config struct.
type runtimeSettings struct {
	PollTimeout    time.Duration
	RequestTimeout time.Duration
	FireTimeout    time.Duration
	SessionTTL     time.Duration
	Reconcile      string
	SessionPrune   string
}

func mapRuntimeSettings(cfg *config.Config) (runtimeSettings, error) {
	var rs runtimeSettings
	var err error
	if rs.PollTimeout, err = config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second); err != nil {
		return rs, err
	}
	if rs.RequestTimeout, err = config.ParseDuration("telegram.request_timeout", cfg.Telegram.RequestTimeout, defaultRequestTimeout); err != nil {
		return rs, err
	}
	if rs.FireTimeout, err = config.ParseDuration("scheduler.fire_timeout", cfg.Scheduler.FireTimeout, 0); err != nil {
		return rs, err
	}
	if rs.SessionTTL, err = config.ParseDuration("dialog.session_ttl", cfg.Dialog.SessionTTL, 0); err != nil {
		return rs, err
	}
	rs.Reconcile = strings.TrimSpace(cfg.Scheduler.Reconcile)
	if rs.Reconcile == "" {
		rs.Reconcile = defaultReconcile
	}
	rs.SessionPrune = strings.TrimSpace(cfg.Dialog.Prune)
	if rs.SessionPrune == "" {
		rs.SessionPrune = defaultSessionPrune
	}
	return rs, nil
}
