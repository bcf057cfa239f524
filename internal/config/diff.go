package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "remindbot/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns log fields describing the new values. Secrets (bot token,
// postgres DSN) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout || ot.RequestTimeout != nt.RequestTimeout ||
		!slices.Equal(ot.AllowedUserIDs, nt.AllowedUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.allowed_count", len(nt.AllowedUserIDs)),
			logx.String("telegram.poll_timeout", nt.PollTimeout),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.reconcile", newCfg.Scheduler.Reconcile),
		)
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
		te := TaskEngineConfig{}
		if newCfg.TaskEngine != nil {
			te = *newCfg.TaskEngine
		}
		attrs = append(attrs,
			logx.Bool("task_engine.enabled", newCfg.TaskEngineEnabled()),
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.retry_max", te.RetryMax),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", n.Enabled),
				logx.Int("notifier.rate_per_sec", n.RatePerSec),
				logx.Bool("notifier.persist_dedup", n.PersistDedup),
			)
		}
	}

	// The store is opened once; a change here needs a restart.
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", newCfg.Storage.Path != ""),
			logx.Bool("storage.dsn_set", newCfg.Storage.DSN != ""),
		)
	}

	if oldCfg.Dialog != newCfg.Dialog {
		changed = append(changed, "dialog")
		attrs = append(attrs,
			logx.String("dialog.session_ttl", newCfg.Dialog.SessionTTL),
			logx.String("dialog.prune", newCfg.Dialog.Prune),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
