package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "remindbot/pkg/logx"
)

// Store is the persistence API used by the scheduling engine.
//
// Every method is atomic with respect to the keys it touches.
type Store interface {
	// SaveJobs upserts put and removes del in one step. Missing del keys are ignored.
	SaveJobs(ctx context.Context, put []Job, del []Key) error
	GetJob(ctx context.Context, key Key) (Job, error)
	// DeleteJob removes key and any linked jobs that exist. If key is
	// missing it returns ErrNotFound and changes nothing.
	DeleteJob(ctx context.Context, key Key, linked ...Key) error
	// ListJobs returns the owner's jobs ordered by name.
	ListJobs(ctx context.Context, owner int64) ([]Job, error)
	AllJobs(ctx context.Context) ([]Job, error)
	// RecordFire stores new trigger state for key and returns the updated
	// job. It returns ErrNotFound when the job was deleted meanwhile and
	// ErrTriggerReplaced when tr does not continue the stored trigger.
	RecordFire(ctx context.Context, key Key, tr Trigger) (Job, error)
	// FinishJob deletes key after the last fire of tr. Like RecordFire it
	// leaves a job with a different trigger alone.
	FinishJob(ctx context.Context, key Key, tr Trigger) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store. An empty driver selects sqlite.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	case "file":
		return openFile(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
