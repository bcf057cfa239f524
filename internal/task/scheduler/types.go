package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Moscow"
}

type TaskOptions = engine.TaskOptions

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

// Fire is one collapsed firing of a job trigger.
type Fire struct {
	Name string
	// Trigger is the state after this fire; persist it as is.
	Trigger storage.Trigger
	// Nominal is the latest fire point covered by this fire.
	Nominal time.Time
	At      time.Time
	// Missed counts earlier points folded into this fire.
	Missed int
	// Last is set when the trigger has no further points.
	Last bool
}

type FireFunc func(ctx context.Context, f Fire) error

type scheduleDef struct {
	name          string
	spec          string // cron spec, @every, or trigger kind
	timeout       time.Duration
	job           func(ctx context.Context) error
	entryID       cron.EntryID
	startupSpread time.Duration
	opt           TaskOptions

	trig   *triggerState
	onFire FireFunc
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine *engine.Service

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Enabled   bool
	Timezone  string
	Schedules []ScheduleInfo
	Engine    engine.Snapshot
}
