package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/eventbus"
	rtsup "remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service executes tasks on a fixed pool of workers fed by a bounded queue.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	log      logx.Logger
	bus      eventbus.Bus
	q        chan queuedTask
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopping bool

	stateMu sync.Mutex
	states  map[string]*RunState

	hmu     sync.Mutex
	history []HistoryItem

	inFlight         atomic.Int32
	droppedQueueFull atomic.Uint64
	droppedStale     atomic.Uint64
	lastDropWarn     atomic.Int64
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	opt        TaskOptions
	state      *RunState
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log.With(logx.String("comp", "taskengine")),
		bus:    bus,
		states: map[string]*RunState{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A changed pool size restarts the workers.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil
	s.mu.Unlock()

	if running && (prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize || !cfg.Enabled) {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.stopCh != nil {
		return
	}
	s.q = make(chan queuedTask, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopping = false
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))

	queue, stopCh := s.q, s.stopCh
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", cap(queue)))
}

// Stop cancels the workers and waits until they return or ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("task engine stop timed out", logx.Err(err))
	}

	s.mu.Lock()
	s.q, s.stopCh, s.sup, s.stopping = nil, nil, nil, false
	s.mu.Unlock()
	s.log.Info("task engine stopped")
}

// Enqueue queues t without blocking; a full queue drops it.
func (s *Service) Enqueue(t Task) error { return s.enqueue(context.Background(), t, false) }

// Submit queues t, waiting for room until ctx is done or the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) error { return s.enqueue(ctx, t, true) }

func (s *Service) enqueue(ctx context.Context, t Task, block bool) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("task Name is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	s.mu.Lock()
	cfg, q, stopCh, stopping := s.cfg, s.q, s.stopCh, s.stopping
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		return ErrDisabled
	case stopping:
		return ErrStopping
	case q == nil:
		return ErrStopped
	}

	now := time.Now()
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	qt := queuedTask{task: t, enqueuedAt: now, timeout: timeout, opt: t.Opt.withDefaults(cfg)}

	if qt.opt.Overlap == OverlapSkipIfRunning {
		qt.state = s.stateFor(t.Name)
		if !qt.state.tryAcquire() {
			s.publish("task.skipped", TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "overlap_skip"})
			s.log.Debug("task skipped due to overlap", logx.String("task", t.Name))
			return ErrOverlapSkip
		}
	}

	if !block {
		select {
		case q <- qt:
			return nil
		default:
			qt.releaseState()
			s.onDropped(now, t, "queue_full", 0)
			return ErrQueueFull
		}
	}
	select {
	case q <- qt:
		return nil
	case <-ctx.Done():
		qt.releaseState()
		return ctx.Err()
	case <-stopCh:
		qt.releaseState()
		return ErrStopping
	}
}

func (qt queuedTask) releaseState() {
	if qt.state != nil {
		qt.state.release()
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, q := s.cfg, s.q
	s.mu.Unlock()

	snap := Snapshot{
		Enabled:          cfg.Enabled,
		Workers:          cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		DroppedQueueFull: s.droppedQueueFull.Load(),
		DroppedStale:     s.droppedStale.Load(),
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) stateFor(name string) *RunState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[name]
	if st == nil {
		st = &RunState{}
		s.states[name] = st
	}
	return st
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
	}
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func (s *Service) onDropped(now time.Time, t Task, reason string, queueDelay time.Duration) {
	switch reason {
	case "queue_full":
		s.droppedQueueFull.Add(1)
	default:
		s.droppedStale.Add(1)
	}
	s.publish("task.dropped", TaskEvent{ID: t.ID, Name: t.Name, Started: now, QueueDelay: queueDelay, Error: reason})

	prev := s.lastDropWarn.Load()
	if prev != 0 && now.UnixNano()-prev < int64(warnThrottleEvery) {
		return
	}
	if s.lastDropWarn.CompareAndSwap(prev, now.UnixNano()) {
		s.log.Warn("task dropped",
			logx.String("task", t.Name),
			logx.String("reason", reason),
			logx.Duration("queue_delay", queueDelay),
			logx.Uint64("dropped_queue_full", s.droppedQueueFull.Load()),
			logx.Uint64("dropped_stale", s.droppedStale.Load()),
		)
	}
}
