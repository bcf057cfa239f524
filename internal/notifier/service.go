package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const sendTimeout = 10 * time.Second

type job struct {
	n   kit.Notification
	key string
}

// DedupStore persists suppression marks across restarts.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (time.Time, bool, error)
}

var _ DedupStore = (storage.Store)(nil)

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus
	store   DedupStore

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	persistCh chan dedupMark
	sup       *rtsup.Supervisor
	stopDone  chan struct{}

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

type dedupMark struct {
	key   string
	until time.Time
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus, store DedupStore) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		adapter: adapter,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		store:   store,
		dedup:   map[string]time.Time{},
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply takes effect for new sends; pool and queue size apply on next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupMark, 1024)
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	sup, q, pch, workers := s.sup, s.queue, s.persistCh, s.cfg.Workers
	s.mu.Unlock()

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			return s.unlessStopping(c, s.persistLoop(c, pch), "persist loop")
		}, rtsup.WithPublishFirstError(true))
	}
	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			return s.unlessStopping(c, s.workerLoop(c, q), "worker")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("service started", logx.Int("workers", workers))
}

// unlessStopping maps a loop exit to the supervisor's restart decision.
func (s *Service) unlessStopping(ctx context.Context, closed bool, what string) error {
	s.mu.Lock()
	stopping := s.stopDone != nil
	s.mu.Unlock()
	switch {
	case stopping || closed:
		return context.Canceled
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return fmt.Errorf("notifier %s exited unexpectedly", what)
}

// Stop stops intake and drains the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, pch, sup := s.queue, s.persistCh, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		if pch != nil {
			close(pch)
		}
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue, s.persistCh, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Info("service stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Notify queues n. A suppressed duplicate returns nil without sending.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q, cfg, pch := s.queue, s.cfg, s.persistCh
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key, window := n.Key, keyedDedupWindow
	if key == "" {
		key, window = dedupKey(n), cfg.DedupWindow
	}
	if window > 0 && key != "" && !s.dedupAllow(ctx, key, window, cfg, pch) {
		s.publish("notifier.deduped", n, key, nil)
		return nil
	}

	select {
	case q <- job{n: n, key: key}:
		s.publish("notifier.queued", n, key, nil)
		return nil
	default:
		s.publish("notifier.dropped", n, key, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(key, text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Key: key, Text: text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, n kit.Notification, key string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := NotificationEvent{Channel: n.Channel, ChatID: n.Target.ChatID, ThreadID: n.Target.ThreadID, Key: key, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

// workerLoop reports true when the queue was closed.
func (s *Service) workerLoop(ctx context.Context, q <-chan job) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case j, ok := <-q:
			if !ok {
				return true
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, ad := s.cfg, s.limiter, s.adapter
	s.mu.Unlock()
	if ad == nil {
		return
	}

	text := prefixForPriority(j.n.Priority) + j.n.Text
	if text == "" {
		return
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err := ad.SendText(callCtx, j.n.Target, text, j.n.Options)
		cancel()
		if err == nil {
			s.appendHistory(j.key, text)
			s.publish("notifier.sent", j.n, j.key, nil)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt >= maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt, err, rng))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("notify failed", logx.Int64("chat_id", j.n.Target.ChatID), logx.String("key", j.key), logx.Err(lastErr))
	s.publish("notifier.failed", j.n, j.key, lastErr)
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	default:
		return ""
	}
}

// retryDelay backs off exponentially with 0.7..1.3 jitter. A retry_after
// hint from the adapter wins when present.
func retryDelay(cfg Config, attempt int, err error, rng *rand.Rand) time.Duration {
	var hint interface{ RetryAfter() time.Duration }
	if errors.As(err, &hint) && hint.RetryAfter() > 0 {
		return min(hint.RetryAfter(), cfg.RetryMaxDelay)
	}
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rng.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
