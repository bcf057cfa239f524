package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

func dedupKey(n kit.Notification) string {
	if n.Channel == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%d:%d:%d|", n.Channel, n.Target.ChatID, n.Target.ThreadID, n.Priority)
	_, _ = h.Write([]byte(n.Text))
	return fmt.Sprintf("%x", h.Sum64())
}

// dedupAllow reports whether key may be sent now and, if so, suppresses it
// for window. The store is consulted after the in-memory cache misses.
func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration, cfg Config, pch chan<- dedupMark) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	if cfg.PersistDedup && s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err != nil {
			s.log.Debug("dedup lookup failed", logx.String("key", key), logx.Err(err))
		}
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(window)
	s.dmu.Lock()
	s.dedup[key] = until
	s.pruneLocked(now, cfg.DedupMaxEntries)
	s.dmu.Unlock()

	if pch != nil {
		select {
		case pch <- dedupMark{key: key, until: until}:
		default:
			s.log.Debug("dedup persist queue full", logx.String("key", key))
		}
	}
	return true
}

// pruneLocked drops expired marks, then the earliest expiring ones above limit.
func (s *Service) pruneLocked(now time.Time, limit int) {
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for limit > 0 && len(s.dedup) > limit {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
}

// persistLoop reports true when ch was closed.
func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupMark) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case m, ok := <-ch:
			if !ok {
				return true
			}
			cctx, cancel := context.WithTimeout(ctx, time.Second)
			if err := s.store.PutDedup(cctx, m.key, m.until); err != nil {
				s.log.Warn("dedup persist failed", logx.String("key", m.key), logx.Err(err))
			}
			cancel()
		}
	}
}
