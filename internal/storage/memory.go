package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

const memoryAuditCap = 256

type memStore struct {
	mu     sync.Mutex
	jobs   jobTable
	dedup  map[string]int64
	audit  []AuditEntry
	closed bool
}

// NewMemory returns a process-local store.
func NewMemory() Store {
	return &memStore{jobs: jobTable{}, dedup: map[string]int64{}}
}

func (s *memStore) SaveJobs(_ context.Context, put []Job, del []Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.jobs.save(put, del, time.Now())
	return nil
}

func (s *memStore) GetJob(_ context.Context, key Key) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Job{}, ErrClosed
	}
	return s.jobs.get(key)
}

func (s *memStore) DeleteJob(_ context.Context, key Key, linked ...Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.jobs.remove(key, linked)
}

func (s *memStore) ListJobs(_ context.Context, owner int64) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.jobs.list(owner, false), nil
}

func (s *memStore) AllJobs(_ context.Context) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.jobs.list(0, true), nil
}

func (s *memStore) RecordFire(_ context.Context, key Key, tr Trigger) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Job{}, ErrClosed
	}
	return s.jobs.fire(key, tr, time.Now())
}

func (s *memStore) FinishJob(_ context.Context, key Key, tr Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.jobs.finish(key, tr)
}

func (s *memStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.audit = append(s.audit, e)
	if len(s.audit) > memoryAuditCap {
		s.audit = s.audit[len(s.audit)-memoryAuditCap:]
	}
	return nil
}

func (s *memStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	s.dedup[key] = until.UnixMilli()
	s.mu.Unlock()
	return nil
}

func (s *memStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
