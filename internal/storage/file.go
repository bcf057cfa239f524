package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "remindbot/pkg/logx"
)

// fileStore keeps the whole table in memory and persists it as:
//   - <prefix>.snapshot.json (jobs and dedup marks)
//   - <prefix>.journal.jsonl (one record per mutation since the snapshot)
//   - <prefix>.audit.jsonl   (append-only)
//
// A journal line is written before the in-memory change is visible, so a
// replay after a crash reproduces every acknowledged mutation.
type fileStore struct {
	log logx.Logger

	mu       sync.Mutex
	jobs     jobTable
	dedup    map[string]int64
	snapPath string
	journal  *os.File
	audit    *os.File
	writes   int
	compactN int
}

type fileSnapshot struct {
	Jobs  []Job            `json:"jobs"`
	Dedup map[string]int64 `json:"dedup"`
}

type journalRecord struct {
	At    int64        `json:"at"`
	Put   []Job        `json:"put,omitempty"`
	Del   []Key        `json:"del,omitempty"`
	Fire  *fireRecord  `json:"fire,omitempty"`
	Dedup *dedupRecord `json:"dedup,omitempty"`
}

type fireRecord struct {
	Key     Key     `json:"key"`
	Trigger Trigger `json:"trigger"`
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:      log,
		jobs:     jobTable{},
		dedup:    map[string]int64{},
		snapPath: prefix + ".snapshot.json",
		compactN: 500,
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	journalPath := prefix + ".journal.jsonl"
	if err := s.replay(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	pruneExpiredDedup(s.dedup, time.Now())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}
	s.journal, s.audit = jf, af

	// Fold the replayed journal into a fresh snapshot.
	if err := s.compactLocked(); err != nil {
		log.Warn("initial compaction failed", logx.Err(err))
	}
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapPath)
	if err != nil {
		return err
	}
	var snap fileSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	for _, j := range snap.Jobs {
		s.jobs[j.Key] = j
	}
	for k, v := range snap.Dedup {
		s.dedup[k] = v
	}
	return nil
}

func (s *fileStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn last line after a crash; everything before it applied.
			s.log.Warn("journal record skipped", logx.Int("line", n+1), logx.Err(err))
			continue
		}
		s.applyLocked(r)
		n++
	}
	return sc.Err()
}

func (s *fileStore) applyLocked(r journalRecord) {
	at := time.UnixMilli(r.At)
	for _, k := range r.Del {
		delete(s.jobs, k)
	}
	for _, j := range r.Put {
		s.jobs[j.Key] = j
	}
	if r.Fire != nil {
		_, _ = s.jobs.fire(r.Fire.Key, r.Fire.Trigger, at)
	}
	if r.Dedup != nil {
		s.dedup[r.Dedup.Key] = r.Dedup.Until
	}
}

// appendLocked writes r to the journal and compacts every compactN writes.
func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactN == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.dedup, time.Now())
	snap := fileSnapshot{Jobs: s.jobs.list(0, true), Dedup: s.dedup}

	tmp := s.snapPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) SaveJobs(_ context.Context, put []Job, del []Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()

	// Resolve timestamps first so the journal carries exactly what is stored.
	scratch := jobTable{}
	for _, j := range put {
		if prev, ok := s.jobs[j.Key]; ok {
			scratch[j.Key] = prev
		}
	}
	stored := scratch.save(put, nil, now)
	if err := s.appendLocked(journalRecord{At: now.UnixMilli(), Put: stored, Del: del}); err != nil {
		return err
	}
	for _, k := range del {
		delete(s.jobs, k)
	}
	for _, j := range stored {
		s.jobs[j.Key] = j
	}
	return nil
}

func (s *fileStore) GetJob(_ context.Context, key Key) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.get(key)
}

func (s *fileStore) DeleteJob(_ context.Context, key Key, linked ...Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[key]; !ok {
		return ErrNotFound
	}
	del := append([]Key{key}, linked...)
	if err := s.appendLocked(journalRecord{At: time.Now().UnixMilli(), Del: del}); err != nil {
		return err
	}
	return s.jobs.remove(key, linked)
}

func (s *fileStore) ListJobs(_ context.Context, owner int64) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.list(owner, false), nil
}

func (s *fileStore) AllJobs(_ context.Context) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.list(0, true), nil
}

func (s *fileStore) RecordFire(_ context.Context, key Key, tr Trigger) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.jobs.owns(key, tr); err != nil {
		return Job{}, err
	}
	now := time.Now()
	if err := s.appendLocked(journalRecord{At: now.UnixMilli(), Fire: &fireRecord{Key: key, Trigger: tr}}); err != nil {
		return Job{}, err
	}
	return s.jobs.fire(key, tr, now)
}

func (s *fileStore) FinishJob(_ context.Context, key Key, tr Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.jobs.owns(key, tr); err != nil {
		return err
	}
	if err := s.appendLocked(journalRecord{At: time.Now().UnixMilli(), Del: []Key{key}}); err != nil {
		return err
	}
	return s.jobs.finish(key, tr)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.audit).Encode(e)
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := until.UnixMilli()
	if err := s.appendLocked(journalRecord{At: time.Now().UnixMilli(), Dedup: &dedupRecord{Key: key, Until: ms}}); err != nil {
		return err
	}
	s.dedup[key] = ms
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journal != nil {
		if err := s.compactLocked(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, s.journal.Close())
		s.journal = nil
	}
	if s.audit != nil {
		errs = append(errs, s.audit.Close())
		s.audit = nil
	}
	return errors.Join(errs...)
}
