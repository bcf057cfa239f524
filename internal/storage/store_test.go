package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "remindbot/pkg/logx"
)

func openers(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	return map[string]func() Store{
		"memory": func() Store { return NewMemory() },
		"file": func() Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "jobs.json")}, logx.Nop())
			if err != nil {
				t.Fatalf("open file: %v", err)
			}
			return st
		},
		"sqlite": func() Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "jobs.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return st
		},
	}
}

func sampleJob(owner int64, name string) Job {
	return Job{
		Key:     Key{Owner: owner, Name: name},
		ChatID:  owner * 10,
		Kind:    KindReminder,
		Message: "msg " + name,
		Task:    json.RawMessage(`{"name":"` + name + `"}`),
		Trigger: &Trigger{ID: "t-" + name, Kind: TriggerOnce, Start: time.Date(2030, 1, 2, 3, 4, 0, 0, time.UTC)},
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range openers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			defer st.Close()

			if err := st.SaveJobs(ctx, []Job{sampleJob(1, "b"), sampleJob(1, "a"), sampleJob(2, "a")}, nil); err != nil {
				t.Fatalf("save: %v", err)
			}

			jobs, err := st.ListJobs(ctx, 1)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(jobs) != 2 || jobs[0].Name != "a" || jobs[1].Name != "b" {
				t.Fatalf("list order: %+v", jobs)
			}
			if jobs[0].Reminder != nil {
				t.Fatalf("empty payload should stay nil, got %q", jobs[0].Reminder)
			}
			if jobs[0].Trigger == nil || !jobs[0].Trigger.Start.Equal(time.Date(2030, 1, 2, 3, 4, 0, 0, time.UTC)) {
				t.Fatalf("trigger not round-tripped: %+v", jobs[0].Trigger)
			}

			// Overwrite keeps a single row and replaces the payload.
			over := sampleJob(1, "a")
			over.Message = "second"
			if err := st.SaveJobs(ctx, []Job{over}, []Key{{Owner: 1, Name: "b"}}); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			jobs, _ = st.ListJobs(ctx, 1)
			if len(jobs) != 1 || jobs[0].Message != "second" {
				t.Fatalf("after overwrite: %+v", jobs)
			}

			tr := *over.Trigger
			tr.Fired, tr.Next = 1, 1
			got, err := st.RecordFire(ctx, over.Key, tr)
			if err != nil || got.Trigger.Fired != 1 {
				t.Fatalf("record fire: %+v %v", got.Trigger, err)
			}
			if _, err := st.RecordFire(ctx, Key{Owner: 9, Name: "x"}, tr); !errors.Is(err, ErrNotFound) {
				t.Fatalf("record fire on missing job: %v", err)
			}

			// Delete of a missing key must not touch linked keys.
			if err := st.DeleteJob(ctx, Key{Owner: 2, Name: "zz"}, Key{Owner: 2, Name: "a"}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("delete missing: %v", err)
			}
			if _, err := st.GetJob(ctx, Key{Owner: 2, Name: "a"}); err != nil {
				t.Fatalf("linked job removed by failed delete: %v", err)
			}
			if err := st.DeleteJob(ctx, Key{Owner: 1, Name: "a"}, Key{Owner: 2, Name: "a"}); err != nil {
				t.Fatalf("delete: %v", err)
			}
			all, _ := st.AllJobs(ctx)
			if len(all) != 0 {
				t.Fatalf("expected empty table, got %+v", all)
			}

			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			if err := st.PutDedup(ctx, "k", until); err != nil {
				t.Fatalf("put dedup: %v", err)
			}
			if u, ok, err := st.GetDedup(ctx, "k"); err != nil || !ok || !u.Equal(until) {
				t.Fatalf("get dedup: %v %v %v", u, ok, err)
			}
			if err := st.AppendAudit(ctx, AuditEntry{ActorID: 1, Action: "complete", Target: "1/a"}); err != nil {
				t.Fatalf("audit: %v", err)
			}
		})
	}
}

func TestFireProgressFollowsTriggerIdentity(t *testing.T) {
	for name, open := range openers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			defer st.Close()

			old := sampleJob(1, "x")
			if err := st.SaveJobs(ctx, []Job{old}, nil); err != nil {
				t.Fatalf("save: %v", err)
			}
			stale := *old.Trigger
			stale.Next, stale.Fired = 1, 1

			// The job is rescheduled before the taken fire is recorded.
			cur := sampleJob(1, "x")
			cur.Trigger.ID = "t-x-2"
			cur.Trigger.Start = cur.Trigger.Start.Add(24 * time.Hour)
			if err := st.SaveJobs(ctx, []Job{cur}, nil); err != nil {
				t.Fatalf("reschedule: %v", err)
			}

			if _, err := st.RecordFire(ctx, cur.Key, stale); !errors.Is(err, ErrTriggerReplaced) || !errors.Is(err, ErrNotFound) {
				t.Fatalf("stale record fire: %v", err)
			}
			if err := st.FinishJob(ctx, cur.Key, stale); !errors.Is(err, ErrTriggerReplaced) {
				t.Fatalf("stale finish: %v", err)
			}
			got, err := st.GetJob(ctx, cur.Key)
			if err != nil || got.Trigger == nil || got.Trigger.ID != "t-x-2" || got.Trigger.Next != 0 {
				t.Fatalf("rescheduled job = %+v, %v", got.Trigger, err)
			}

			// Same trigger, retried fire and progress are accepted; going back is not.
			next := *cur.Trigger
			next.Next, next.Fired = 1, 1
			for i := 0; i < 2; i++ {
				if _, err := st.RecordFire(ctx, cur.Key, next); err != nil {
					t.Fatalf("record fire #%d: %v", i, err)
				}
			}
			back := *cur.Trigger
			if _, err := st.RecordFire(ctx, cur.Key, back); !errors.Is(err, ErrTriggerReplaced) {
				t.Fatalf("rewind accepted: %v", err)
			}

			if err := st.FinishJob(ctx, cur.Key, next); err != nil {
				t.Fatalf("finish: %v", err)
			}
			if _, err := st.GetJob(ctx, cur.Key); !errors.Is(err, ErrNotFound) {
				t.Fatalf("finished job kept: %v", err)
			}
			if err := st.FinishJob(ctx, cur.Key, next); !errors.Is(err, ErrNotFound) {
				t.Fatalf("finish missing: %v", err)
			}
		})
	}
}

func TestFileStoreReplaysJournal(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.SaveJobs(ctx, []Job{sampleJob(1, "a"), sampleJob(1, "b")}, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.DeleteJob(ctx, Key{Owner: 1, Name: "b"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	tr := *sampleJob(1, "a").Trigger
	tr.Next, tr.Fired = 1, 1
	if _, err := st.RecordFire(ctx, Key{Owner: 1, Name: "a"}, tr); err != nil {
		t.Fatalf("fire: %v", err)
	}
	// Simulate a crash: drop the handle without Close so only the journal has the data.
	fs := st.(*fileStore)
	fs.mu.Lock()
	_ = fs.journal.Close()
	fs.journal = nil
	fs.mu.Unlock()

	re, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer re.Close()
	jobs, _ := re.ListJobs(ctx, 1)
	if len(jobs) != 1 || jobs[0].Name != "a" || jobs[0].Trigger == nil || jobs[0].Trigger.Fired != 1 {
		t.Fatalf("replayed state: %+v", jobs)
	}
}

func TestDollarRebind(t *testing.T) {
	t.Parallel()
	got := dollarRebind("UPDATE jobs SET a = ? WHERE b = ? AND c = ?")
	if got != "UPDATE jobs SET a = $1 WHERE b = $2 AND c = $3" {
		t.Fatalf("rebind: %q", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatalf("expected missing path error")
	}
}
