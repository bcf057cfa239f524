package reminder

import (
	"context"
	"sort"
	"time"

	"remindbot/internal/storage"
	"remindbot/internal/todo"
)

// Entry is one position of a listing.
type Entry struct {
	Key      storage.Key
	Task     todo.Task
	Reminder *todo.Reminder
	Deadline time.Time
}

// Snapshot is a positional listing of one owner's jobs, valid until the
// owner's next mutation.
type Snapshot struct {
	Owner   int64
	Gen     uint64
	Entries []Entry
}

func (s Snapshot) Len() int { return len(s.Entries) }

// ListTasks returns the owner's plain tasks ordered by name.
func (s *Service) ListTasks(ctx context.Context, owner int64) (Snapshot, error) {
	gen := s.Generation(owner)
	jobs, err := s.store.ListJobs(ctx, owner)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Owner: owner, Gen: gen}
	for _, j := range jobs {
		if IsPreDeadline(j.Name) || len(j.Reminder) > 0 {
			continue
		}
		t, ok := decodeTask(j)
		if !ok {
			continue
		}
		snap.Entries = append(snap.Entries, Entry{Key: j.Key, Task: t})
	}
	return snap, nil
}

// ListReminders returns the owner's reminders ordered by deadline.
func (s *Service) ListReminders(ctx context.Context, owner int64) (Snapshot, error) {
	gen := s.Generation(owner)
	jobs, err := s.store.ListJobs(ctx, owner)
	if err != nil {
		return Snapshot{}, err
	}
	loc := s.Location()
	snap := Snapshot{Owner: owner, Gen: gen}
	for _, j := range jobs {
		if IsPreDeadline(j.Name) {
			continue
		}
		r, ok := decodeReminder(j)
		if !ok {
			continue
		}
		d, _ := r.Deadline(loc)
		snap.Entries = append(snap.Entries, Entry{Key: j.Key, Task: r.Task, Reminder: &r, Deadline: d})
	}
	sort.SliceStable(snap.Entries, func(a, b int) bool {
		return snap.Entries[a].Deadline.Before(snap.Entries[b].Deadline)
	})
	return snap, nil
}

// Resolve returns the entry at pos. Any mutation of the owner's jobs since
// the listing was taken yields ErrStaleSnapshot.
func (s *Service) Resolve(snap Snapshot, pos int) (Entry, error) {
	if s.Generation(snap.Owner) != snap.Gen {
		return Entry{}, ErrStaleSnapshot
	}
	if pos < 0 || pos >= len(snap.Entries) {
		return Entry{}, storage.ErrNotFound
	}
	return snap.Entries[pos], nil
}
