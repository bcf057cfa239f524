package storage

import (
	"sort"
	"time"
)

// jobTable is the in-memory job index shared by the memory and file
// drivers. Callers hold their own lock.
type jobTable map[Key]Job

func (t jobTable) save(put []Job, del []Key, now time.Time) []Job {
	for _, k := range del {
		delete(t, k)
	}
	stored := make([]Job, 0, len(put))
	for _, j := range put {
		j = j.Clone()
		if prev, ok := t[j.Key]; ok && !prev.CreatedAt.IsZero() && j.CreatedAt.IsZero() {
			j.CreatedAt = prev.CreatedAt
		}
		if j.CreatedAt.IsZero() {
			j.CreatedAt = now
		}
		j.UpdatedAt = now
		t[j.Key] = j
		stored = append(stored, j)
	}
	return stored
}

func (t jobTable) remove(key Key, linked []Key) error {
	if _, ok := t[key]; !ok {
		return ErrNotFound
	}
	delete(t, key)
	for _, k := range linked {
		delete(t, k)
	}
	return nil
}

// owns checks that the stored job at key runs tr.
func (t jobTable) owns(key Key, tr Trigger) error {
	j, ok := t[key]
	if !ok {
		return ErrNotFound
	}
	if !tr.Continues(j.Trigger) {
		return ErrTriggerReplaced
	}
	return nil
}

func (t jobTable) fire(key Key, tr Trigger, now time.Time) (Job, error) {
	if err := t.owns(key, tr); err != nil {
		return Job{}, err
	}
	j := t[key]
	j.Trigger = &tr
	j.UpdatedAt = now
	t[key] = j
	return j.Clone(), nil
}

func (t jobTable) finish(key Key, tr Trigger) error {
	if err := t.owns(key, tr); err != nil {
		return err
	}
	delete(t, key)
	return nil
}

func (t jobTable) get(key Key) (Job, error) {
	j, ok := t[key]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j.Clone(), nil
}

func (t jobTable) list(owner int64, all bool) []Job {
	out := make([]Job, 0)
	for k, j := range t {
		if all || k.Owner == owner {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Owner != out[b].Owner {
			return out[a].Owner < out[b].Owner
		}
		return out[a].Name < out[b].Name
	})
	return out
}

func pruneExpiredDedup(m map[string]int64, now time.Time) {
	ms := now.UnixMilli()
	for k, v := range m {
		if v < ms {
			delete(m, k)
		}
	}
}
