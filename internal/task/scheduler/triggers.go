package scheduler

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"remindbot/internal/storage"
)

// maxCalendarSkips bounds the search for an existing calendar date, e.g.
// Feb 29 every 100 years needs four steps from 2000 to reach 2400.
const maxCalendarSkips = 400

const (
	// maxStepMinutes keeps every step and offset a valid time.Duration.
	maxStepMinutes = math.MaxInt64 / int64(time.Minute)
	// maxCalendarYears keeps calendar years far inside int range.
	maxCalendarYears = 10000
)

// ValidateTrigger rejects descriptors that can never fire.
func ValidateTrigger(tr storage.Trigger) error {
	if tr.Start.IsZero() {
		return errors.New("trigger start required")
	}
	switch tr.Kind {
	case storage.TriggerOnce:
	case storage.TriggerInterval:
		if tr.Every <= 0 {
			return fmt.Errorf("%s trigger needs every > 0", tr.Kind)
		}
		if int64(tr.Every) > maxStepMinutes {
			return fmt.Errorf("interval of %d minutes overflows", tr.Every)
		}
	case storage.TriggerCalendar:
		if tr.Every <= 0 {
			return fmt.Errorf("%s trigger needs every > 0", tr.Kind)
		}
		if tr.Every > maxCalendarYears {
			return fmt.Errorf("calendar step of %d years is out of range", tr.Every)
		}
	case storage.TriggerRepeat:
		if tr.Count > 1 && tr.Every <= 0 {
			return errors.New("repeat trigger needs every > 0")
		}
		if tr.Count > 1 && int64(tr.Every) > maxStepMinutes/int64(tr.Count-1) {
			return fmt.Errorf("%d repeats every %d minutes overflow", tr.Count, tr.Every)
		}
	default:
		return fmt.Errorf("unknown trigger kind %q", tr.Kind)
	}
	if tr.Next < 0 {
		return errors.New("trigger index is negative")
	}
	return nil
}

func step(tr storage.Trigger) time.Duration {
	return time.Duration(tr.Every) * time.Minute
}

func repeatCount(tr storage.Trigger) int {
	if tr.Every <= 0 {
		return 1
	}
	return max(tr.Count, 1)
}

// point returns the i-th nominal fire time. ok is false for a calendar date
// that does not exist that year; done is true past the last point.
func point(tr storage.Trigger, i int, loc *time.Location) (t time.Time, ok, done bool) {
	switch tr.Kind {
	case storage.TriggerOnce:
		if i > 0 {
			return time.Time{}, false, true
		}
		return tr.Start, true, false
	case storage.TriggerInterval:
		return tr.Start.Add(time.Duration(i) * step(tr)), true, false
	case storage.TriggerRepeat:
		if i >= repeatCount(tr) {
			return time.Time{}, false, true
		}
		return tr.Start.Add(time.Duration(i) * step(tr)), true, false
	case storage.TriggerCalendar:
		a := tr.Start.In(loc)
		t = time.Date(a.Year()+i*tr.Every, a.Month(), a.Day(), a.Hour(), a.Minute(), 0, 0, loc)
		if t.Month() != a.Month() || t.Day() != a.Day() {
			return time.Time{}, false, false
		}
		return t, true, false
	}
	return time.Time{}, false, true
}

// seek finds the first existing point with index >= from.
func seek(tr storage.Trigger, from int, loc *time.Location) (int, time.Time, bool) {
	for i := from; i < from+maxCalendarSkips; i++ {
		t, ok, done := point(tr, i, loc)
		if done {
			return 0, time.Time{}, false
		}
		if ok {
			return i, t, true
		}
	}
	return 0, time.Time{}, false
}

// firstAfter finds the first existing point with index >= from strictly after now.
func firstAfter(tr storage.Trigger, from int, now time.Time, loc *time.Location) (int, time.Time, bool) {
	if d := step(tr); d > 0 && (tr.Kind == storage.TriggerInterval || tr.Kind == storage.TriggerRepeat) {
		i := from
		if !now.Before(tr.Start) {
			i = max(i, int(now.Sub(tr.Start)/d)+1)
		}
		return seek(tr, i, loc)
	}
	for i := from; ; i++ {
		idx, t, ok := seek(tr, i, loc)
		if !ok {
			return 0, time.Time{}, false
		}
		if t.After(now) {
			return idx, t, true
		}
		i = idx
	}
}

// lastDue finds the latest point at or before now, starting at index from.
// missed counts the earlier existing points it covers.
func lastDue(tr storage.Trigger, from int, now time.Time, loc *time.Location) (idx int, at time.Time, missed int, ok bool) {
	first, t, ok := seek(tr, from, loc)
	if !ok || t.After(now) {
		return 0, time.Time{}, 0, false
	}
	idx, at = first, t

	if d := step(tr); d > 0 && (tr.Kind == storage.TriggerInterval || tr.Kind == storage.TriggerRepeat) {
		k := int(now.Sub(tr.Start) / d)
		if tr.Kind == storage.TriggerRepeat {
			k = min(k, repeatCount(tr)-1)
		}
		if k > idx {
			idx, at = k, tr.Start.Add(time.Duration(k)*d)
		}
		return idx, at, idx - first, true
	}
	for {
		i, t, ok := seek(tr, idx+1, loc)
		if !ok || t.After(now) {
			return idx, at, missed, true
		}
		idx, at = i, t
		missed++
	}
}

// NextAt reports the next pending fire point of tr, which may lie in the past
// when fires were missed.
func NextAt(tr storage.Trigger, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	_, t, ok := seek(tr, tr.Next, loc)
	return t, ok
}

// triggerState is the cron.Schedule of one job trigger. take consumes due
// points; Next only reads them.
type triggerState struct {
	mu    sync.Mutex
	tr    storage.Trigger
	loc   *time.Location
	armed time.Time
}

func newTriggerState(tr storage.Trigger, loc *time.Location) *triggerState {
	if loc == nil {
		loc = time.Local
	}
	return &triggerState{tr: tr, loc: loc}
}

// Next returns the pending point (possibly past) on first use. After cron has
// run the entry for the armed point it returns the first point after now, so
// a fire still being consumed is never scheduled twice.
func (st *triggerState) Next(now time.Time) time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()

	var (
		t  time.Time
		ok bool
	)
	if !st.armed.IsZero() && !st.armed.After(now) {
		_, t, ok = firstAfter(st.tr, st.tr.Next, now, st.loc)
	} else {
		_, t, ok = seek(st.tr, st.tr.Next, st.loc)
	}
	if !ok {
		st.armed = time.Time{}
		return time.Time{}
	}
	st.armed = t
	return t
}

// rearm forgets the armed point so a re-registered entry starts fresh.
func (st *triggerState) rearm() {
	st.mu.Lock()
	st.armed = time.Time{}
	st.mu.Unlock()
}

// take collapses every point at or before now into one fire and advances
// the state past them.
func (st *triggerState) take(now time.Time) (Fire, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	idx, nominal, missed, ok := lastDue(st.tr, st.tr.Next, now, st.loc)
	if !ok {
		return Fire{}, false
	}
	st.tr.Next = idx + 1
	st.tr.Fired++
	st.tr.LastFire = now
	_, _, more := seek(st.tr, st.tr.Next, st.loc)
	return Fire{Trigger: st.tr, Nominal: nominal, At: now, Missed: missed, Last: !more}, true
}

func (st *triggerState) snapshot() storage.Trigger {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.tr
}
