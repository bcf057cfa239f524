package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

// AddSchedule parses schedule and registers a recurring maintenance task.
// Overlapping runs are skipped.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "@hourly", "@every 5m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes)
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(spec); err != nil {
			return fmt.Errorf("schedule %q: %w", schedule, err)
		}
	}
	return s.register(scheduleDef{
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		opt:     TaskOptions{Overlap: OverlapSkipIfRunning, RetryMax: 1},
	})
}

// AddTrigger installs a job trigger under name, replacing any entry with the
// same name. fn runs in the task engine once per collapsed fire.
func (s *Service) AddTrigger(name string, tr storage.Trigger, timeout time.Duration, fn FireFunc) error {
	if fn == nil {
		return errors.New("fire func required")
	}
	if err := ValidateTrigger(tr); err != nil {
		return fmt.Errorf("trigger %q: %w", name, err)
	}
	if _, ok := NextAt(tr, s.Location()); !ok {
		return fmt.Errorf("trigger %q: no fire points left", name)
	}
	return s.register(scheduleDef{
		name:    name,
		spec:    string(tr.Kind),
		timeout: timeout,
		onFire:  fn,
		trig:    newTriggerState(tr, s.Location()),
	})
}

func (s *Service) register(d scheduleDef) error {
	d.name = strings.TrimSpace(d.name)
	if d.name == "" {
		return errors.New("name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Upsert by name.
	s.removeLocked(d.name, nil)
	s.defs = append(s.defs, d)
	if s.c == nil {
		return nil
	}
	added := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(added); err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return err
	}
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("schedule registered",
			logx.String("name", d.name),
			logx.String("spec", d.spec),
			logx.Time("next", s.c.Entry(added.entryID).Next),
		)
	}
	return nil
}

// Has reports whether a definition named name is registered.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.defs {
		if d.name == name {
			return true
		}
	}
	return false
}

// Triggers returns the names of all registered job triggers.
func (s *Service) Triggers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.defs))
	for _, d := range s.defs {
		if d.trig != nil {
			out = append(out, d.name)
		}
	}
	return out
}

// Remove unschedules name. It reports whether something was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeLocked(name, nil)
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// removeLocked drops defs named name. A non-nil only restricts removal to the
// def owning that trigger state, so a replaced trigger survives its
// predecessor's exhaustion.
func (s *Service) removeLocked(name string, only *triggerState) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name && (only == nil || d.trig == only) {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	clear(s.defs[n:])
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	if d.trig != nil {
		d.trig.rearm()
		d.entryID = s.c.Schedule(d.trig, s.triggerJob(d.name, d.timeout, d.trig, d.onFire))
		return nil
	}

	task := engine.Task{Name: d.name, Timeout: d.timeout, Run: d.job, Opt: d.opt}
	job := cron.FuncJob(func() { s.enqueue(task) })
	if every, ok := strings.CutPrefix(d.spec, "@every "); ok {
		if dur, err := time.ParseDuration(strings.TrimSpace(every)); err == nil && dur > 0 {
			sched, jitter := makeIntervalScheduleWithSpread(dur, time.Now().In(s.loc), d.name)
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}
	eid, err := s.c.AddJob(d.spec, job)
	if err == nil {
		d.entryID = eid
	}
	return err
}

func (s *Service) triggerJob(name string, timeout time.Duration, st *triggerState, fn FireFunc) cron.Job {
	return cron.FuncJob(func() {
		f, ok := st.take(time.Now())
		if !ok {
			return
		}
		f.Name = name
		if f.Missed > 0 {
			s.log.Info("trigger caught up", logx.String("name", name), logx.Int("missed", f.Missed), logx.Time("nominal", f.Nominal))
		}
		if f.Last {
			s.mu.Lock()
			s.removeLocked(name, st)
			s.mu.Unlock()
		}
		s.publish("trigger.fired", f)
		if s.engine == nil {
			return
		}
		// The point is already consumed, so wait for queue room rather than drop it.
		ctx, cancel := context.WithTimeout(context.Background(), fireSubmitTimeout)
		defer cancel()
		err := s.engine.Submit(ctx, engine.Task{
			Name:    "fire:" + name,
			Timeout: timeout,
			Run:     func(ctx context.Context) error { return fn(ctx, f) },
		})
		if err != nil {
			s.log.Error("trigger fire lost", logx.String("name", name), logx.Time("nominal", f.Nominal), logx.Err(err))
		}
	})
}

func (s *Service) enqueue(t engine.Task) {
	if s.engine == nil {
		return
	}
	if err := s.engine.Enqueue(t); err != nil {
		s.reportEnqueueError(t.Name, err)
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
	}
}

const (
	enqueueWarnThrottle = 5 * time.Second
	fireSubmitTimeout   = 30 * time.Second
)

func (s *Service) reportEnqueueError(name string, err error) {
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
}
