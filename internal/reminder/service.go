package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/todo"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// ErrStaleSnapshot is returned when a listing position is used after the
// owner's jobs changed. It matches storage.ErrNotFound.
var ErrStaleSnapshot = fmt.Errorf("listing is out of date: %w", storage.ErrNotFound)

const defaultFireTimeout = 30 * time.Second

// Triggers is the part of the scheduler the service drives.
type Triggers interface {
	AddTrigger(name string, tr storage.Trigger, timeout time.Duration, fn scheduler.FireFunc) error
	Remove(name string) bool
	Triggers() []string
	Location() *time.Location
}

type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

type Options struct {
	Log         logx.Logger
	Bus         eventbus.Bus
	Now         func() time.Time
	FireTimeout time.Duration
}

type Service struct {
	store  storage.Store
	sched  Triggers
	notify Notifier
	log    logx.Logger
	bus    eventbus.Bus
	now    func() time.Time
	fireTO time.Duration

	gmu  sync.Mutex
	gens map[int64]uint64
}

func New(store storage.Store, sched Triggers, notify Notifier, opt Options) *Service {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.FireTimeout <= 0 {
		opt.FireTimeout = defaultFireTimeout
	}
	return &Service{
		store:  store,
		sched:  sched,
		notify: notify,
		log:    opt.Log.With(logx.String("comp", "reminder")),
		bus:    opt.Bus,
		now:    opt.Now,
		fireTO: opt.FireTimeout,
		gens:   map[int64]uint64{},
	}
}

// Location is the zone deadlines are entered and evaluated in.
func (s *Service) Location() *time.Location { return s.sched.Location() }

// Now returns the service clock in Location.
func (s *Service) Now() time.Time { return s.now().In(s.Location()) }

// AddTask stores t as a plain task, replacing any job of the same name
// together with its pre-deadline job and triggers.
func (s *Service) AddTask(ctx context.Context, actor int64, t todo.Task) error {
	job, err := TaskJob(t)
	if err != nil {
		return err
	}
	err = s.store.SaveJobs(ctx, []storage.Job{job}, []storage.Key{preKey(job.Key)})
	s.audit(ctx, actor, job.ChatID, "add_task", job.Key, err)
	if err != nil {
		return fmt.Errorf("save task %s: %w", job.Key, err)
	}
	s.sched.Remove(job.Key.String())
	s.sched.Remove(preKey(job.Key).String())
	s.bump(job.Key.Owner)
	s.publish("reminder.saved", job.Key)
	return nil
}

// ScheduleReminder stores the jobs of r and installs their triggers.
func (s *Service) ScheduleReminder(ctx context.Context, actor int64, r todo.Reminder) error {
	jobs, err := Plan(r, s.Location())
	if err != nil {
		return err
	}
	main := jobs[0].Key
	var del []storage.Key
	if len(jobs) == 1 {
		del = append(del, preKey(main))
	}
	err = s.store.SaveJobs(ctx, jobs, del)
	s.audit(ctx, actor, jobs[0].ChatID, "schedule", main, err)
	if err != nil {
		return fmt.Errorf("save reminder %s: %w", main, err)
	}
	s.bump(main.Owner)
	for _, k := range del {
		s.sched.Remove(k.String())
	}

	var errs []error
	for _, j := range jobs {
		if err := s.install(j); err != nil {
			errs = append(errs, err)
		}
	}
	s.publish("reminder.saved", main)
	return errors.Join(errs...)
}

func (s *Service) install(j storage.Job) error {
	if j.Trigger == nil {
		return nil
	}
	if err := s.sched.AddTrigger(j.Key.String(), *j.Trigger, s.fireTO, s.fireFunc(j.Key)); err != nil {
		return fmt.Errorf("install trigger %s: %w", j.Key, err)
	}
	return nil
}

// Complete deletes key and its pre-deadline job and returns what was stored.
func (s *Service) Complete(ctx context.Context, actor int64, key storage.Key) (storage.Job, error) {
	job, err := s.store.GetJob(ctx, key)
	if err != nil {
		return storage.Job{}, err
	}
	if err := s.remove(ctx, actor, job.ChatID, "complete", key); err != nil {
		return storage.Job{}, err
	}
	return job, nil
}

// Cancel deletes key and its pre-deadline job. A missing key yields
// storage.ErrNotFound and changes nothing.
func (s *Service) Cancel(ctx context.Context, actor int64, key storage.Key) error {
	return s.remove(ctx, actor, 0, "cancel", key)
}

func (s *Service) remove(ctx context.Context, actor, chatID int64, action string, key storage.Key) error {
	err := s.store.DeleteJob(ctx, key, preKey(key))
	s.audit(ctx, actor, chatID, action, key, err)
	if err != nil {
		return err
	}
	s.sched.Remove(key.String())
	s.sched.Remove(preKey(key).String())
	s.bump(key.Owner)
	s.publish("reminder."+action, key)
	return nil
}

// Generation is the owner's mutation counter used to stamp listings.
func (s *Service) Generation(owner int64) uint64 {
	s.gmu.Lock()
	defer s.gmu.Unlock()
	return s.gens[owner]
}

func (s *Service) bump(owner int64) {
	s.gmu.Lock()
	s.gens[owner]++
	s.gmu.Unlock()
}

func (s *Service) audit(ctx context.Context, actor, chatID int64, action string, key storage.Key, err error) {
	e := storage.AuditEntry{At: s.now(), ActorID: actor, ChatID: chatID, Action: action, Target: key.String()}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := s.store.AppendAudit(ctx, e); aerr != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.String("job", key.String()), logx.Err(aerr))
	}
}

func (s *Service) publish(typ string, key storage.Key) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: key.String()})
	}
}
