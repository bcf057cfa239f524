package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/todo"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var testNow = time.Date(2030, time.June, 1, 12, 0, 0, 0, time.UTC)

type fakeTriggers struct {
	mu  sync.Mutex
	set map[string]storage.Trigger
	fns map[string]scheduler.FireFunc
}

func newFakeTriggers() *fakeTriggers {
	return &fakeTriggers{set: map[string]storage.Trigger{}, fns: map[string]scheduler.FireFunc{}}
}

func (f *fakeTriggers) AddTrigger(name string, tr storage.Trigger, _ time.Duration, fn scheduler.FireFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set[name] = tr
	f.fns[name] = fn
	return nil
}

func (f *fakeTriggers) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.set[name]
	delete(f.set, name)
	delete(f.fns, name)
	return ok
}

func (f *fakeTriggers) Triggers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.set))
	for k := range f.set {
		out = append(out, k)
	}
	return out
}

func (f *fakeTriggers) Location() *time.Location { return time.UTC }

// lastFire returns the installed fire func of name and the fire the scheduler
// would hand it for the trigger's first point, treated as the last one.
func (f *fakeTriggers) lastFire(t *testing.T, name string) (scheduler.FireFunc, scheduler.Fire) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, ok := f.fns[name]
	if !ok {
		t.Fatalf("no trigger %s", name)
	}
	tr := f.set[name]
	nominal := tr.Start
	tr.Next, tr.Fired, tr.LastFire = 1, 1, nominal
	return fn, scheduler.Fire{Name: name, Trigger: tr, Nominal: nominal, At: nominal, Last: true}
}

func (f *fakeTriggers) has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.set[name]
	return ok
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []kit.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, m kit.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, m)
	return nil
}

func (n *fakeNotifier) all() []kit.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]kit.Notification(nil), n.sent...)
}

func newTestService(t *testing.T) (*Service, storage.Store, *fakeTriggers, *fakeNotifier) {
	t.Helper()
	st := storage.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	tr := newFakeTriggers()
	nt := &fakeNotifier{}
	return New(st, tr, nt, Options{Now: func() time.Time { return testNow }}), st, tr, nt
}

func task(name string) todo.Task {
	return todo.Task{ChatID: 10, OwnerID: 1, Name: name, Description: "d", Tags: []string{"home"}}
}

func reminderAt(name string, deadline time.Time) todo.Reminder {
	return todo.Reminder{
		Task:       task(name),
		Scheduled:  deadline.Format(todo.DateLayout),
		RepeatUnit: todo.Days,
		CreatedAt:  testNow.Format(todo.DateLayout),
	}
}

func TestPlanTriggers(t *testing.T) {
	t.Parallel()

	deadline := testNow.Add(48 * time.Hour)
	tests := []struct {
		name    string
		mutate  func(*todo.Reminder)
		main    storage.Trigger
		pre     *storage.Trigger
		wantErr error
	}{
		{
			name: "one shot",
			main: storage.Trigger{Kind: storage.TriggerOnce, Start: deadline},
		},
		{
			name:   "every two hours",
			mutate: func(r *todo.Reminder) { r.RepeatInterval, r.RepeatUnit = 2, todo.Hours },
			main:   storage.Trigger{Kind: storage.TriggerInterval, Start: deadline, Every: 120},
		},
		{
			name:   "monthly is thirty days",
			mutate: func(r *todo.Reminder) { r.RepeatInterval, r.RepeatUnit = 1, todo.Months },
			main:   storage.Trigger{Kind: storage.TriggerInterval, Start: deadline, Every: 30 * 24 * 60},
		},
		{
			name:   "yearly is calendar",
			mutate: func(r *todo.Reminder) { r.RepeatInterval, r.RepeatUnit = 1, todo.Years },
			main:   storage.Trigger{Kind: storage.TriggerCalendar, Start: deadline, Every: 1},
		},
		{
			name:   "default pre-deadline",
			mutate: func(r *todo.Reminder) { r.MinutesBefore, r.RemindTimes = 15, 1 },
			main:   storage.Trigger{Kind: storage.TriggerOnce, Start: deadline},
			pre:    &storage.Trigger{Kind: storage.TriggerOnce, Start: deadline.Add(-15 * time.Minute)},
		},
		{
			name:   "repeated pre-deadline",
			mutate: func(r *todo.Reminder) { r.MinutesBefore, r.RemindTimes, r.RemindInterval = 30, 3, 9 },
			main:   storage.Trigger{Kind: storage.TriggerOnce, Start: deadline},
			pre:    &storage.Trigger{Kind: storage.TriggerRepeat, Start: deadline.Add(-30 * time.Minute), Every: 9, Count: 3},
		},
		{
			name:   "minutes only",
			mutate: func(r *todo.Reminder) { r.MinutesBefore = 20 },
			main:   storage.Trigger{Kind: storage.TriggerOnce, Start: deadline},
			pre:    &storage.Trigger{Kind: storage.TriggerOnce, Start: deadline.Add(-20 * time.Minute)},
		},
		{
			name:    "reserved name",
			mutate:  func(r *todo.Reminder) { r.Task.Name = PreDeadlinePrefix + "call" },
			wantErr: todo.ErrReservedName,
		},
		{
			name:   "times without interval",
			mutate: func(r *todo.Reminder) { r.MinutesBefore, r.RemindTimes = 30, 3 },
			main:   storage.Trigger{Kind: storage.TriggerOnce, Start: deadline},
			pre:    &storage.Trigger{Kind: storage.TriggerOnce, Start: deadline.Add(-30 * time.Minute)},
		},
		{
			name:    "blank name",
			mutate:  func(r *todo.Reminder) { r.Task.Name = " " },
			wantErr: todo.ErrBlankName,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := reminderAt("call", deadline)
			if tt.mutate != nil {
				tt.mutate(&r)
			}
			jobs, err := Plan(r, time.UTC)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Plan: %v", err)
			}
			if got := *jobs[0].Trigger; got.Kind != tt.main.Kind || !got.Start.Equal(tt.main.Start) || got.Every != tt.main.Every {
				t.Fatalf("main trigger = %+v want %+v", got, tt.main)
			}
			if tt.pre == nil {
				if len(jobs) != 1 {
					t.Fatalf("unexpected pre-deadline job %+v", jobs[1])
				}
				return
			}
			if len(jobs) != 2 || jobs[1].Name != "remindBefore-call" || jobs[1].Kind != storage.KindRemindBefore {
				t.Fatalf("jobs = %+v", jobs)
			}
			got := *jobs[1].Trigger
			if got.Kind != tt.pre.Kind || !got.Start.Equal(tt.pre.Start) || got.Every != tt.pre.Every || got.Count != tt.pre.Count {
				t.Fatalf("pre trigger = %+v want %+v", got, *tt.pre)
			}
		})
	}
}

func TestAddTaskListsCommittedSnapshot(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	want := task("buy milk")
	if err := svc.AddTask(ctx, 1, want); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := svc.AddTask(ctx, 1, want); err != nil {
		t.Fatalf("AddTask again: %v", err)
	}
	snap, err := svc.ListTasks(ctx, 1)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if snap.Len() != 1 {
		t.Fatalf("entries = %+v", snap.Entries)
	}
	got := snap.Entries[0].Task
	if got.Name != want.Name || got.Description != want.Description || len(got.Tags) != 1 || got.Tags[0] != "home" {
		t.Fatalf("listed %+v want %+v", got, want)
	}
	if rs, _ := svc.ListReminders(ctx, 1); rs.Len() != 0 {
		t.Fatalf("task listed as reminder: %+v", rs.Entries)
	}
}

func TestScheduleThenAddTaskDropsPreDeadlineJob(t *testing.T) {
	t.Parallel()
	svc, st, tr, _ := newTestService(t)
	ctx := context.Background()

	r := reminderAt("call", testNow.Add(time.Hour))
	r.MinutesBefore, r.RemindTimes = 15, 1
	if err := svc.ScheduleReminder(ctx, 1, r); err != nil {
		t.Fatalf("ScheduleReminder: %v", err)
	}
	if !tr.has("1/call") || !tr.has("1/remindBefore-call") {
		t.Fatalf("triggers = %v", tr.Triggers())
	}

	if err := svc.AddTask(ctx, 1, task("call")); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := st.GetJob(ctx, storage.Key{Owner: 1, Name: "remindBefore-call"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("pre-deadline job survived: %v", err)
	}
	if tr.has("1/call") || tr.has("1/remindBefore-call") {
		t.Fatalf("stale triggers: %v", tr.Triggers())
	}
}

func TestCancelTwice(t *testing.T) {
	t.Parallel()
	svc, _, tr, _ := newTestService(t)
	ctx := context.Background()

	r := reminderAt("call", testNow.Add(time.Hour))
	r.MinutesBefore, r.RemindTimes = 15, 1
	if err := svc.ScheduleReminder(ctx, 1, r); err != nil {
		t.Fatalf("ScheduleReminder: %v", err)
	}
	key := storage.Key{Owner: 1, Name: "call"}
	if err := svc.Cancel(ctx, 1, key); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := svc.Cancel(ctx, 1, key); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second cancel: %v", err)
	}
	if len(tr.Triggers()) != 0 {
		t.Fatalf("triggers left: %v", tr.Triggers())
	}
}

func TestPositionalListingConsistency(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	for i, name := range []string{"A", "B", "C"} {
		if err := svc.ScheduleReminder(ctx, 1, reminderAt(name, testNow.Add(time.Duration(i+1)*time.Hour))); err != nil {
			t.Fatalf("schedule %s: %v", name, err)
		}
	}
	old, err := svc.ListReminders(ctx, 1)
	if err != nil || old.Len() != 3 || old.Entries[1].Key.Name != "B" {
		t.Fatalf("listing = %+v err=%v", old.Entries, err)
	}

	e, err := svc.Resolve(old, 1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	job, err := svc.Complete(ctx, 1, e.Key)
	if err != nil || job.Name != "B" {
		t.Fatalf("Complete = %+v, %v", job, err)
	}

	fresh, _ := svc.ListReminders(ctx, 1)
	for _, e := range fresh.Entries {
		if e.Key.Name == "B" {
			t.Fatal("completed reminder still listed")
		}
	}
	_, err = svc.Resolve(old, 1)
	if !errors.Is(err, ErrStaleSnapshot) || !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("stale resolve err = %v", err)
	}
	if _, err := svc.Resolve(fresh, 5); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("out of range err = %v", err)
	}
}

func TestFireNotifiesAndDeletesExhaustedJob(t *testing.T) {
	t.Parallel()
	svc, st, tr, nt := newTestService(t)
	ctx := context.Background()

	if err := svc.ScheduleReminder(ctx, 1, reminderAt("call", testNow.Add(time.Hour))); err != nil {
		t.Fatalf("ScheduleReminder: %v", err)
	}
	fn, f := tr.lastFire(t, "1/call")
	if err := fn(ctx, f); err != nil {
		t.Fatalf("fire: %v", err)
	}
	sent := nt.all()
	if len(sent) != 1 || sent[0].Target.ChatID != 10 || sent[0].Key != "1/call@2030-06-01T13:00:00Z" {
		t.Fatalf("sent = %+v", sent)
	}
	if _, err := st.GetJob(ctx, storage.Key{Owner: 1, Name: "call"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("exhausted job kept: %v", err)
	}

	// A fire racing a deletion is skipped.
	if err := fn(ctx, f); err != nil {
		t.Fatalf("fire after delete: %v", err)
	}
	if len(nt.all()) != 1 {
		t.Fatal("deleted job notified")
	}
}

func TestStaleFireAfterRescheduleKeepsNewJob(t *testing.T) {
	t.Parallel()
	svc, st, tr, nt := newTestService(t)
	ctx := context.Background()
	key := storage.Key{Owner: 1, Name: "call"}

	d1, d2 := testNow.Add(time.Hour), testNow.Add(3*time.Hour)
	if err := svc.ScheduleReminder(ctx, 1, reminderAt("call", d1)); err != nil {
		t.Fatalf("schedule d1: %v", err)
	}
	oldFn, oldFire := tr.lastFire(t, "1/call")

	if err := svc.ScheduleReminder(ctx, 1, reminderAt("call", d2)); err != nil {
		t.Fatalf("schedule d2: %v", err)
	}
	// The fire for d1 was already taken when the reminder moved to d2.
	if err := oldFn(ctx, oldFire); err != nil {
		t.Fatalf("stale fire: %v", err)
	}
	if len(nt.all()) != 0 {
		t.Fatalf("stale fire notified: %+v", nt.all())
	}
	job, err := st.GetJob(ctx, key)
	if err != nil {
		t.Fatalf("rescheduled job lost: %v", err)
	}
	if job.Trigger == nil || !job.Trigger.Start.Equal(d2) || job.Trigger.Next != 0 || job.Trigger.Fired != 0 {
		t.Fatalf("rescheduled trigger = %+v", job.Trigger)
	}

	// The new trigger still fires and finishes normally.
	fn, f := tr.lastFire(t, "1/call")
	if err := fn(ctx, f); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if sent := nt.all(); len(sent) != 1 || sent[0].Key != "1/call@2030-06-01T15:00:00Z" {
		t.Fatalf("sent = %+v", sent)
	}
	if _, err := st.GetJob(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("exhausted job kept: %v", err)
	}
}

func TestRescheduleReplacesPreDeadlineTrigger(t *testing.T) {
	t.Parallel()
	svc, st, tr, nt := newTestService(t)
	ctx := context.Background()
	pre := storage.Key{Owner: 1, Name: "remindBefore-call"}

	r := reminderAt("call", testNow.Add(time.Hour))
	r.MinutesBefore, r.RemindTimes = 15, 1
	if err := svc.ScheduleReminder(ctx, 1, r); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	oldFn, oldFire := tr.lastFire(t, "1/remindBefore-call")

	d2 := testNow.Add(5 * time.Hour)
	r2 := reminderAt("call", d2)
	r2.MinutesBefore, r2.RemindTimes, r2.RemindInterval = 60, 2, 10
	if err := svc.ScheduleReminder(ctx, 1, r2); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	job, err := st.GetJob(ctx, pre)
	if err != nil {
		t.Fatalf("pre-deadline job: %v", err)
	}
	want := d2.Add(-time.Hour)
	if job.Trigger == nil || job.Trigger.Kind != storage.TriggerRepeat || !job.Trigger.Start.Equal(want) || job.Trigger.Count != 2 {
		t.Fatalf("stored pre trigger = %+v", job.Trigger)
	}
	_, installed := tr.lastFire(t, "1/remindBefore-call")
	if !installed.Nominal.Equal(want) || installed.Trigger.ID != job.Trigger.ID {
		t.Fatalf("installed pre trigger = %+v", installed.Trigger)
	}

	if err := oldFn(ctx, oldFire); err != nil {
		t.Fatalf("stale pre fire: %v", err)
	}
	if len(nt.all()) != 0 {
		t.Fatalf("stale pre fire notified: %+v", nt.all())
	}
	if _, err := st.GetJob(ctx, pre); err != nil {
		t.Fatalf("stale pre fire removed the new job: %v", err)
	}

	// Rescheduling without a pre-deadline drops it.
	if err := svc.ScheduleReminder(ctx, 1, reminderAt("call", d2)); err != nil {
		t.Fatalf("reschedule plain: %v", err)
	}
	if _, err := st.GetJob(ctx, pre); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("pre-deadline job kept: %v", err)
	}
	if tr.has("1/remindBefore-call") {
		t.Fatalf("pre-deadline trigger kept: %v", tr.Triggers())
	}
}

func TestPlanAssignsFreshTriggerIDs(t *testing.T) {
	t.Parallel()

	r := reminderAt("call", testNow.Add(time.Hour))
	r.MinutesBefore, r.RemindTimes = 15, 1
	a, err := Plan(r, time.UTC)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	b, _ := Plan(r, time.UTC)
	if a[0].Trigger.ID == "" || a[1].Trigger.ID == "" || a[0].Trigger.ID == a[1].Trigger.ID {
		t.Fatalf("ids = %q %q", a[0].Trigger.ID, a[1].Trigger.ID)
	}
	if a[0].Trigger.ID == b[0].Trigger.ID {
		t.Fatalf("replanning reused trigger id %q", a[0].Trigger.ID)
	}

	r.RepeatInterval, r.RepeatUnit = 200000000, todo.Months
	if _, err := Plan(r, time.UTC); !errors.Is(err, todo.ErrRepeatRange) {
		t.Fatalf("huge repeat = %v", err)
	}
}

func TestRecoverAndReconcile(t *testing.T) {
	t.Parallel()
	svc, st, tr, _ := newTestService(t)
	ctx := context.Background()

	live := reminderAt("live", testNow.Add(time.Hour))
	jobs, _ := Plan(live, time.UTC)
	spent := reminderAt("spent", testNow.Add(-time.Hour))
	spentJobs, _ := Plan(spent, time.UTC)
	spentJobs[0].Trigger.Next, spentJobs[0].Trigger.Fired = 1, 1
	if err := st.SaveJobs(ctx, append(jobs, spentJobs...), nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	n, err := svc.Recover(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Recover = %d, %v", n, err)
	}
	if !tr.has("1/live") || tr.has("1/spent") {
		t.Fatalf("triggers = %v", tr.Triggers())
	}
	if _, err := st.GetJob(ctx, storage.Key{Owner: 1, Name: "spent"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("spent job kept: %v", err)
	}

	// Cancelled behind the service's back, plus a stray trigger.
	if err := st.DeleteJob(ctx, storage.Key{Owner: 1, Name: "live"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_ = tr.AddTrigger("9/ghost", storage.Trigger{Kind: storage.TriggerOnce, Start: testNow}, 0, nil)
	other, _ := Plan(reminderAt("other", testNow.Add(2*time.Hour)), time.UTC)
	if err := st.SaveJobs(ctx, other, nil); err != nil {
		t.Fatalf("seed other: %v", err)
	}

	if err := svc.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if tr.has("1/live") || tr.has("9/ghost") || !tr.has("1/other") {
		t.Fatalf("triggers after reconcile = %v", tr.Triggers())
	}
}

func TestOverdueReminderFiresThroughScheduler(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	eng.Start(context.Background())
	sch := scheduler.New(scheduler.Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop(), nil)
	sch.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sch.Stop(ctx)
		eng.Stop(ctx)
	})

	nt := &fakeNotifier{}
	svc := New(st, sch, nt, Options{})
	ctx := context.Background()

	// Stored while the process was down; the deadline passed two hours ago
	// on a one-hour cadence, so exactly one catch-up fire is expected.
	r := reminderAt("standup", time.Now().UTC().Add(-2*time.Hour-time.Minute).Truncate(time.Minute))
	r.RepeatInterval, r.RepeatUnit = 1, todo.Hours
	jobs, err := Plan(r, time.UTC)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if err := st.SaveJobs(ctx, jobs, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(nt.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if got := len(nt.all()); got != 1 {
		t.Fatalf("notifications = %d want 1", got)
	}
	job, err := st.GetJob(ctx, storage.Key{Owner: 1, Name: "standup"})
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if job.Trigger.Fired != 1 || job.Trigger.Next != 3 {
		t.Fatalf("persisted trigger = %+v", job.Trigger)
	}
}
