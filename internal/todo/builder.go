package todo

import "time"

// Builder accumulates reminder parameters one dialog step at a time and
// validates each as it arrives. A session owns exactly one Builder and
// drops it on commit or cancel.
type Builder struct {
	now func() time.Time
	loc *time.Location

	task           Task
	scheduled      time.Time
	repeatInterval int
	repeatUnit     Unit
	minutesBefore  int
	remindTimes    int
	remindInterval int
	createdAt      time.Time
}

// NewBuilder returns a builder with the deadline one day from now, no
// repetition and no pre-deadline notification.
func NewBuilder(now func() time.Time, loc *time.Location) *Builder {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	t := now().In(loc)
	return &Builder{
		now:        now,
		loc:        loc,
		scheduled:  t.Add(24 * time.Hour).Truncate(time.Minute),
		repeatUnit: Days,
		createdAt:  t,
	}
}

func (b *Builder) SetTask(t Task) { b.task = t }

func (b *Builder) Task() Task { return b.task }

// ScheduledAt sets the deadline from text in DateLayout. The deadline must
// lie strictly after now and within HorizonYears.
func (b *Builder) ScheduledAt(text string) error {
	t, err := parseDate(text, b.loc)
	if err != nil {
		return err
	}
	if err := b.checkDeadline(t); err != nil {
		return err
	}
	b.scheduled = t
	return nil
}

func (b *Builder) checkDeadline(t time.Time) error {
	now := b.now().In(b.loc)
	if !t.After(now) || t.After(now.AddDate(HorizonYears, 0, 0)) {
		return ErrDateRange
	}
	return nil
}

// RepeatEvery sets the repeat interval in units of RepeatUnit.
func (b *Builder) RepeatEvery(n int) error {
	if n <= 0 {
		return ErrNotPositive
	}
	if err := CheckRepeat(n, b.repeatUnit); err != nil {
		return err
	}
	b.repeatInterval = n
	return nil
}

// SetRepeatUnit keeps the previous unit when the interval already set would
// exceed the horizon in u.
func (b *Builder) SetRepeatUnit(u Unit) error {
	u, err := ParseUnit(string(u))
	if err != nil {
		return err
	}
	if err := CheckRepeat(b.repeatInterval, u); err != nil {
		return err
	}
	b.repeatUnit = u
	return nil
}

// The three pre-deadline setters store the value and then check the
// notification window against the other two, whichever arrives last.

func (b *Builder) RemindBeforeMinutes(n int) error {
	if n <= 0 {
		return ErrNotPositive
	}
	b.minutesBefore = n
	return checkRemindWindow(b.minutesBefore, b.remindTimes, b.remindInterval)
}

func (b *Builder) RemindTimes(n int) error {
	if n <= 0 {
		return ErrNotPositive
	}
	b.remindTimes = n
	return checkRemindWindow(b.minutesBefore, b.remindTimes, b.remindInterval)
}

func (b *Builder) RemindInterval(n int) error {
	if n <= 0 {
		return ErrNotPositive
	}
	b.remindInterval = n
	return checkRemindWindow(b.minutesBefore, b.remindTimes, b.remindInterval)
}

// UseDefaultRemind notifies once, 15 minutes before the deadline.
func (b *Builder) UseDefaultRemind() {
	b.minutesBefore = 15
	b.remindTimes = 1
}

// FixCreationTime stamps the commit time used for elapsed-time reporting.
func (b *Builder) FixCreationTime() { b.createdAt = b.now().In(b.loc) }

// Build validates the accumulated state and returns the reminder.
func (b *Builder) Build() (Reminder, error) {
	if err := b.task.Validate(); err != nil {
		return Reminder{}, err
	}
	if err := b.checkDeadline(b.scheduled); err != nil {
		return Reminder{}, err
	}
	if err := checkRemindWindow(b.minutesBefore, b.remindTimes, b.remindInterval); err != nil {
		return Reminder{}, err
	}
	if err := CheckRepeat(b.repeatInterval, b.repeatUnit); err != nil {
		return Reminder{}, err
	}
	return Reminder{
		Task:           b.task,
		Scheduled:      b.scheduled.Format(DateLayout),
		RepeatInterval: b.repeatInterval,
		RepeatUnit:     b.repeatUnit,
		MinutesBefore:  b.minutesBefore,
		RemindTimes:    b.remindTimes,
		RemindInterval: b.remindInterval,
		CreatedAt:      b.createdAt.Format(DateLayout),
	}, nil
}
