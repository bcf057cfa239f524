package todo

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2025, 3, 10, 12, 30, 45, 0, time.UTC)

func newTestBuilder() *Builder {
	b := NewBuilder(func() time.Time { return testNow }, time.UTC)
	b.SetTask(Task{OwnerID: 1, ChatID: 1, Name: "pay rent"})
	return b
}

func TestBuilderDefaults(t *testing.T) {
	t.Parallel()

	r, err := newTestBuilder().Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if r.Scheduled != "11-03-2025-12-30" {
		t.Fatalf("default deadline = %q", r.Scheduled)
	}
	if r.RepeatInterval != 0 || r.RepeatUnit != Days || r.MinutesBefore != 0 || r.RemindTimes != 0 || r.RemindInterval != 0 {
		t.Fatalf("unexpected defaults: %+v", r)
	}
	if r.CreatedAt != "10-03-2025-12-30" {
		t.Fatalf("created = %q", r.CreatedAt)
	}
}

func TestScheduledAt(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want error
	}{
		{"14-02-2026-09-00", nil},
		{"10-03-2025-12-31", nil},
		{"10-03-2025-12-30", ErrDateRange}, // not strictly after now at minute precision
		{"14-02-2013-09-00", ErrDateRange},
		{"01-01-2146-00-00", ErrDateRange},
		{"01-01-2144-00-00", nil},
		{"2026-02-14 09:00", ErrDateFormat},
		{"31-02-2026-09-00", ErrDateFormat},
		{"", ErrDateFormat},
	}
	for _, tc := range cases {
		err := newTestBuilder().ScheduledAt(tc.in)
		if !errors.Is(err, tc.want) {
			t.Fatalf("ScheduledAt(%q) = %v want %v", tc.in, err, tc.want)
		}
	}
}

func TestRemindWindow(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name               string
		before, times, ivl int
		want               error
	}{
		{"33 >= 30 fails", 30, 3, 11, ErrRemindOverlap},
		{"27 < 30 ok", 30, 3, 9, nil},
		{"exactly equal fails", 30, 3, 10, ErrRemindOverlap},
		{"single notification ignores interval", 30, 1, 100, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBuilder()
			_ = b.RemindBeforeMinutes(tc.before)
			_ = b.RemindTimes(tc.times)
			if err := b.RemindInterval(tc.ivl); !errors.Is(err, tc.want) {
				t.Fatalf("setter err = %v want %v", err, tc.want)
			}
			if _, err := b.Build(); !errors.Is(err, tc.want) {
				t.Fatalf("build err = %v want %v", err, tc.want)
			}
		})
	}
}

func TestRemindWindowCheckedOnEverySetter(t *testing.T) {
	t.Parallel()

	// Interval and times first, minutes last: the last setter must fail.
	b := newTestBuilder()
	if err := b.RemindInterval(11); err != nil {
		t.Fatalf("interval: %v", err)
	}
	if err := b.RemindTimes(3); err != nil {
		t.Fatalf("times: %v", err)
	}
	if err := b.RemindBeforeMinutes(30); !errors.Is(err, ErrRemindOverlap) {
		t.Fatalf("minutes: %v", err)
	}
	// Widening the window fixes it.
	if err := b.RemindBeforeMinutes(60); err != nil {
		t.Fatalf("minutes 60: %v", err)
	}
}

func TestNumericSettersRejectNonPositive(t *testing.T) {
	t.Parallel()

	b := newTestBuilder()
	for name, set := range map[string]func(int) error{
		"repeat":   b.RepeatEvery,
		"minutes":  b.RemindBeforeMinutes,
		"times":    b.RemindTimes,
		"interval": b.RemindInterval,
	} {
		if err := set(0); !errors.Is(err, ErrNotPositive) {
			t.Fatalf("%s(0) = %v", name, err)
		}
		if err := set(-5); !errors.Is(err, ErrNotPositive) {
			t.Fatalf("%s(-5) = %v", name, err)
		}
	}
}

func TestDefaultRemindAndCreationTime(t *testing.T) {
	t.Parallel()

	now := testNow
	b := NewBuilder(func() time.Time { return now }, time.UTC)
	b.SetTask(Task{Name: "x"})
	b.UseDefaultRemind()
	now = now.Add(3 * time.Hour)
	b.FixCreationTime()

	r, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if r.MinutesBefore != 15 || r.RemindTimes != 1 {
		t.Fatalf("default remind: %+v", r)
	}
	if r.CreatedAt != "10-03-2025-15-30" {
		t.Fatalf("creation time not fixed: %q", r.CreatedAt)
	}
	if got := r.Elapsed(now.Add(5 * time.Hour)); got != 5*time.Hour+45*time.Second {
		t.Fatalf("elapsed = %v", got)
	}
}

func TestBuildRequiresName(t *testing.T) {
	t.Parallel()

	b := NewBuilder(func() time.Time { return testNow }, time.UTC)
	b.SetTask(Task{Name: "   "})
	if _, err := b.Build(); !errors.Is(err, ErrBlankName) || !IsDomain(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestUnits(t *testing.T) {
	t.Parallel()

	cases := []struct {
		u    Unit
		n    int
		want int
	}{
		{Minutes, 5, 5},
		{Hours, 2, 120},
		{Days, 1, 1440},
		{Weeks, 1, 10080},
		{Months, 1, 43200},
		{Years, 1, 0},
	}
	for _, tc := range cases {
		if got := tc.u.Minutes(tc.n); got != tc.want {
			t.Fatalf("%s.Minutes(%d) = %d want %d", tc.u, tc.n, got, tc.want)
		}
	}
	if _, err := ParseUnit("fortnights"); !errors.Is(err, ErrUnknownUnit) {
		t.Fatalf("ParseUnit accepted junk")
	}
	if u, err := ParseUnit(" Years "); err != nil || !u.Calendar() {
		t.Fatalf("ParseUnit(Years) = %v %v", u, err)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	task := Task{Name: "Rent", Description: "flat"}
	task.SetTags("home money home")
	r := Reminder{Task: task, Scheduled: "14-02-2026-09-00", MinutesBefore: 30, RemindTimes: 3, RemindInterval: 9, RepeatInterval: 2, RepeatUnit: Hours}

	fire := DeadlineText(r)
	if !strings.HasPrefix(fire, headDeadline+"\n📌 RENT\n📝 flat\nТеги: [home, money]") || !strings.HasSuffix(fire, "Дедлайн задачи: 14-02-2026-09-00") {
		t.Fatalf("deadline text:\n%s", fire)
	}
	card := ReminderCard(r, time.UTC)
	for _, want := range []string{"СРОК ИСПОЛНЕНИЯ: 14.02.2026 09:00", "НАПОМНИТЬ за 30 минут", "3 раз с интервалом в 9 минут", "ПОВТОРЯТЬ задачу с интервалом 2 часов"} {
		if !strings.Contains(card, want) {
			t.Fatalf("card missing %q:\n%s", want, card)
		}
	}
}

func TestRepeatBoundedByHorizon(t *testing.T) {
	t.Parallel()

	cases := []struct {
		unit Unit
		n    int
		want error
	}{
		{Months, 200000000, ErrRepeatRange},
		{Months, 1460, nil},
		{Months, 1461, ErrRepeatRange},
		{Minutes, horizonMinutes, nil},
		{Minutes, horizonMinutes + 1, ErrRepeatRange},
		{Years, HorizonYears, nil},
		{Years, HorizonYears + 1, ErrRepeatRange},
	}
	for _, tc := range cases {
		b := newTestBuilder()
		if err := b.SetRepeatUnit(tc.unit); err != nil {
			t.Fatalf("unit %s: %v", tc.unit, err)
		}
		err := b.RepeatEvery(tc.n)
		if !errors.Is(err, tc.want) {
			t.Fatalf("RepeatEvery(%d %s) = %v want %v", tc.n, tc.unit, err, tc.want)
		}
		if tc.want != nil && !IsDomain(err) {
			t.Fatalf("%v is not a domain error", err)
		}
		r, err := b.Build()
		if err != nil {
			t.Fatalf("build after %d %s: %v", tc.n, tc.unit, err)
		}
		if tc.want == nil && r.RepeatInterval != tc.n {
			t.Fatalf("interval = %d want %d", r.RepeatInterval, tc.n)
		}
		if tc.want != nil && r.RepeatInterval != 0 {
			t.Fatalf("rejected interval stored: %d", r.RepeatInterval)
		}
	}
}

func TestRepeatUnitChangeRechecksInterval(t *testing.T) {
	t.Parallel()

	b := newTestBuilder()
	if err := b.SetRepeatUnit(Minutes); err != nil {
		t.Fatalf("unit: %v", err)
	}
	if err := b.RepeatEvery(1000000); err != nil {
		t.Fatalf("1e6 minutes: %v", err)
	}
	if err := b.SetRepeatUnit(Months); !errors.Is(err, ErrRepeatRange) {
		t.Fatalf("switch to months = %v", err)
	}
	r, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if r.RepeatUnit != Minutes || r.RepeatInterval != 1000000 {
		t.Fatalf("repeat = %d %s", r.RepeatInterval, r.RepeatUnit)
	}
}

func TestTaskNameReservedPrefix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want error
	}{
		{"remindBefore-rent", ErrReservedName},
		{PreDeadlinePrefix, ErrReservedName},
		{"rent remindBefore-", nil},
		{"remindbefore-rent", nil},
	}
	for _, tc := range cases {
		err := Task{Name: tc.name}.Validate()
		if !errors.Is(err, tc.want) {
			t.Fatalf("Validate(%q) = %v want %v", tc.name, err, tc.want)
		}
	}
	b := newTestBuilder()
	b.SetTask(Task{Name: "remindBefore-rent"})
	if _, err := b.Build(); !errors.Is(err, ErrReservedName) || !IsDomain(err) {
		t.Fatalf("build = %v", err)
	}
}
