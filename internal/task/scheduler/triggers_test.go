package scheduler

import (
	"context"
	"testing"
	"time"

	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

var base = time.Date(2030, time.March, 10, 9, 30, 0, 0, time.UTC)

func TestValidateTrigger(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		tr   storage.Trigger
		ok   bool
	}{
		{"once", storage.Trigger{Kind: storage.TriggerOnce, Start: base}, true},
		{"interval", storage.Trigger{Kind: storage.TriggerInterval, Start: base, Every: 60}, true},
		{"interval zero", storage.Trigger{Kind: storage.TriggerInterval, Start: base}, false},
		{"calendar zero", storage.Trigger{Kind: storage.TriggerCalendar, Start: base}, false},
		{"repeat single", storage.Trigger{Kind: storage.TriggerRepeat, Start: base, Count: 1}, true},
		{"repeat no gap", storage.Trigger{Kind: storage.TriggerRepeat, Start: base, Count: 3}, false},
		{"no start", storage.Trigger{Kind: storage.TriggerOnce}, false},
		{"unknown", storage.Trigger{Kind: "weekly", Start: base}, false},
		{"interval 200M months", storage.Trigger{Kind: storage.TriggerInterval, Start: base, Every: 200000000 * 30 * 24 * 60}, false},
		{"interval at duration limit", storage.Trigger{Kind: storage.TriggerInterval, Start: base, Every: int(maxStepMinutes)}, true},
		{"calendar 120 years", storage.Trigger{Kind: storage.TriggerCalendar, Start: base, Every: 120}, true},
		{"calendar 200M years", storage.Trigger{Kind: storage.TriggerCalendar, Start: base, Every: 200000000}, false},
		{"repeat span overflows", storage.Trigger{Kind: storage.TriggerRepeat, Start: base, Every: int(maxStepMinutes / 2), Count: 4}, false},
	}
	for _, tt := range tests {
		if err := ValidateTrigger(tt.tr); (err == nil) != tt.ok {
			t.Fatalf("%s: err=%v want ok=%v", tt.name, err, tt.ok)
		}
	}
}

func TestPointSequences(t *testing.T) {
	t.Parallel()

	leap := time.Date(2028, time.February, 29, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		tr   storage.Trigger
		want []time.Time
	}{
		{
			name: "once",
			tr:   storage.Trigger{Kind: storage.TriggerOnce, Start: base},
			want: []time.Time{base},
		},
		{
			name: "interval weeks",
			tr:   storage.Trigger{Kind: storage.TriggerInterval, Start: base, Every: 7 * 24 * 60},
			want: []time.Time{base, base.AddDate(0, 0, 7), base.AddDate(0, 0, 14)},
		},
		{
			name: "repeat three",
			tr:   storage.Trigger{Kind: storage.TriggerRepeat, Start: base, Every: 5, Count: 3},
			want: []time.Time{base, base.Add(5 * time.Minute), base.Add(10 * time.Minute)},
		},
		{
			name: "calendar every year",
			tr:   storage.Trigger{Kind: storage.TriggerCalendar, Start: base, Every: 1},
			want: []time.Time{base, base.AddDate(1, 0, 0), base.AddDate(2, 0, 0)},
		},
		{
			name: "calendar leap day skips common years",
			tr:   storage.Trigger{Kind: storage.TriggerCalendar, Start: leap, Every: 1},
			want: []time.Time{leap, leap.AddDate(4, 0, 0), leap.AddDate(8, 0, 0)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []time.Time
			for i := 0; len(got) < len(tt.want)+1; {
				idx, at, ok := seek(tt.tr, i, time.UTC)
				if !ok {
					break
				}
				got = append(got, at)
				i = idx + 1
			}
			if tt.tr.Kind == storage.TriggerOnce || tt.tr.Kind == storage.TriggerRepeat {
				if len(got) != len(tt.want) {
					t.Fatalf("got %d points want %d: %v", len(got), len(tt.want), got)
				}
			}
			for i, w := range tt.want {
				if !got[i].Equal(w) {
					t.Fatalf("point %d = %s want %s", i, got[i], w)
				}
			}
		})
	}
}

func TestTakeCollapsesMissedPoints(t *testing.T) {
	t.Parallel()

	st := newTriggerState(storage.Trigger{Kind: storage.TriggerInterval, Start: base, Every: 60}, time.UTC)
	now := base.Add(5*time.Hour + 10*time.Minute)

	if got := st.Next(now); !got.Equal(base) {
		t.Fatalf("first Next = %s want pending %s", got, base)
	}
	f, ok := st.take(now)
	if !ok {
		t.Fatal("nothing due")
	}
	if !f.Nominal.Equal(base.Add(5*time.Hour)) || f.Missed != 5 || f.Last {
		t.Fatalf("fire = %+v", f)
	}
	if f.Trigger.Next != 6 || f.Trigger.Fired != 1 || !f.Trigger.LastFire.Equal(now) {
		t.Fatalf("trigger state = %+v", f.Trigger)
	}
	if got := st.Next(now); !got.Equal(base.Add(6 * time.Hour)) {
		t.Fatalf("cadence resumes at %s", got)
	}
	if _, ok := st.take(now); ok {
		t.Fatal("second take fired again")
	}
}

func TestNextDoesNotRescheduleUnconsumedPoint(t *testing.T) {
	t.Parallel()

	st := newTriggerState(storage.Trigger{Kind: storage.TriggerRepeat, Start: base, Every: 10, Count: 3}, time.UTC)
	if got := st.Next(base.Add(-time.Minute)); !got.Equal(base) {
		t.Fatalf("armed at %s", got)
	}
	// cron asks for the next run before the job consumed the armed point.
	if got := st.Next(base); !got.Equal(base.Add(10 * time.Minute)) {
		t.Fatalf("rescheduled at %s", got)
	}
	if f, ok := st.take(base.Add(time.Second)); !ok || f.Missed != 0 || !f.Nominal.Equal(base) {
		t.Fatalf("take = %+v %v", f, ok)
	}
}

func TestRepeatExhausts(t *testing.T) {
	t.Parallel()

	st := newTriggerState(storage.Trigger{Kind: storage.TriggerRepeat, Start: base, Every: 10, Count: 3}, time.UTC)
	f, ok := st.take(base.Add(time.Hour))
	if !ok || !f.Last || f.Missed != 2 || !f.Nominal.Equal(base.Add(20*time.Minute)) {
		t.Fatalf("take = %+v %v", f, ok)
	}
	if got := st.Next(base.Add(time.Hour)); !got.IsZero() {
		t.Fatalf("exhausted trigger scheduled at %s", got)
	}
	if _, ok := NextAt(f.Trigger, time.UTC); ok {
		t.Fatal("NextAt reports a point after exhaustion")
	}
}

func TestOnceFiresOnce(t *testing.T) {
	t.Parallel()

	st := newTriggerState(storage.Trigger{Kind: storage.TriggerOnce, Start: base}, time.UTC)
	if _, ok := st.take(base.Add(-time.Second)); ok {
		t.Fatal("fired early")
	}
	f, ok := st.take(base)
	if !ok || !f.Last {
		t.Fatalf("take = %+v %v", f, ok)
	}
}

func TestCalendarCatchUpSkipsMissingDates(t *testing.T) {
	t.Parallel()

	leap := time.Date(2028, time.February, 29, 8, 0, 0, 0, time.UTC)
	st := newTriggerState(storage.Trigger{Kind: storage.TriggerCalendar, Start: leap, Every: 1}, time.UTC)
	f, ok := st.take(time.Date(2034, time.January, 1, 0, 0, 0, 0, time.UTC))
	if !ok {
		t.Fatal("nothing due")
	}
	if want := time.Date(2032, time.February, 29, 8, 0, 0, 0, time.UTC); !f.Nominal.Equal(want) || f.Missed != 1 {
		t.Fatalf("fire = %+v", f)
	}
	next, _ := NextAt(f.Trigger, time.UTC)
	if want := time.Date(2036, time.February, 29, 8, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("next = %s want %s", next, want)
	}
}

func TestAddTriggerFiresThroughEngine(t *testing.T) {
	t.Parallel()

	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})

	fired := make(chan Fire, 1)
	tr := storage.Trigger{Kind: storage.TriggerOnce, Start: time.Now().Add(-time.Minute)}
	if err := s.AddTrigger("42/call", tr, time.Second, func(_ context.Context, f Fire) error {
		fired <- f
		return nil
	}); err != nil {
		t.Fatalf("AddTrigger: %v", err)
	}

	select {
	case f := <-fired:
		if f.Name != "42/call" || !f.Last {
			t.Fatalf("fire = %+v", f)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("overdue trigger did not fire")
	}
	deadline := time.Now().Add(time.Second)
	for s.Has("42/call") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Has("42/call") {
		t.Fatal("exhausted trigger still registered")
	}
}

func TestAddTriggerRejectsExhausted(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, nil, logx.Nop(), nil)
	tr := storage.Trigger{Kind: storage.TriggerOnce, Start: base, Next: 1, Fired: 1}
	if err := s.AddTrigger("x", tr, 0, func(context.Context, Fire) error { return nil }); err == nil {
		t.Fatal("exhausted trigger accepted")
	}
}
