package eventbus

import (
	"testing"
	"time"
)

func TestSubscribeFiltersByTopic(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	rem, unsubRem := b.Subscribe(4, "reminder")
	defer unsubRem()

	b.Publish(Event{Type: "task.failed"})
	b.Publish(Event{Type: "reminder.complete", Data: "1/rent"})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events", got)
	}
	if got := len(rem); got != 1 {
		t.Fatalf("reminder subscriber got %d events", got)
	}
	e := <-rem
	if e.Type != "reminder.complete" || e.Data != "1/rent" || e.Time.IsZero() {
		t.Fatalf("event = %+v", e)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: "trigger.fired"})
	}
	if got := b.Dropped(); got != 2 {
		t.Fatalf("dropped = %d", got)
	}

	unsub()
	unsub()
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "trigger.fired", Time: time.Now()})
}

func TestTopic(t *testing.T) {
	t.Parallel()

	for typ, want := range map[string]string{"task.failed": "task", "reminder": "reminder", "": ""} {
		if got := (Event{Type: typ}).Topic(); got != want {
			t.Fatalf("Topic(%q) = %q", typ, got)
		}
	}
}
