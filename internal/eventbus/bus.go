// Package eventbus fans out lifecycle signals of the task engine, the
// trigger scheduler, the notifier and the reminder service.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one signal. Type is dotted, e.g. "task.failed", "trigger.fired"
// or "reminder.complete"; Data is a small value owned by the publisher.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Topic returns the part of Type before the first dot.
func (e Event) Topic() string {
	t, _, _ := strings.Cut(e.Type, ".")
	return t
}

// Bus never blocks publishers. A subscriber that falls behind loses events.
type Bus interface {
	Publish(e Event)
	// Subscribe delivers events whose Topic is in topics, or every event
	// when topics is empty.
	Subscribe(buffer int, topics ...string) (ch <-chan Event, unsubscribe func())
	// Dropped is the number of deliveries lost to full subscriber buffers.
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch     chan Event
	topics map[string]bool
	closed bool
}

func (s *sub) wants(e Event) bool {
	return len(s.topics) == 0 || s.topics[e.Topic()]
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// The read lock is held across sends; they never block and unsubscribe
	// closes under the write lock.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.closed || !s.wants(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, topics ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(topics) > 0 {
		s.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			s.topics[strings.TrimSuffix(strings.TrimSpace(t), ".")] = true
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			s.closed = true
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
