package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{12, time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(opt, tt.retry, nil); got != tt.want {
			t.Fatalf("retry %d: got %s want %s", tt.retry, got, tt.want)
		}
	}
}

func TestBackoffDelayWithHint(t *testing.T) {
	t.Parallel()

	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: 2 * time.Second}
	err := RetryAfter(errors.New("429"), 700*time.Millisecond)
	if got := backoffDelayWithHint(opt, 1, err, nil); got != 700*time.Millisecond {
		t.Fatalf("hint ignored: %s", got)
	}
	err = RetryAfter(errors.New("429"), time.Minute)
	if got := backoffDelayWithHint(opt, 1, err, nil); got != 2*time.Second {
		t.Fatalf("hint not capped: %s", got)
	}
}

func TestSubmitRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Workers: 1})

	var calls atomic.Int32
	done := make(chan struct{})
	err := s.Submit(context.Background(), Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			close(done)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("task never succeeded, calls=%d", calls.Load())
	}
	waitFor(t, "history", func() bool { return len(s.Snapshot().History) == 1 })
	h := s.Snapshot().History[0]
	if h.Attempts != 3 || h.Error != "" {
		t.Fatalf("history = %+v", h)
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Workers: 1})

	var calls atomic.Int32
	_ = s.Enqueue(Task{
		Name: "gone",
		Opt:  TaskOptions{RetryMax: 5, RetryBase: time.Millisecond},
		Run: func(context.Context) error {
			calls.Add(1)
			return NoRetry(errors.New("job not found"))
		},
	})
	waitFor(t, "history", func() bool { return len(s.Snapshot().History) == 1 })
	h := s.Snapshot().History[0]
	if calls.Load() != 1 || h.Error != "job not found" {
		t.Fatalf("calls=%d history=%+v", calls.Load(), h)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Workers: 1, RetryMax: 1})

	_ = s.Enqueue(Task{
		Name: "boom",
		Opt:  TaskOptions{RetryMax: 1, RetryBase: time.Millisecond},
		Run:  func(context.Context) error { panic("kaboom") },
	})
	waitFor(t, "history", func() bool { return len(s.Snapshot().History) == 1 })

	ran := make(chan struct{})
	_ = s.Enqueue(Task{Name: "after", Run: func(context.Context) error { close(ran); return nil }})
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatalf("worker did not survive panic")
	}
}

func TestOverlapSkipIfRunning(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Workers: 2})

	release := make(chan struct{})
	started := make(chan struct{})
	first := Task{
		Name: "exclusive",
		Opt:  TaskOptions{Overlap: OverlapSkipIfRunning},
		Run: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	}
	if err := s.Enqueue(first); err != nil {
		t.Fatalf("first: %v", err)
	}
	<-started
	second := Task{Name: "exclusive", Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(context.Context) error { return nil }}
	if err := s.Enqueue(second); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second: got %v want ErrOverlapSkip", err)
	}
	close(release)
	waitFor(t, "release", func() bool { return len(s.Snapshot().History) == 1 })
	if err := s.Enqueue(second); err != nil {
		t.Fatalf("third: %v", err)
	}
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()

	disabled := New(Config{}, logx.Nop(), nil)
	tests := []struct {
		name string
		svc  *Service
		task Task
		want error
	}{
		{"disabled", disabled, Task{Name: "x", Run: func(context.Context) error { return nil }}, ErrDisabled},
		{"not started", New(Config{Enabled: true}, logx.Nop(), nil), Task{Name: "x", Run: func(context.Context) error { return nil }}, ErrStopped},
	}
	for _, tt := range tests {
		if err := tt.svc.Enqueue(tt.task); !errors.Is(err, tt.want) {
			t.Fatalf("%s: got %v want %v", tt.name, err, tt.want)
		}
	}
	if err := disabled.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatalf("nil Run accepted")
	}
	if err := disabled.Enqueue(Task{Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("blank name accepted")
	}
}

func TestRetryHints(t *testing.T) {
	t.Parallel()

	base := errors.New("job not found")
	wrapped := fmt.Errorf("fire 1/rent: %w", NoRetry(base))
	if !IsNoRetry(wrapped) || !errors.Is(wrapped, base) {
		t.Fatalf("NoRetry mark lost through wrapping: %v", wrapped)
	}
	if IsNoRetry(RetryAfter(base, time.Second)) || IsNoRetry(base) {
		t.Fatalf("plain and retry-after errors are not permanent")
	}
	if NoRetry(nil) != nil || RetryAfter(nil, time.Second) != nil {
		t.Fatalf("nil must stay nil")
	}
	var ra RetryAfterError
	if !errors.As(RetryAfter(base, -time.Second), &ra) || ra.RetryAfter() != 0 {
		t.Fatalf("negative delay not clamped")
	}
}
