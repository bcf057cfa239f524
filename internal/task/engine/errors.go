package engine

import (
	"errors"
	"fmt"
	"time"
)

// Enqueue rejections.
var (
	ErrDisabled    = errors.New("engine: disabled")
	ErrStopped     = errors.New("engine: not running")
	ErrStopping    = errors.New("engine: stopping")
	ErrQueueFull   = errors.New("engine: queue full")
	ErrOverlapSkip = errors.New("engine: previous run of the task still active")
)

// RetryAfterError is implemented by errors that know when to try again,
// such as a Telegram flood wait.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// hint tells the worker how to treat a failed attempt.
type hint struct {
	err   error
	final bool
	after time.Duration
}

func (h *hint) Error() string {
	if h.final {
		return "permanent: " + h.err.Error()
	}
	return fmt.Sprintf("retry in %s: %v", h.after, h.err)
}

func (h *hint) Unwrap() error             { return h.err }
func (h *hint) RetryAfter() time.Duration { return h.after }

// NoRetry ends the attempts for err, e.g. when the job it fires was deleted.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &hint{err: err, final: true}
}

// RetryAfter asks for the next attempt no sooner than after. The worker caps
// the delay at RetryMaxDelay and applies jitter.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &hint{err: err, after: max(after, 0)}
}

// IsNoRetry reports whether err carries a NoRetry mark.
func IsNoRetry(err error) bool {
	_, ok := permanent(err)
	return ok
}

// permanent unwraps a NoRetry mark and returns the original error.
func permanent(err error) (error, bool) {
	var h *hint
	if errors.As(err, &h) && h.final {
		return h.err, true
	}
	return nil, false
}
