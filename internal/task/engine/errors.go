package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped: previous run still pending")
)

// failure tells the retry loop how to treat a job error. Jobs build it with
// NoRetry or RetryAfter; anything else is retried with plain backoff.
type failure struct {
	err   error
	final bool
	after time.Duration
}

func (f failure) Error() string {
	if f.final {
		return "no-retry: " + f.err.Error()
	}
	return fmt.Sprintf("retry-after(%s): %v", f.after, f.err)
}

func (f failure) Unwrap() error { return f.err }

// NoRetry marks err as permanent, e.g. a missing API key or a stopped notifier.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return failure{err: err, final: true}
}

// RetryAfter asks for the next attempt no sooner than after, as an upstream
// 429 does. The engine still caps the wait at Config.RetryMaxDelay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return failure{err: err, after: max(after, 0)}
}

// IsNoRetry reports whether err was marked with NoRetry.
func IsNoRetry(err error) bool {
	var f failure
	return errors.As(err, &f) && f.final
}

// RetryDelay returns the wait requested with RetryAfter.
func RetryDelay(err error) (time.Duration, bool) {
	var f failure
	if errors.As(err, &f) && !f.final {
		return f.after, true
	}
	return 0, false
}
