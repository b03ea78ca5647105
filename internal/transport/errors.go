package transport

import (
	"errors"
	"time"
)

// ErrPermanent marks send errors that retrying cannot fix (chat not found,
// bot blocked). Adapters wrap it.
var ErrPermanent = errors.New("transport: permanent send failure")

type rateLimited struct {
	err   error
	after time.Duration
}

func (e rateLimited) Error() string { return e.err.Error() }
func (e rateLimited) Unwrap() error { return e.err }

// RateLimited wraps err with the wait the platform asked for.
func RateLimited(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return rateLimited{err: err, after: after}
}

// RetryAfter returns the wait carried by a RateLimited error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl rateLimited
	if errors.As(err, &rl) && rl.after > 0 {
		return rl.after, true
	}
	return 0, false
}
