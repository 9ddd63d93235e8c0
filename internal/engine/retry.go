package engine

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff is an exponential retry policy with full jitter.
type Backoff struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts int
}

// DefaultBackoff suits interactive writes contending for one key.
var DefaultBackoff = Backoff{
	Initial:  10 * time.Millisecond,
	Max:      500 * time.Millisecond,
	Attempts: 10,
}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Initial << attempt
	if d <= 0 || d > b.Max {
		d = b.Max
	}
	if d <= 0 {
		return 0
	}
	return rand.N(d) + 1
}

// Retry calls fn until it succeeds, returns an error IsRetryable rejects, the
// attempts run out or ctx is done. The engine itself never retries; callers
// opt in here.
func Retry(ctx context.Context, b Backoff, fn func(ctx context.Context) error) error {
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil || !IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		t := time.NewTimer(b.delay(i))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}
