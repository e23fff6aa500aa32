package dispatch

import (
	"context"
	"time"
)

type waitFunc func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff is the delay after the given failed attempt: base * 2^(attempt-1),
// capped at ceiling.
func backoff(base, ceiling time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// robustExecute calls f up to n times until it returns true, waiting between
// calls. It stops early when the wait is interrupted by ctx.
func robustExecute(ctx context.Context, n int, delay func(attempt int) time.Duration, wait waitFunc, f func(attempt int) bool) bool {
	for i := 1; i <= n; i++ {
		if f(i) {
			return true
		}
		if i == n {
			break
		}
		if err := wait(ctx, delay(i)); err != nil {
			return false
		}
	}
	return false
}
