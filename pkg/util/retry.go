package util

import (
	"context"
	"time"
)

const maxRetryDelay = 30 * time.Second

// Retry runs fn up to attempts times with exponential backoff between tries
// (baseDelay, 2x each attempt, capped at 30s). It stops early when ctx is
// done and returns the last error.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}

	var err error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
	return err
}
