package sync

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

// Backoff retries transient failures with capped exponential delays.
// Permanent failures (validation, isolation) surface immediately.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: config.SyncRetryAttempts(),
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.BaseDelay * (1 << min(attempt, 6))
	if d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, fails permanently, exhausts attempts or the
// context ends.
func (b Backoff) Do(ctx context.Context, fn func() error) error {
	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !utils.IsTransientError(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(b.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
