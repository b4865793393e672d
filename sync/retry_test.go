package sync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/sync"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

func fastBackoff(attempts int) sync.Backoff {
	return sync.Backoff{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestBackoffDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastBackoff(3).Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestBackoffDo_RetriesTransientFailures(t *testing.T) {
	calls := 0
	err := fastBackoff(3).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return context.DeadlineExceeded
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestBackoffDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastBackoff(3).Do(context.Background(), func() error {
		calls++
		return context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want the last transient failure", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestBackoffDo_PermanentFailureReturnsImmediately(t *testing.T) {
	calls := 0
	permanent := utils.NewValidationError("bad input")
	err := fastBackoff(5).Do(context.Background(), func() error {
		calls++
		return permanent
	})
	if !utils.IsValidationError(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on permanent failure)", calls)
	}
}

func TestBackoffDo_IsolationViolationNeverRetried(t *testing.T) {
	calls := 0
	err := fastBackoff(5).Do(context.Background(), func() error {
		calls++
		return utils.ErrorIsolationViolation
	})
	if !errors.Is(err, utils.ErrorIsolationViolation) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestBackoffDo_CanceledContextStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	backoff := sync.Backoff{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}
	done := make(chan error, 1)
	go func() {
		done <- backoff.Do(ctx, func() error { return context.DeadlineExceeded })
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do kept waiting after the context was canceled")
	}
}
