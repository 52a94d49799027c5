package errors

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastRetryConfig(3), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewTransientError(errors.New("flaky"), "")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("RetryWithResult() error = %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("got %d after %d calls, want 42 after 3", got, calls)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := NewPermanentError(errors.New("bad request"), "")
	err := Retry(context.Background(), fastRetryConfig(5), func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("error = %v, want the permanent error unchanged", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(2), func(ctx context.Context) error {
		calls++
		return NewTransientError(errors.New("still down"), "")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 { // initial attempt + 2 retries
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, fastRetryConfig(3), func(ctx context.Context) error {
		return NewTransientError(errors.New("x"), "")
	})
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	config := RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second, JitterFactor: 0}

	if d := backoffDelay(0, config); d != time.Second {
		t.Errorf("attempt 0 delay = %v, want 1s", d)
	}
	if d := backoffDelay(1, config); d != 2*time.Second {
		t.Errorf("attempt 1 delay = %v, want 2s", d)
	}
	if d := backoffDelay(10, config); d != 5*time.Second {
		t.Errorf("attempt 10 delay = %v, want capped at 5s", d)
	}
}

func TestBackoffDelayJitterStaysInRange(t *testing.T) {
	config := RetryConfig{BaseDelay: time.Second, MaxDelay: 30 * time.Second, JitterFactor: 0.25}
	for i := 0; i < 100; i++ {
		d := backoffDelay(2, config) // nominal 4s, ±25%
		if d < 3*time.Second || d > 5*time.Second {
			t.Fatalf("jittered delay %v outside [3s, 5s]", d)
		}
	}
}
