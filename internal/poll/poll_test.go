package poll

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUntil_SucceedsOnFirstCall(t *testing.T) {
	calls := 0
	err := Until(context.Background(), time.Millisecond, 50*time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return true, nil
	})
	if err != nil {
		t.Fatalf("Expected success, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected exactly one call, got %d", calls)
	}
}

func TestUntil_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Until(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	if err != nil {
		t.Fatalf("Expected success, got: %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestUntil_TimesOut(t *testing.T) {
	start := time.Now()
	err := Until(context.Background(), 5*time.Millisecond, 30*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Timed out too slowly: %v", elapsed)
	}
}

// ErrTimeout must not be returned before the configured timeout has fully
// elapsed, even when the interval does not divide it evenly.
func TestUntil_NeverTimesOutEarly(t *testing.T) {
	start := time.Now()
	err := Until(context.Background(), 20*time.Millisecond, 50*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Timed out after %v, before the 50ms timeout elapsed", elapsed)
	}
}

func TestUntil_PropagatesPredicateError(t *testing.T) {
	boom := errors.New("boom")
	err := Until(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected predicate error, got: %v", err)
	}
}

func TestUntil_CancelledBetweenPolls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Until(ctx, 5*time.Millisecond, time.Minute, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got: %v", err)
	}
	if calls == 0 {
		t.Error("Predicate was never called before cancellation")
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err := Sleep(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep did not exit promptly on cancellation")
	}
}

func TestSleep_ZeroDuration(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("Expected nil for zero duration, got: %v", err)
	}
}
