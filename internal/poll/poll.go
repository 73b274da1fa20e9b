// Package poll provides the bounded polling loop shared by every
// confirm-by-polling operation in the pipeline.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the predicate never succeeded within the
// configured timeout.
var ErrTimeout = errors.New("poll: timed out")

// Until calls fn every interval until it returns true, the timeout elapses,
// or ctx is cancelled. An error from fn stops the loop; predicates that want
// to keep polling past a transient failure return (false, nil) instead. The
// first call happens immediately, not after one interval. ErrTimeout is never
// returned before the full timeout has elapsed; the last wait is shortened to
// land exactly on the deadline, with one final poll there.
func Until(ctx context.Context, interval, timeout time.Duration, fn func(context.Context) (bool, error)) error {
	deadline := time.Now().Add(timeout)

	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}
		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Sleep blocks for d or until ctx is cancelled, returning ctx.Err() in the
// latter case. Used for settle delays between fire-and-forget commands.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
