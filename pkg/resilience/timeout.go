package resilience

import (
	"context"
	"fmt"
	"time"
)

// TimeoutError reports that an operation ran past its limit. It matches
// context.DeadlineExceeded under errors.Is.
type TimeoutError struct {
	Operation string
	Limit     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %v", e.Operation, e.Limit)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// WithTimeout runs fn under a context that expires after timeout and
// returns as soon as either fn finishes or the deadline passes. fn keeps
// running in the background after a timeout, so it must stop promptly once
// its context is done. A non-positive timeout runs fn directly.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(tctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-tctx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
		return zero, &TimeoutError{Operation: name, Limit: timeout}
	}
}
