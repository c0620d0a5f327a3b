package app

import (
	"context"
	"errors"
	"time"
)

// ErrTimedOut is returned by Bounded when the operation does not complete
// within the allotted window.
var ErrTimedOut = errors.New("operation timed out")

// Bounded races op against a timer. On timeout the caller gets ErrTimedOut
// but the operation itself is not cancelled: it runs on a detached context
// and its eventual side effects stand. Callers must not assume a timeout
// implies non-execution.
func Bounded[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	type outcome struct {
		value T
		err   error
	}
	results := make(chan outcome, 1)
	opCtx := context.WithoutCancel(ctx)
	go func() {
		value, err := op(opCtx)
		results <- outcome{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case out := <-results:
		return out.value, out.err
	case <-timer.C:
		return zero, ErrTimedOut
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
