// Package testutil holds helpers for tests that wait on runners, bridges and
// other goroutine-driven state.
package testutil

import (
	"context"
	"fmt"
	"time"
)

// Poll calls cond every interval until it returns true. It fails once
// timeout has elapsed, or when ctx is done.
func Poll(ctx context.Context, cond func() bool, timeout, interval time.Duration) error {
	_, err := WaitFor(ctx, func() bool { return cond() }, func(ok bool) bool { return ok }, timeout, interval)
	return err
}

// WaitFor samples get every interval until want accepts a value, returning
// that value.
func WaitFor[T any](ctx context.Context, get func() T, want func(T) bool, timeout, interval time.Duration) (T, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()
	var last T
	for {
		last = get()
		if want(last) {
			return last, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			return last, fmt.Errorf("testutil: condition not met within %v (last %v)", timeout, last)
		case <-tick.C:
		}
	}
}
