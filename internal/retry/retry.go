// Package retry provides bounded polling and retry helpers.
//
// External waits in wadesk (AI run completion, append conflicts) go
// through these helpers so every wait has an explicit budget and none
// block indefinitely.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrBudgetExceeded is returned when a poll's total budget elapses
// before the predicate reports done.
var ErrBudgetExceeded = errors.New("poll budget exceeded")

// Poll invokes fn at a fixed interval until it reports done, returns an
// error, the budget elapses, or ctx is cancelled. fn is called once
// immediately before the first sleep.
func Poll(ctx context.Context, interval, budget time.Duration, fn func(ctx context.Context) (done bool, err error)) error {
	deadline := time.Now().Add(budget)

	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().Add(interval).After(deadline) {
			return ErrBudgetExceeded
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Backoff retries fn up to attempts times with a doubling delay between
// tries, starting at base. The last error is returned when all attempts
// fail. retryable decides whether an error is worth another attempt;
// a nil retryable retries everything.
func Backoff(ctx context.Context, attempts int, base time.Duration, retryable func(error) bool, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := base
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
