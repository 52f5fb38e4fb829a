// Package retry runs fallible operations with bounded attempts and pure
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrRetriesExhausted, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Err}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Caller holds a per-call retry policy. Waits are BaseDelay * 2^(attempt-1).
type Caller struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// AttemptTimeout bounds a single attempt. Zero means no bound.
	AttemptTimeout time.Duration
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)

	timer backoff.Timer
}

func New(maxAttempts int, baseDelay time.Duration) Caller {
	return Caller{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
}

// Execute runs op until it succeeds, returns a permanent error, or MaxAttempts
// is reached. Cancelling ctx interrupts backoff waits only: op is handed a
// context detached from ctx's cancellation so an in-flight attempt completes.
func Execute[T any](ctx context.Context, c Caller, op func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := c.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	var lastErr error
	attempt := func() (T, error) {
		attempts++
		opCtx := context.WithoutCancel(ctx)
		if c.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			opCtx, cancel = context.WithTimeout(opCtx, c.AttemptTimeout)
			defer cancel()
		}
		res, err := op(opCtx)
		lastErr = err
		return res, err
	}

	notify := func(err error, wait time.Duration) {
		if c.OnRetry != nil {
			c.OnRetry(attempts, err, wait)
		}
	}

	res, err := backoff.RetryNotifyWithTimerAndData(attempt, c.policy(ctx, maxAttempts), notify, c.timer)
	if err == nil {
		return res, nil
	}

	var permanent *backoff.PermanentError
	switch {
	case errors.As(lastErr, &permanent):
		return res, err
	case ctx.Err() != nil && !errors.Is(err, lastErr):
		return res, fmt.Errorf("retry interrupted after %d attempts: %w", attempts, errors.Join(ctx.Err(), lastErr))
	}

	return res, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// Do is Execute for operations without a result.
func (c Caller) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Execute(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func (c Caller) policy(ctx context.Context, maxAttempts int) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = time.Duration(math.MaxInt64)
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxAttempts-1)), ctx)
}
