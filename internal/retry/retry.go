package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/wherobots/wherobots-sql-go/logger"
)

// Decision is consulted after every attempt, successful or not. attempt is the
// 0-based index of the attempt that just finished. Exactly one of result and err
// is meaningful, depending on whether the attempt failed. Returning true runs
// another attempt after the backoff delay; returning false settles Run with the
// last result or last error. Returning a non-nil error settles Run with that
// error immediately.
//
// The engine enforces no attempt cap of its own; terminating the loop is
// entirely the Decision's responsibility.
type Decision[T any] func(attempt int, result T, err error) (bool, error)

type Options[T any] struct {
	// AttemptTimeout bounds each individual attempt. Zero disables the bound.
	// On expiry the attempt's context is canceled; the operation must observe
	// it and return.
	AttemptTimeout time.Duration

	// ShouldRetry decides whether to run another attempt. Required.
	ShouldRetry Decision[T]

	// Backoff maps an attempt index to the delay before the next attempt.
	// Nil selects DefaultBackoff.
	Backoff func(attempt int) time.Duration
}

// Run executes op until ShouldRetry stops it, sleeping Backoff(attempt) between
// attempts. Each attempt receives a context derived from ctx, additionally
// bounded by AttemptTimeout. Cancellation of ctx during the backoff sleep
// settles Run with ctx's error.
func Run[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options[T]) (T, error) {
	var zero T
	backoff := opts.Backoff
	if backoff == nil {
		backoff = DefaultBackoff
	}

	for attempt := 0; ; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if opts.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.AttemptTimeout)
		}
		result, err := op(attemptCtx)
		if cancel != nil {
			cancel()
		}

		var again bool
		if opts.ShouldRetry != nil {
			var decideErr error
			again, decideErr = opts.ShouldRetry(attempt, result, err)
			if decideErr != nil {
				return zero, decideErr
			}
		}
		if !again {
			if err != nil {
				return zero, err
			}
			return result, nil
		}

		delay := backoff(attempt)
		if err != nil {
			logger.Debug().Err(err).Msgf("retrying attempt %d after %s", attempt, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

var jitterMu sync.Mutex
var jitterRand = rand.New(rand.NewSource(time.Now().UnixNano()))

// DefaultBackoff returns 1s for attempts 0-1, 2s for attempt 2 and 5s from
// attempt 3 on, scaled by a uniform jitter factor in [0.5, 1.0) so concurrent
// clients do not retry in lockstep.
func DefaultBackoff(attempt int) time.Duration {
	var base time.Duration
	switch {
	case attempt <= 1:
		base = 1000 * time.Millisecond
	case attempt == 2:
		base = 2000 * time.Millisecond
	default:
		base = 5000 * time.Millisecond
	}

	jitterMu.Lock()
	factor := 0.5 + jitterRand.Float64()/2
	jitterMu.Unlock()

	return time.Duration(float64(base) * factor)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
