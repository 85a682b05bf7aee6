package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func noBackoff(int) time.Duration { return 0 }

func TestRun(t *testing.T) {
	t.Parallel()
	t.Run("it should return the result of a single successful attempt", func(t *testing.T) {
		calls := 0
		res, err := Run(context.Background(), func(ctx context.Context) (string, error) {
			calls++
			return "done", nil
		}, Options[string]{
			ShouldRetry: func(attempt int, result string, err error) (bool, error) {
				return false, nil
			},
			Backoff: noBackoff,
		})
		assert.NoError(t, err)
		assert.Equal(t, "done", res)
		assert.Equal(t, 1, calls)
	})

	t.Run("it should retry failures until the decision stops it", func(t *testing.T) {
		calls := 0
		_, err := Run(context.Background(), func(ctx context.Context) (string, error) {
			calls++
			return "", fmt.Errorf("boom %d", calls)
		}, Options[string]{
			ShouldRetry: func(attempt int, result string, err error) (bool, error) {
				return attempt < 3, nil
			},
			Backoff: noBackoff,
		})
		assert.Error(t, err)
		assert.Equal(t, "boom 4", err.Error())
		assert.Equal(t, 4, calls)
	})

	t.Run("it should recover when a later attempt succeeds", func(t *testing.T) {
		calls := 0
		res, err := Run(context.Background(), func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, fmt.Errorf("transient")
			}
			return 42, nil
		}, Options[int]{
			ShouldRetry: func(attempt int, result int, err error) (bool, error) {
				return err != nil && attempt < 5, nil
			},
			Backoff: noBackoff,
		})
		assert.NoError(t, err)
		assert.Equal(t, 42, res)
		assert.Equal(t, 3, calls)
	})

	t.Run("it should retry on successful results when the decision asks for it", func(t *testing.T) {
		// polling continuation: the result, not an error, drives the loop
		statuses := []string{"DEPLOYING", "INITIALIZING", "READY"}
		calls := 0
		res, err := Run(context.Background(), func(ctx context.Context) (string, error) {
			s := statuses[calls]
			calls++
			return s, nil
		}, Options[string]{
			ShouldRetry: func(attempt int, result string, err error) (bool, error) {
				return result != "READY", nil
			},
			Backoff: noBackoff,
		})
		assert.NoError(t, err)
		assert.Equal(t, "READY", res)
		assert.Equal(t, 3, calls)
	})

	t.Run("it should settle with the decision error", func(t *testing.T) {
		fatal := fmt.Errorf("fatal classification")
		_, err := Run(context.Background(), func(ctx context.Context) (string, error) {
			return "", fmt.Errorf("attempt error")
		}, Options[string]{
			ShouldRetry: func(attempt int, result string, err error) (bool, error) {
				return false, fatal
			},
			Backoff: noBackoff,
		})
		assert.ErrorIs(t, err, fatal)
	})

	t.Run("it should bound each attempt with the per-attempt timeout", func(t *testing.T) {
		var seen error
		_, err := Run(context.Background(), func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}, Options[string]{
			AttemptTimeout: 10 * time.Millisecond,
			ShouldRetry: func(attempt int, result string, err error) (bool, error) {
				seen = err
				return false, nil
			},
			Backoff: noBackoff,
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.ErrorIs(t, seen, context.DeadlineExceeded)
	})

	t.Run("it should stop sleeping when the outer context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		start := time.Now()
		_, err := Run(ctx, func(ctx context.Context) (string, error) {
			return "", fmt.Errorf("transient")
		}, Options[string]{
			ShouldRetry: func(attempt int, result string, err error) (bool, error) {
				return true, nil
			},
			Backoff: func(int) time.Duration { return time.Hour },
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestDefaultBackoff(t *testing.T) {
	t.Parallel()
	t.Run("it should stay within the jittered schedule", func(t *testing.T) {
		bases := map[int]time.Duration{
			0: 1000 * time.Millisecond,
			1: 1000 * time.Millisecond,
			2: 2000 * time.Millisecond,
			3: 5000 * time.Millisecond,
			7: 5000 * time.Millisecond,
		}
		for attempt, base := range bases {
			for i := 0; i < 50; i++ {
				d := DefaultBackoff(attempt)
				assert.GreaterOrEqual(t, d, base/2, "attempt %d", attempt)
				assert.Less(t, d, base, "attempt %d", attempt)
			}
		}
	})
}
