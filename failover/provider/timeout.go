package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-failover/failover/log"
)

// Run executes fn under a time budget. If the budget elapses first, Run
// returns ErrTimeout; a zero or negative budget runs fn directly under the
// caller's context.
//
// Expiry only bounds how long the caller waits. The underlying provider call
// observes the cancelled context but is not guaranteed to stop; if it later
// completes, its result is discarded and logged, never delivered to the
// caller.
func Run[T any](ctx context.Context, budget time.Duration, logger log.Logger, operation string, fn func(context.Context) (T, error)) (T, error) {
	if budget <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, budget)

	type outcome struct {
		value T
		err   error
	}

	// Buffered so an abandoned attempt can always deliver and exit.
	results := make(chan outcome, 1)

	go func() {
		value, err := fn(attemptCtx)
		results <- outcome{value: value, err: err}
	}()

	select {
	case result := <-results:
		cancel()

		return result.value, result.err
	case <-attemptCtx.Done():
		// Drain and discard the late result so the goroutine never blocks.
		go func() {
			defer cancel()

			result := <-results
			if logger != nil {
				logger.Log(context.Background(), log.LevelDebug, "discarding late result from timed-out attempt",
					log.String("operation", operation),
					log.Err(result.err),
				)
			}
		}()

		var zero T

		if ctx.Err() != nil {
			// The caller's own context ended; report that rather than a
			// provider timeout so breakers do not count caller cancellation.
			return zero, ctx.Err()
		}

		return zero, fmt.Errorf("%w: %s after %s", ErrTimeout, operation, budget)
	}
}
