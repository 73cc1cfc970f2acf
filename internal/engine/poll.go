package engine

import (
	"context"
	"fmt"
	"time"
)

// pollUntil runs fn up to maxAttempts times with a fixed delay between
// attempts. It is the single retry primitive for every bounded wait in the
// pipeline: suggestion dropdowns, button-enabled probes, filter checkboxes.
// fn errors abort immediately (they indicate a transport problem, not a
// not-yet condition). Budget exhaustion wraps ErrStageTimeout.
func pollUntil(ctx context.Context, maxAttempts int, interval time.Duration, fn func() (bool, error)) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
		ok, err := fn()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrStageTimeout, maxAttempts)
}

// settle pauses for d, honoring cancellation. The wizard re-renders
// asynchronously after most interactions and exposes no completion signal
// for those re-renders.
func settle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
