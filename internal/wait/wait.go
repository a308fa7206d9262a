// Package wait provides bounded polling loops. Every loop has a fixed interval
// and an attempt cap and fails with faults.ErrTimeout when the cap is reached.
package wait

import (
	"context"
	"fmt"
	"time"

	"github.com/shehryarbajwa/browserfarm/internal/faults"
)

// Policy bounds a polling loop
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
}

// Condition reports whether the awaited state has been reached. A non-nil
// error stops the loop immediately.
type Condition func(ctx context.Context, attempt int) (bool, error)

// sleep is swapped in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
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

// Poll evaluates cond up to p.MaxAttempts times, sleeping p.Interval between
// attempts.
func Poll(ctx context.Context, op string, p Policy, cond Condition) error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("%s: max attempts must be positive", op)
	}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		done, err := cond(ctx, attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return faults.New(faults.ErrTimeout, op, fmt.Errorf("gave up after %d attempts", p.MaxAttempts))
}

// Sleep pauses for d unless ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}
