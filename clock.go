package dispatch

import (
	"context"
	"time"
)

// Clock is the time source and delay capability used by the orchestrator.
// Backoff delays are the only place dispatch suspends, and they all go
// through Sleep, so tests can substitute a virtual clock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d or until ctx is done, whichever comes first.
	// It returns ctx.Err() when the context ends first.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock returns a Clock backed by the runtime clock and timers.
func SystemClock() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
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
