package dispatch

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"
)

// IdempotencyGuard ensures that at most one dispatch chain runs per key and
// that a key with a recorded outcome is never dispatched again.
type IdempotencyGuard struct {
	store   *StatusStore
	flights singleflight.Group
}

// NewIdempotencyGuard creates a guard over store.
func NewIdempotencyGuard(store *StatusStore) *IdempotencyGuard {
	return &IdempotencyGuard{store: store}
}

// Check returns the receipt already recorded for key.
func (g *IdempotencyGuard) Check(key string) (Receipt, bool) {
	return g.store.Lookup(key)
}

type flightResult struct {
	receipt  Receipt
	existing bool
}

// Do runs fn inside key's flight unless a receipt already exists. Callers
// that arrive while a flight is running share its result. duplicate is true
// for every caller whose receipt was not produced by its own fn.
//
// When the flight ends with a context error from another caller's context,
// and ctx is still live, Do starts a new flight.
func (g *IdempotencyGuard) Do(ctx context.Context, key string, fn func() (Receipt, error)) (receipt Receipt, duplicate bool, err error) {
	for {
		ran := false
		ch := g.flights.DoChan(key, func() (interface{}, error) {
			if r, ok := g.store.Lookup(key); ok {
				return flightResult{receipt: r, existing: true}, nil
			}
			ran = true
			r, err := fn()
			if err != nil {
				return nil, err
			}
			return flightResult{receipt: r}, nil
		})

		select {
		case <-ctx.Done():
			return Receipt{}, false, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				if !ran && isContextError(res.Err) && ctx.Err() == nil {
					continue
				}
				return Receipt{}, false, res.Err
			}
			fr := res.Val.(flightResult)
			return fr.receipt, !ran || fr.existing, nil
		}
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
