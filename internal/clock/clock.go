// Package clock abstracts time operations so monitor loops and the
// rollback deadline can be tested without real waiting.
package clock

import (
	"context"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Since(t time.Time) time.Duration
}

// Real uses the standard library time functions.
type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (Real) Since(t time.Time) time.Duration        { return time.Since(t) }

// Sleep waits for d or until ctx is cancelled, whichever comes first.
// Returns false when the wait was cut short by cancellation.
func Sleep(ctx context.Context, clk Clock, d time.Duration) bool {
	select {
	case <-clk.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
