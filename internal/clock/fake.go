package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced clock for tests. After-channels fire when
// Advance moves the fake time past their deadline.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

// NewFake creates a Fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Since(t time.Time) time.Duration {
	return f.Now().Sub(t)
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	at := f.now.Add(d)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.waiters = append(f.waiters, fakeWaiter{at: at, ch: ch})
	return ch
}

// Advance moves the fake time forward and fires any due After-channels.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.at.After(f.now) {
			w.ch <- f.now
		} else {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining
}

// AutoAdvance moves the fake time forward on every After call so loops
// that sleep in real code spin freely in tests. Each pending waiter is
// released immediately.
type AutoAdvance struct {
	mu  sync.Mutex
	now time.Time
}

// NewAutoAdvance creates an AutoAdvance clock starting at the given time.
func NewAutoAdvance(start time.Time) *AutoAdvance {
	return &AutoAdvance{now: start}
}

func (a *AutoAdvance) Now() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now
}

func (a *AutoAdvance) Since(t time.Time) time.Duration {
	return a.Now().Sub(t)
}

func (a *AutoAdvance) After(d time.Duration) <-chan time.Time {
	a.mu.Lock()
	a.now = a.now.Add(d)
	now := a.now
	a.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}
