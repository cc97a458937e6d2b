// Package engine contains the monitor-and-grab core: the wishlist
// registry, per-section monitors, the grab protocol with post-verify,
// the swap state machine with emergency rollback, and the scheduler
// that supervises them.
package engine

import (
	"sync"

	"github.com/wyh-tools/Course-Sentinel/internal/portal"
)

// Wishlist is the mutable set of target sections, keyed by teaching
// class ID. A single coarse lock covers all operations; callers iterate
// over snapshots outside the lock. External mutation while monitors are
// running is allowed.
type Wishlist struct {
	mu      sync.Mutex
	entries map[string]portal.TeachingClassRecord
}

// NewWishlist creates an empty wishlist.
func NewWishlist() *Wishlist {
	return &Wishlist{entries: make(map[string]portal.TeachingClassRecord)}
}

// Add inserts a target. A no-op when the teaching class is already
// present, which keeps IDs unique.
func (w *Wishlist) Add(rec portal.TeachingClassRecord) bool {
	if rec.TeachingClassID == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.entries[rec.TeachingClassID]; ok {
		return false
	}
	w.entries[rec.TeachingClassID] = rec
	return true
}

// Remove deletes a target by teaching class ID.
func (w *Wishlist) Remove(tcID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, tcID)
}

// Contains reports whether the teaching class is still targeted.
func (w *Wishlist) Contains(tcID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entries[tcID]
	return ok
}

// Snapshot returns a shallow copy of the current targets.
func (w *Wishlist) Snapshot() []portal.TeachingClassRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]portal.TeachingClassRecord, 0, len(w.entries))
	for _, rec := range w.entries {
		out = append(out, rec)
	}
	return out
}

// Len returns the number of targets.
func (w *Wishlist) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
