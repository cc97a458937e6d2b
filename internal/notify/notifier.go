// Package notify delivers grab and session events to external channels.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/wyh-tools/Course-Sentinel/internal/events"
)

// Notifier sends events to an external system.
type Notifier interface {
	Send(ctx context.Context, event events.Event) error
	Name() string
}

// Logger is a minimal logging interface to avoid importing the logging package.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Multi fans out events to multiple notifiers.
// It never returns errors — failures are logged but don't block the monitors.
type Multi struct {
	mu        sync.RWMutex
	notifiers []Notifier
	log       Logger
}

// NewMulti creates a dispatcher from the given notifiers.
func NewMulti(log Logger, notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers, log: log}
}

// Notify sends an event to all registered notifiers.
// Returns true if at least one notifier succeeded (or none are configured).
// Errors are logged but never propagated.
func (m *Multi) Notify(ctx context.Context, event events.Event) bool {
	m.mu.RLock()
	notifiers := m.notifiers
	m.mu.RUnlock()

	if len(notifiers) == 0 {
		return true
	}

	anyOK := false
	for _, n := range notifiers {
		if err := n.Send(ctx, event); err != nil {
			m.log.Error("notification failed",
				"provider", n.Name(),
				"event", string(event.Kind),
				"course", event.CourseName,
				"error", err.Error(),
			)
		} else {
			anyOK = true
		}
	}
	return anyOK
}

// Reconfigure replaces the notifier chain at runtime.
func (m *Multi) Reconfigure(notifiers ...Notifier) {
	m.mu.Lock()
	m.notifiers = notifiers
	m.mu.Unlock()
}

// formatTitle produces a human-readable notification title.
func formatTitle(k events.Kind) string {
	readable := strings.ReplaceAll(string(k), "_", " ")
	words := strings.Fields(readable)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return "Sentinel: " + strings.Join(words, " ")
}

// formatMessage builds the notification body from event fields.
func formatMessage(e events.Event) string {
	var b strings.Builder
	if e.CourseName != "" {
		fmt.Fprintf(&b, "Course: %s\n", e.CourseName)
	}
	if e.Teacher != "" {
		fmt.Fprintf(&b, "Teacher: %s\n", e.Teacher)
	}
	if e.TeachingClassID != "" {
		fmt.Fprintf(&b, "Class: %s\n", e.TeachingClassID)
	}
	if e.Capacity > 0 {
		fmt.Fprintf(&b, "Seats: %d/%d remaining\n", e.Remain, e.Capacity)
	}
	if e.SwappedOut != "" {
		fmt.Fprintf(&b, "Dropped: %s\n", e.SwappedOut)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, "%s\n", e.Message)
	}
	return b.String()
}
