// Package events provides a fan-out pub/sub event bus. The UI shell (or
// a test harness) subscribes here; the core never blocks on a slow
// consumer.
package events

import (
	"sync"
	"time"
)

// Kind identifies the kind of core event.
type Kind string

const (
	KindStatus         Kind = "status"
	KindLoginStatus    Kind = "login_status"
	KindHeartbeat      Kind = "heartbeat"
	KindGrabSuccess    Kind = "grab_success"
	KindGrabFailed     Kind = "grab_failed"
	KindAvailability   Kind = "availability_detected"
	KindSessionUpdated Kind = "session_updated"
	KindNeedRelogin    Kind = "need_relogin"
	KindSwapDangling   Kind = "swap_dangling"
)

// Event is a single event published through the bus.
type Event struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message,omitempty"`

	// Course fields, set on grab/availability events.
	TeachingClassID string `json:"teaching_class_id,omitempty"`
	CourseName      string `json:"course_name,omitempty"`
	Teacher         string `json:"teacher,omitempty"`
	Remain          int    `json:"remain,omitempty"`
	Capacity        int    `json:"capacity,omitempty"`

	// Swap fields.
	SwappedOut string `json:"swapped_out,omitempty"`

	// Login/session fields.
	Online bool   `json:"online,omitempty"`
	Token  string `json:"token,omitempty"`

	// Heartbeat counter value.
	Heartbeat uint64 `json:"heartbeat,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Bus is a fan-out pub/sub event bus. Subscribers receive all events
// published after they subscribe. Slow subscribers that fall behind have
// events dropped rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next uint64
}

// New creates a ready-to-use Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[uint64]chan Event),
	}
}

// Publish sends an event to all current subscribers. If a subscriber's
// buffer is full, the event is dropped for that subscriber (non-blocking).
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Subscriber buffer full -- drop the event rather than blocking.
		}
	}
}

// Subscribe returns a channel that receives all future events and a
// cancel function that unsubscribes and closes the channel. The caller
// must invoke cancel when done to avoid resource leaks.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}

	return ch, cancel
}
