// Package recovery coordinates session re-login: at most one recovery
// runs at a time, concurrent callers share its outcome, and rejected
// credentials latch the coordinator off until fresh ones arrive.
package recovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wyh-tools/Course-Sentinel/internal/events"
	"github.com/wyh-tools/Course-Sentinel/internal/logging"
	"github.com/wyh-tools/Course-Sentinel/internal/login"
	"github.com/wyh-tools/Course-Sentinel/internal/metrics"
	"github.com/wyh-tools/Course-Sentinel/internal/portal"
)

const (
	loginAttempts = 3
	attemptGap    = 500 * time.Millisecond
	// How long a waiter blocks behind someone else's recovery before
	// giving up on this call.
	defaultWaitTimeout = 30 * time.Second
)

// SessionSink receives the recovered session. Implemented by the portal
// client.
type SessionSink interface {
	SetSession(portal.Session)
}

// LoginFlow is the slice of the login flow the coordinator drives.
// Implemented by *login.Flow.
type LoginFlow interface {
	Login(ctx context.Context) (portal.Session, error)
	SetCredentials(portal.Credentials)
}

// Coordinator is the single-flight gate in front of the login flow.
type Coordinator struct {
	flow LoginFlow
	sink SessionSink
	bus  *events.Bus
	log  *logging.Logger

	waitTimeout time.Duration

	mu       sync.Mutex
	inflight chan struct{} // non-nil while a recovery runs
	lastOK   bool
	latched  bool
	notified bool // need-relogin surfaced once per latch
}

// New creates a recovery coordinator.
func New(flow LoginFlow, sink SessionSink, bus *events.Bus, log *logging.Logger) *Coordinator {
	return &Coordinator{
		flow:        flow,
		sink:        sink,
		bus:         bus,
		log:         log,
		waitTimeout: defaultWaitTimeout,
	}
}

// Latched reports whether a permanent auth failure has been recorded.
func (c *Coordinator) Latched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latched
}

// ResetCredentials installs fresh credentials and clears the latch.
func (c *Coordinator) ResetCredentials(creds portal.Credentials) {
	c.flow.SetCredentials(creds)
	c.mu.Lock()
	c.latched = false
	c.notified = false
	c.mu.Unlock()
	c.log.Info("credentials replaced, recovery re-armed")
}

// Recover restores the session. If another recovery is already in
// flight the caller waits (bounded) for its outcome instead of racing a
// parallel login. Returns true when a fresh session was published.
func (c *Coordinator) Recover(ctx context.Context) bool {
	c.mu.Lock()
	if c.latched {
		c.mu.Unlock()
		return false
	}
	if ch := c.inflight; ch != nil {
		c.mu.Unlock()
		select {
		case <-ch:
			c.mu.Lock()
			ok := c.lastOK
			c.mu.Unlock()
			return ok
		case <-time.After(c.waitTimeout):
			return false
		case <-ctx.Done():
			return false
		}
	}
	ch := make(chan struct{})
	c.inflight = ch
	c.mu.Unlock()

	ok := c.run(ctx)

	c.mu.Lock()
	c.lastOK = ok
	c.inflight = nil
	c.mu.Unlock()
	close(ch)
	return ok
}

// run performs up to 3 login attempts and publishes the new session.
func (c *Coordinator) run(ctx context.Context) bool {
	c.log.Info("session expired, recovering")
	c.bus.Publish(events.Event{Kind: events.KindStatus, Message: "session expired, recovering in the background"})

	for attempt := 1; attempt <= loginAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}

		sess, err := c.flow.Login(ctx)
		if err == nil {
			c.sink.SetSession(sess)
			metrics.RecoveriesTotal.WithLabelValues("success").Inc()
			c.log.Info("session recovered", "attempt", attempt)
			c.bus.Publish(events.Event{
				Kind:    events.KindSessionUpdated,
				Message: "session recovered",
				Token:   sess.Token,
			})
			return true
		}

		if errors.Is(err, login.ErrCredentialsRejected) {
			c.latch(err)
			return false
		}

		c.log.Warn("recovery attempt failed", "attempt", attempt, "error", err)
		select {
		case <-time.After(attemptGap):
		case <-ctx.Done():
			return false
		}
	}

	metrics.RecoveriesTotal.WithLabelValues("failed").Inc()
	c.log.Error("session recovery failed", "attempts", loginAttempts)
	return false
}

// latch records a permanent auth failure and surfaces need-relogin
// exactly once.
func (c *Coordinator) latch(err error) {
	c.mu.Lock()
	alreadyNotified := c.notified
	c.latched = true
	c.notified = true
	c.mu.Unlock()

	metrics.RecoveriesTotal.WithLabelValues("rejected").Inc()
	c.log.Error("credentials rejected, recovery disabled until new credentials", "error", err)
	if !alreadyNotified {
		c.bus.Publish(events.Event{Kind: events.KindNeedRelogin, Message: err.Error()})
	}
}
