package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/wyh-tools/Course-Sentinel/internal/clock"
	"github.com/wyh-tools/Course-Sentinel/internal/events"
	"github.com/wyh-tools/Course-Sentinel/internal/logging"
	"github.com/wyh-tools/Course-Sentinel/internal/metrics"
	"github.com/wyh-tools/Course-Sentinel/internal/portal"
	"github.com/wyh-tools/Course-Sentinel/internal/store"
)

const (
	idleSleep      = time.Second
	queryFailSleep = 1500 * time.Millisecond
	attemptSleep   = 300 * time.Millisecond
	swapFailSleep  = 2 * time.Second

	// lastRemain sentinel meaning "never observed".
	remainUnknown = -999
)

// RecoveryGate is the slice of the recovery coordinator the engine
// consults: whether credentials are permanently rejected, and a way to
// trigger a recovery from the login probe.
type RecoveryGate interface {
	Latched() bool
	Recover(ctx context.Context) bool
}

// History is where completed grabs are recorded. Satisfied by the bolt
// store; nil-able via the noop in scheduler wiring.
type History interface {
	AppendHistory(rec store.GrabRecord) error
}

// Monitor watches one wishlist entry and commits the seat when the
// safety predicate holds.
type Monitor struct {
	entry portal.TeachingClassRecord
	wl    *Wishlist
	port  Portal
	grab  *Grabber
	swap  *Swapper
	gate  RecoveryGate
	bus   *events.Bus
	hist  History
	clk   clock.Clock
	log   *logging.Logger

	// idle is the sleep between polls while the section has no seats;
	// the scheduler overrides it with the configured poll interval.
	idle time.Duration

	// Duplicate-event suppression only. Never used for control
	// decisions.
	lastRemain    int
	lastStatusTag string
}

// NewMonitor creates a monitor for one wishlist entry.
func NewMonitor(entry portal.TeachingClassRecord, wl *Wishlist, port Portal, grab *Grabber, swap *Swapper, gate RecoveryGate, bus *events.Bus, hist History, clk clock.Clock, log *logging.Logger) *Monitor {
	return &Monitor{
		entry:      entry,
		wl:         wl,
		port:       port,
		grab:       grab,
		swap:       swap,
		gate:       gate,
		bus:        bus,
		hist:       hist,
		clk:        clk,
		log:        log,
		idle:       idleSleep,
		lastRemain: remainUnknown,
	}
}

// Run polls the section until it is acquired, removed from the
// wishlist, or the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info("monitor started", "course", m.entry.CourseName, "tc_id", m.entry.TeachingClassID)

	for {
		if ctx.Err() != nil {
			return
		}
		if !m.wl.Contains(m.entry.TeachingClassID) {
			m.log.Info("monitor exiting, entry removed", "course", m.entry.CourseName)
			return
		}

		rec, found, status, err := m.port.FindSection(ctx, m.entry)
		switch {
		case status == portal.StatusExpired:
			// The wire layer already retried through recovery; landing
			// here means recovery could not produce a session.
			if m.gate.Latched() {
				m.status("query-latched", remainUnknown, "monitor stopped, re-login with fresh credentials required")
				return
			}
			if !clock.Sleep(ctx, m.clk, queryFailSleep) {
				return
			}
			continue
		case status != portal.StatusOK || err != nil:
			m.status("query-failed", remainUnknown, fmt.Sprintf("query failed for %s", m.entry.CourseName))
			if !clock.Sleep(ctx, m.clk, queryFailSleep) {
				return
			}
			continue
		case !found:
			// No row means no information. Never a speculative select.
			m.status("query-miss", remainUnknown, fmt.Sprintf("%s missing from catalog response", m.entry.CourseName))
			if !clock.Sleep(ctx, m.clk, m.idle) {
				return
			}
			continue
		}

		if rec.IsChosen {
			m.status("chosen", rec.Remain(), fmt.Sprintf("%s already held, stopping watch", rec.CourseName))
			m.wl.Remove(m.entry.TeachingClassID)
			return
		}

		// Ghost capacity outranks any numeric remainder.
		if rec.IsFull {
			tag := "full"
			if rec.Remain() > 0 {
				tag = "ghost-capacity"
				m.status(tag, rec.Remain(), fmt.Sprintf("%s reports %d seats but is flagged full, not selecting", rec.CourseName, rec.Remain()))
			} else {
				m.status(tag, rec.Remain(), fmt.Sprintf("%s full", rec.CourseName))
			}
			if !clock.Sleep(ctx, m.clk, m.idle) {
				return
			}
			continue
		}

		if rec.Remain() <= 0 {
			m.status("full", rec.Remain(), fmt.Sprintf("%s has no seats", rec.CourseName))
			if !clock.Sleep(ctx, m.clk, m.idle) {
				return
			}
			continue
		}

		// Safety predicate holds: seats open, not full, not held.
		m.announceAvailability(rec)

		if rec.IsConflict && rec.ConflictDesc != "" {
			// A known conflict would only burn the select call.
			if m.runSwap(ctx, rec) {
				return
			}
			if !clock.Sleep(ctx, m.clk, swapFailSleep) {
				return
			}
			continue
		}

		start := m.clk.Now()
		res := m.grab.Grab(ctx, rec)
		switch res.Outcome {
		case portal.SelectAcquired:
			m.succeed(rec, "", m.clk.Since(start))
			return
		case portal.SelectConflict:
			target := rec
			if target.ConflictDesc == "" {
				target.ConflictDesc = res.Msg
			}
			if m.runSwap(ctx, target) {
				return
			}
			if !clock.Sleep(ctx, m.clk, swapFailSleep) {
				return
			}
		case portal.SelectExpired:
			if m.gate.Latched() {
				m.status("select-latched", rec.Remain(), "monitor stopped, re-login with fresh credentials required")
				return
			}
			if !clock.Sleep(ctx, m.clk, queryFailSleep) {
				return
			}
		default:
			// Full or transient error: somebody else took the seat, or
			// the portal hiccupped. Keep polling.
			m.log.Debug("select attempt did not land", "course", rec.CourseName, "outcome", res.Outcome.String(), "msg", res.Msg)
			if !clock.Sleep(ctx, m.clk, attemptSleep) {
				return
			}
		}
	}
}

// runSwap drives the swap protocol and reports whether the monitor is
// done with this entry.
func (m *Monitor) runSwap(ctx context.Context, target portal.TeachingClassRecord) bool {
	result := m.swap.Swap(ctx, target)

	switch {
	case result.TargetAcquired:
		swappedOut := ""
		if result.Dropped != nil {
			swappedOut = result.Dropped.Name
		}
		m.succeed(target, swappedOut, 0)
		return true

	case result.Dangling:
		droppedName, droppedID := "", ""
		if result.Dropped != nil {
			droppedName, droppedID = result.Dropped.Name, result.Dropped.TeachingClassID
		}
		m.log.Error("swap left a dropped section dangling, manual reconciliation required",
			"dropped", droppedName, "dropped_tc_id", droppedID, "target", target.CourseName)
		m.bus.Publish(events.Event{
			Kind:            events.KindSwapDangling,
			TeachingClassID: target.TeachingClassID,
			CourseName:      target.CourseName,
			SwappedOut:      droppedName,
			Message:         result.Detail,
		})
		m.record(target, "dangling", result.Detail, droppedName, 0)
		// The entry stays on the wishlist, flagged at risk.
		return false

	case result.RolledBack:
		m.bus.Publish(events.Event{
			Kind:            events.KindGrabFailed,
			TeachingClassID: target.TeachingClassID,
			CourseName:      target.CourseName,
			Message:         fmt.Sprintf("swap failed, original timetable restored: %s", result.Detail),
		})
		m.record(target, "rolled_back", result.Detail, rolledBackName(result), 0)
		return false

	default:
		m.status("swap-blocked", target.Remain(), fmt.Sprintf("swap not possible for %s: %s", target.CourseName, result.Detail))
		return false
	}
}

func rolledBackName(r SwapResult) string {
	if r.Dropped != nil {
		return r.Dropped.Name
	}
	return ""
}

// succeed removes the entry and then surfaces the success. Removal
// happens first so a crash between the two never re-grabs.
func (m *Monitor) succeed(rec portal.TeachingClassRecord, swappedOut string, dur time.Duration) {
	m.wl.Remove(m.entry.TeachingClassID)
	m.log.Info("seat acquired", "course", rec.CourseName, "teacher", rec.Teacher, "tc_id", rec.TeachingClassID)
	m.bus.Publish(events.Event{
		Kind:            events.KindGrabSuccess,
		TeachingClassID: rec.TeachingClassID,
		CourseName:      rec.CourseName,
		Teacher:         rec.Teacher,
		Remain:          rec.Remain(),
		Capacity:        rec.Capacity,
		SwappedOut:      swappedOut,
		Message:         fmt.Sprintf("acquired %s (%s)", rec.CourseName, rec.Teacher),
	})
	m.record(rec, "acquired", "", swappedOut, dur)
}

// announceAvailability emits the availability event once per opening.
func (m *Monitor) announceAvailability(rec portal.TeachingClassRecord) {
	if m.lastStatusTag == "available" && m.lastRemain == rec.Remain() {
		return
	}
	m.lastStatusTag = "available"
	m.lastRemain = rec.Remain()
	metrics.AvailabilityTotal.Inc()
	m.log.Info("seats available", "course", rec.CourseName, "teacher", rec.Teacher, "remain", rec.Remain(), "capacity", rec.Capacity)
	m.bus.Publish(events.Event{
		Kind:            events.KindAvailability,
		TeachingClassID: rec.TeachingClassID,
		CourseName:      rec.CourseName,
		Teacher:         rec.Teacher,
		Remain:          rec.Remain(),
		Capacity:        rec.Capacity,
	})
}

// status emits a status event, suppressing repeats of the same tag and
// remainder.
func (m *Monitor) status(tag string, remain int, msg string) {
	if tag == m.lastStatusTag && remain == m.lastRemain {
		return
	}
	m.lastStatusTag = tag
	m.lastRemain = remain
	m.log.Info(msg, "course", m.entry.CourseName, "state", tag)
	m.bus.Publish(events.Event{
		Kind:            events.KindStatus,
		TeachingClassID: m.entry.TeachingClassID,
		CourseName:      m.entry.CourseName,
		Message:         msg,
	})
}

// record appends to the grab history; best effort.
func (m *Monitor) record(rec portal.TeachingClassRecord, outcome, detail, swappedOut string, dur time.Duration) {
	if m.hist == nil {
		return
	}
	err := m.hist.AppendHistory(store.GrabRecord{
		Timestamp:       m.clk.Now().UTC(),
		TeachingClassID: rec.TeachingClassID,
		CourseName:      rec.CourseName,
		Teacher:         rec.Teacher,
		Outcome:         outcome,
		Detail:          detail,
		SwappedOut:      swappedOut,
		Duration:        dur,
	})
	if err != nil {
		m.log.Warn("could not record grab history", "error", err)
	}
}
