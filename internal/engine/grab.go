package engine

import (
	"context"
	"time"

	"github.com/wyh-tools/Course-Sentinel/internal/clock"
	"github.com/wyh-tools/Course-Sentinel/internal/logging"
	"github.com/wyh-tools/Course-Sentinel/internal/metrics"
	"github.com/wyh-tools/Course-Sentinel/internal/portal"
)

// verifyDelay gives the portal a moment to commit the volunteer entry
// before the held-sections check.
const verifyDelay = 300 * time.Millisecond

// Portal is the slice of the wire layer the engine uses. Implemented by
// the portal client; the interface keeps the engine testable against a
// scripted fake.
type Portal interface {
	FindSection(ctx context.Context, target portal.TeachingClassRecord) (portal.TeachingClassRecord, bool, portal.Status, error)
	Select(ctx context.Context, tcID string, typ portal.CourseType) portal.SelectResult
	Drop(ctx context.Context, tcID string) (bool, string, portal.Status)
	ListSelected(ctx context.Context) ([]portal.SelectedCourse, portal.Status, error)
	ProbeLogin(ctx context.Context) portal.ProbeResult
}

// Grabber submits select calls and verifies membership afterwards.
type Grabber struct {
	portal Portal
	clk    clock.Clock
	log    *logging.Logger
}

// NewGrabber creates a grab protocol runner.
func NewGrabber(p Portal, clk clock.Clock, log *logging.Logger) *Grabber {
	return &Grabber{portal: p, clk: clk, log: log}
}

// Grab submits the select request and, on an accepted outcome, confirms
// membership via the held-sections list. A verify that cannot be
// performed is treated optimistically: the server said yes, believe it.
// A verify that runs and does not find the section downgrades the
// outcome so the monitor keeps polling.
func (g *Grabber) Grab(ctx context.Context, target portal.TeachingClassRecord) portal.SelectResult {
	start := g.clk.Now()
	res := g.portal.Select(ctx, target.TeachingClassID, target.Type)
	if res.Outcome != portal.SelectAcquired {
		metrics.GrabsTotal.WithLabelValues(res.Outcome.String()).Inc()
		return res
	}

	clock.Sleep(ctx, g.clk, verifyDelay)
	present, listOK := g.Held(ctx, target.TeachingClassID)
	if listOK && !present {
		g.log.Warn("select accepted but section not held, resuming watch",
			"tc_id", target.TeachingClassID, "course", target.CourseName)
		metrics.GrabsTotal.WithLabelValues("unverified").Inc()
		return portal.SelectResult{Outcome: portal.SelectError, Msg: "select accepted but not held"}
	}

	metrics.GrabsTotal.WithLabelValues("acquired").Inc()
	metrics.GrabDuration.Observe(g.clk.Since(start).Seconds())
	return res
}

// Held reports whether the teaching class appears in the student's held
// sections. listOK is false when the listing itself failed, which
// callers treat optimistically.
func (g *Grabber) Held(ctx context.Context, tcID string) (present, listOK bool) {
	held, status, err := g.portal.ListSelected(ctx)
	if status != portal.StatusOK || err != nil {
		return false, false
	}
	for _, h := range held {
		if h.TeachingClassID == tcID {
			return true, true
		}
	}
	return false, true
}
