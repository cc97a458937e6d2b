package engine

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/wyh-tools/Course-Sentinel/internal/clock"
	"github.com/wyh-tools/Course-Sentinel/internal/logging"
	"github.com/wyh-tools/Course-Sentinel/internal/metrics"
	"github.com/wyh-tools/Course-Sentinel/internal/portal"
	"github.com/wyh-tools/Course-Sentinel/internal/timetable"
)

const (
	// rollbackDeadline is the hard wall-clock limit on the emergency
	// rollback loop. Past it the dropped section is left dangling and
	// the student reconciles manually.
	rollbackDeadline = 5 * time.Minute
	rollbackInterval = 700 * time.Millisecond

	// Minimum held-name prefix length for the fuzzy locate strategy.
	prefixLen = 4
)

// bracketToken extracts bracketed course names from a conflict
// description, in either ASCII or fullwidth brackets.
var bracketToken = regexp.MustCompile(`[\[【]([^\]】]+)[\]】]`)

// SwapResult reports how a swap run ended. Exactly one of the three
// terminal shapes holds: target acquired, rolled back, or dangling.
type SwapResult struct {
	TargetAcquired bool
	RolledBack     bool
	Dangling       bool
	Dropped        *portal.SelectedCourse
	Detail         string
}

// Swapper runs the drop/take/rollback protocol for a conflicting target.
type Swapper struct {
	portal Portal
	grab   *Grabber
	clk    clock.Clock
	log    *logging.Logger

	// deadline bounds the emergency rollback loop; the scheduler
	// overrides it with the configured recover deadline.
	deadline time.Duration
}

// NewSwapper creates a swap protocol runner.
func NewSwapper(p Portal, grab *Grabber, clk clock.Clock, log *logging.Logger) *Swapper {
	return &Swapper{portal: p, grab: grab, clk: clk, log: log, deadline: rollbackDeadline}
}

// Swap locates the held section conflicting with target, drops it,
// takes the target, and verifies. When the take fails after a
// successful drop, the emergency rollback loop re-acquires the dropped
// section until it succeeds or the deadline elapses.
func (s *Swapper) Swap(ctx context.Context, target portal.TeachingClassRecord) SwapResult {
	held, status, err := s.portal.ListSelected(ctx)
	if status != portal.StatusOK || err != nil {
		metrics.SwapsTotal.WithLabelValues("locate_failed").Inc()
		return SwapResult{Detail: "could not list held sections"}
	}

	victim, ok := locate(target, held)
	if !ok {
		s.log.Warn("cannot locate conflicting held section",
			"course", target.CourseName, "conflict_desc", target.ConflictDesc)
		metrics.SwapsTotal.WithLabelValues("locate_failed").Inc()
		return SwapResult{Detail: "cannot locate conflicting section"}
	}

	s.log.Info("swap: dropping held section",
		"drop", victim.Name, "drop_tc_id", victim.TeachingClassID,
		"take", target.CourseName, "take_tc_id", target.TeachingClassID)

	dropped, msg, _ := s.portal.Drop(ctx, victim.TeachingClassID)
	if !dropped {
		s.log.Warn("swap: drop refused", "section", victim.Name, "msg", msg)
		metrics.SwapsTotal.WithLabelValues("drop_failed").Inc()
		return SwapResult{Detail: "drop refused: " + msg}
	}

	res := s.grab.Grab(ctx, target)
	if res.Outcome == portal.SelectAcquired {
		metrics.SwapsTotal.WithLabelValues("acquired").Inc()
		return SwapResult{TargetAcquired: true, Dropped: &victim}
	}

	s.log.Warn("swap: take failed after drop, entering rollback",
		"take_msg", res.Msg, "reacquire", victim.Name)
	return s.rollback(ctx, victim, res.Msg)
}

// rollback re-acquires the dropped section. Exit conditions in priority
// order: re-acquisition verified, stop requested, deadline elapsed.
func (s *Swapper) rollback(ctx context.Context, victim portal.SelectedCourse, takeMsg string) SwapResult {
	start := s.clk.Now()

	for {
		if ctx.Err() != nil {
			metrics.SwapsTotal.WithLabelValues("dangling").Inc()
			return SwapResult{Dangling: true, Dropped: &victim, Detail: "stopped during rollback: " + takeMsg}
		}
		if s.clk.Since(start) >= s.deadline {
			s.log.Error("rollback deadline elapsed, section left dangling",
				"section", victim.Name, "tc_id", victim.TeachingClassID)
			metrics.SwapsTotal.WithLabelValues("dangling").Inc()
			return SwapResult{Dangling: true, Dropped: &victim, Detail: "rollback deadline elapsed: " + takeMsg}
		}

		res := s.portal.Select(ctx, victim.TeachingClassID, victim.Type)
		if res.Outcome == portal.SelectAcquired {
			// Already-selected replies classify as acquired, so a
			// rollback that raced its own earlier select still lands
			// here.
			present, listOK := s.grab.Held(ctx, victim.TeachingClassID)
			if !listOK || present {
				s.log.Info("rollback succeeded, original timetable restored", "section", victim.Name)
				metrics.SwapsTotal.WithLabelValues("rolled_back").Inc()
				return SwapResult{RolledBack: true, Dropped: &victim, Detail: takeMsg}
			}
		}

		if !clock.Sleep(ctx, s.clk, rollbackInterval) {
			metrics.SwapsTotal.WithLabelValues("dangling").Inc()
			return SwapResult{Dangling: true, Dropped: &victim, Detail: "stopped during rollback: " + takeMsg}
		}
	}
}

// locate picks the held section conflicting with the target. Strategies
// run in order; the first hit wins.
func locate(target portal.TeachingClassRecord, held []portal.SelectedCourse) (portal.SelectedCourse, bool) {
	candidates := make([]portal.SelectedCourse, 0, len(held))
	for _, h := range held {
		if h.TeachingClassID != target.TeachingClassID {
			candidates = append(candidates, h)
		}
	}
	if len(candidates) == 0 {
		return portal.SelectedCourse{}, false
	}
	desc := target.ConflictDesc

	// (a) Held name appears verbatim in the conflict description.
	if desc != "" {
		for _, h := range candidates {
			if h.Name != "" && strings.Contains(desc, h.Name) {
				return h, true
			}
		}

		// (b) A bracketed token in the description names a held course.
		for _, m := range bracketToken.FindAllStringSubmatch(desc, -1) {
			token := strings.TrimSpace(m[1])
			for _, h := range candidates {
				if h.Name != "" && (h.Name == token || strings.Contains(token, h.Name) || strings.Contains(h.Name, token)) {
					return h, true
				}
			}
		}

		// (c) A held-name prefix of a few characters appears in the
		// description; catches truncated names.
		for _, h := range candidates {
			runes := []rune(h.Name)
			if len(runes) >= prefixLen && strings.Contains(desc, string(runes[:prefixLen])) {
				return h, true
			}
		}
	}

	// (d) Structural overlap between the parsed timetables.
	if target.TimePlace != "" {
		for _, h := range candidates {
			if timetable.Conflicts(target.TimePlace, h.Time) {
				return h, true
			}
		}
	}

	// (e) A single held course has to be the one.
	if len(candidates) == 1 {
		return candidates[0], true
	}
	return portal.SelectedCourse{}, false
}
