package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wyh-tools/Course-Sentinel/internal/portal"
)

// fakePortal scripts the wire layer for engine tests. Function fields
// override behavior per test; every select and drop call is recorded.
type fakePortal struct {
	mu       sync.Mutex
	findFn   func(target portal.TeachingClassRecord) (portal.TeachingClassRecord, bool, portal.Status, error)
	selectFn func(tcID string, typ portal.CourseType) portal.SelectResult
	dropFn   func(tcID string) (bool, string, portal.Status)
	listFn   func() ([]portal.SelectedCourse, portal.Status, error)
	probeFn  func() portal.ProbeResult

	findCalls   int
	selectCalls []string
	dropCalls   []string
}

func (f *fakePortal) FindSection(_ context.Context, target portal.TeachingClassRecord) (portal.TeachingClassRecord, bool, portal.Status, error) {
	f.mu.Lock()
	f.findCalls++
	fn := f.findFn
	f.mu.Unlock()
	if fn == nil {
		return portal.TeachingClassRecord{}, false, portal.StatusOK, nil
	}
	return fn(target)
}

func (f *fakePortal) Select(_ context.Context, tcID string, typ portal.CourseType) portal.SelectResult {
	f.mu.Lock()
	f.selectCalls = append(f.selectCalls, tcID)
	fn := f.selectFn
	f.mu.Unlock()
	if fn == nil {
		return portal.SelectResult{Outcome: portal.SelectError, Msg: "unscripted"}
	}
	return fn(tcID, typ)
}

func (f *fakePortal) Drop(_ context.Context, tcID string) (bool, string, portal.Status) {
	f.mu.Lock()
	f.dropCalls = append(f.dropCalls, tcID)
	fn := f.dropFn
	f.mu.Unlock()
	if fn == nil {
		return false, "unscripted", portal.StatusOK
	}
	return fn(tcID)
}

func (f *fakePortal) ListSelected(context.Context) ([]portal.SelectedCourse, portal.Status, error) {
	f.mu.Lock()
	fn := f.listFn
	f.mu.Unlock()
	if fn == nil {
		return nil, portal.StatusOK, nil
	}
	return fn()
}

func (f *fakePortal) ProbeLogin(context.Context) portal.ProbeResult {
	f.mu.Lock()
	fn := f.probeFn
	f.mu.Unlock()
	if fn == nil {
		return portal.ProbeOnline
	}
	return fn()
}

func (f *fakePortal) selected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.selectCalls...)
}

func (f *fakePortal) dropped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dropCalls...)
}

func (f *fakePortal) finds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findCalls
}

// fakeGate is a scriptable recovery gate.
type fakeGate struct {
	mu       sync.Mutex
	latched  bool
	recovers int
}

func (g *fakeGate) Latched() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latched
}

func (g *fakeGate) Recover(context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recovers++
	return !g.latched
}

func (g *fakeGate) recoverCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.recovers
}

func openSection(tcID, name string) portal.TeachingClassRecord {
	return portal.TeachingClassRecord{
		TeachingClassID: tcID,
		CourseName:      name,
		Type:            portal.TypeRecommended,
		Capacity:        40,
		Enrolled:        39,
	}
}

func acquired() portal.SelectResult {
	return portal.SelectResult{Outcome: portal.SelectAcquired, Msg: "选课成功"}
}

func heldList(entries ...portal.SelectedCourse) func() ([]portal.SelectedCourse, portal.Status, error) {
	return func() ([]portal.SelectedCourse, portal.Status, error) {
		return entries, portal.StatusOK, nil
	}
}

func listUnavailable() ([]portal.SelectedCourse, portal.Status, error) {
	return nil, portal.StatusNetworkError, errors.New("connection reset")
}

// waitFor polls cond until it holds or the real-time deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
