package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wyh-tools/Course-Sentinel/internal/clock"
	"github.com/wyh-tools/Course-Sentinel/internal/events"
	"github.com/wyh-tools/Course-Sentinel/internal/logging"
	"github.com/wyh-tools/Course-Sentinel/internal/portal"
)

func newTestScheduler(wl *Wishlist, fp *fakePortal, gate RecoveryGate, bus *events.Bus) *Scheduler {
	return NewScheduler(wl, fp, gate, bus, nil, clock.NewAutoAdvance(time.Now()), logging.New(false),
		Tuning{SupervisorTick: time.Millisecond})
}

func TestSchedulerAppliesTuning(t *testing.T) {
	wl := NewWishlist()
	bus := events.New()
	clk := clock.NewAutoAdvance(time.Now())
	log := logging.New(false)

	s := NewScheduler(wl, &fakePortal{}, &fakeGate{}, bus, nil, clk, log, Tuning{
		PollInterval:     250 * time.Millisecond,
		ProbeInterval:    2 * time.Minute,
		SupervisorTick:   100 * time.Millisecond,
		RollbackDeadline: time.Minute,
	})
	if s.pollInterval != 250*time.Millisecond {
		t.Errorf("poll interval = %s, want 250ms", s.pollInterval)
	}
	if s.probeInterval != 2*time.Minute {
		t.Errorf("probe interval = %s, want 2m", s.probeInterval)
	}
	if s.supervisorTick != 100*time.Millisecond {
		t.Errorf("supervisor tick = %s, want 100ms", s.supervisorTick)
	}
	if s.swap.deadline != time.Minute {
		t.Errorf("rollback deadline = %s, want 1m", s.swap.deadline)
	}

	// Zero values fall back to the package defaults.
	d := NewScheduler(wl, &fakePortal{}, &fakeGate{}, bus, nil, clk, log, Tuning{})
	if d.pollInterval != idleSleep {
		t.Errorf("default poll interval = %s, want %s", d.pollInterval, idleSleep)
	}
	if d.probeInterval != defaultProbeInterval {
		t.Errorf("default probe interval = %s, want %s", d.probeInterval, defaultProbeInterval)
	}
	if d.supervisorTick != defaultSupervisorTick {
		t.Errorf("default supervisor tick = %s, want %s", d.supervisorTick, defaultSupervisorTick)
	}
	if d.swap.deadline != rollbackDeadline {
		t.Errorf("default rollback deadline = %s, want %s", d.swap.deadline, rollbackDeadline)
	}
}

func TestSchedulerExitsWhenWishlistDrains(t *testing.T) {
	wl := NewWishlist()
	wl.Add(openSection("T1", "算法设计"))
	wl.Add(openSection("T2", "操作系统"))
	bus := events.New()

	fp := &fakePortal{
		findFn: func(target portal.TeachingClassRecord) (portal.TeachingClassRecord, bool, portal.Status, error) {
			rec := target
			rec.IsChosen = true
			return rec, true, portal.StatusOK, nil
		},
	}

	done := make(chan struct{})
	go func() {
		newTestScheduler(wl, fp, &fakeGate{}, bus).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not exit after all targets resolved")
	}
	if wl.Len() != 0 {
		t.Errorf("wishlist len = %d, want 0", wl.Len())
	}
}

func TestSchedulerPicksUpAddedTargets(t *testing.T) {
	wl := NewWishlist()
	wl.Add(openSection("T1", "算法设计"))
	bus := events.New()

	var mu sync.Mutex
	seen := map[string]bool{}
	fp := &fakePortal{
		findFn: func(target portal.TeachingClassRecord) (portal.TeachingClassRecord, bool, portal.Status, error) {
			mu.Lock()
			seen[target.TeachingClassID] = true
			mu.Unlock()
			return portal.TeachingClassRecord{}, false, portal.StatusOK, nil
		},
	}

	sched := newTestScheduler(wl, fp, &fakeGate{}, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	if !waitFor(2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["T1"]
	}) {
		t.Fatal("initial target never polled")
	}

	wl.Add(openSection("T2", "操作系统"))
	if !waitFor(2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["T2"]
	}) {
		t.Fatal("added target never picked up")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

func TestSchedulerHeartbeat(t *testing.T) {
	wl := NewWishlist()
	wl.Add(openSection("T1", "算法设计"))
	bus := events.New()
	tap := tapBus(bus)
	defer tap.cancel()

	fp := &fakePortal{
		findFn: func(portal.TeachingClassRecord) (portal.TeachingClassRecord, bool, portal.Status, error) {
			return portal.TeachingClassRecord{}, false, portal.StatusOK, nil
		},
	}

	sched := newTestScheduler(wl, fp, &fakeGate{}, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	for i := 0; i < heartbeatEvery; i++ {
		sched.CountRequest()
	}

	if !waitFor(2*time.Second, func() bool { return tap.has(events.KindHeartbeat) }) {
		t.Fatal("no heartbeat after a full request batch")
	}
	beat, _ := tap.find(events.KindHeartbeat)
	if beat.Heartbeat == 0 {
		t.Errorf("heartbeat carries zero request count")
	}
	if sched.Requests() != heartbeatEvery {
		t.Errorf("request counter = %d, want %d", sched.Requests(), heartbeatEvery)
	}
}

func TestSchedulerProbeTriggersRecovery(t *testing.T) {
	wl := NewWishlist()
	wl.Add(openSection("T1", "算法设计"))
	bus := events.New()
	tap := tapBus(bus)
	defer tap.cancel()

	gate := &fakeGate{}
	fp := &fakePortal{
		findFn: func(portal.TeachingClassRecord) (portal.TeachingClassRecord, bool, portal.Status, error) {
			return portal.TeachingClassRecord{}, false, portal.StatusOK, nil
		},
		probeFn: func() portal.ProbeResult { return portal.ProbeExpired },
	}

	sched := newTestScheduler(wl, fp, gate, bus)
	sched.probeInterval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	if !waitFor(2*time.Second, func() bool { return gate.recoverCalls() > 0 }) {
		t.Fatal("expired probe never triggered recovery")
	}
	if !waitFor(time.Second, func() bool {
		e, ok := tap.find(events.KindLoginStatus)
		return ok && !e.Online
	}) {
		t.Error("no offline login-status event published")
	}
}
