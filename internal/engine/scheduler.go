package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wyh-tools/Course-Sentinel/internal/clock"
	"github.com/wyh-tools/Course-Sentinel/internal/events"
	"github.com/wyh-tools/Course-Sentinel/internal/logging"
	"github.com/wyh-tools/Course-Sentinel/internal/metrics"
	"github.com/wyh-tools/Course-Sentinel/internal/portal"
)

const (
	defaultSupervisorTick = 500 * time.Millisecond
	defaultProbeInterval  = time.Minute

	// Heartbeat cadence: every N requests or every interval, whichever
	// comes first.
	heartbeatEvery    = 10
	heartbeatInterval = 5 * time.Second

	joinTimeout = 2 * time.Second
)

// Tuning carries the cadence knobs loaded from configuration. Zero or
// negative values fall back to the package defaults.
type Tuning struct {
	PollInterval     time.Duration // monitor idle sleep between polls
	ProbeInterval    time.Duration // login-probe cadence
	SupervisorTick   time.Duration // wishlist rescan cadence
	RollbackDeadline time.Duration // emergency rollback wall-clock budget
}

// Scheduler spawns one monitor per wishlist entry, picks up additions,
// probes login liveness, and emits heartbeats for shell liveness.
type Scheduler struct {
	wl   *Wishlist
	port Portal
	grab *Grabber
	swap *Swapper
	gate RecoveryGate
	bus  *events.Bus
	hist History
	clk  clock.Clock
	log  *logging.Logger

	supervisorTick time.Duration
	probeInterval  time.Duration
	pollInterval   time.Duration

	requests atomic.Uint64

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler over the given wishlist.
func NewScheduler(wl *Wishlist, port Portal, gate RecoveryGate, bus *events.Bus, hist History, clk clock.Clock, log *logging.Logger, tun Tuning) *Scheduler {
	grab := NewGrabber(port, clk, log)
	swap := NewSwapper(port, grab, clk, log)
	if tun.RollbackDeadline > 0 {
		swap.deadline = tun.RollbackDeadline
	}
	s := &Scheduler{
		wl:             wl,
		port:           port,
		grab:           grab,
		swap:           swap,
		gate:           gate,
		bus:            bus,
		hist:           hist,
		clk:            clk,
		log:            log,
		supervisorTick: defaultSupervisorTick,
		probeInterval:  defaultProbeInterval,
		pollInterval:   idleSleep,
		running:        make(map[string]struct{}),
	}
	if tun.SupervisorTick > 0 {
		s.supervisorTick = tun.SupervisorTick
	}
	if tun.ProbeInterval > 0 {
		s.probeInterval = tun.ProbeInterval
	}
	if tun.PollInterval > 0 {
		s.pollInterval = tun.PollInterval
	}
	return s
}

// CountRequest bumps the heartbeat counter. Wired to the portal
// client's request hook so every enrollment HTTP call counts.
func (s *Scheduler) CountRequest() {
	s.requests.Add(1)
}

// Requests returns the monotonic request counter.
func (s *Scheduler) Requests() uint64 {
	return s.requests.Load()
}

// Run supervises the monitors until the wishlist drains or the context
// is cancelled. Blocking; callers usually run it in a goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.log.Info("scheduler started", "targets", s.wl.Len())
	s.spawnMissing(ctx)

	lastProbe := s.clk.Now()
	lastBeat := s.clk.Now()
	var lastBeatCount uint64

	for {
		select {
		case <-ctx.Done():
			s.join()
			return
		case <-s.clk.After(s.supervisorTick):
		}

		s.spawnMissing(ctx)

		if s.wl.Len() == 0 && s.runningCount() == 0 {
			s.log.Info("all targets resolved, scheduler exiting")
			s.bus.Publish(events.Event{Kind: events.KindStatus, Message: "all targets resolved"})
			return
		}

		if s.clk.Since(lastProbe) >= s.probeInterval {
			lastProbe = s.clk.Now()
			s.probe(ctx)
		}

		if n := s.requests.Load(); n > lastBeatCount &&
			(n-lastBeatCount >= heartbeatEvery || s.clk.Since(lastBeat) >= heartbeatInterval) {
			lastBeatCount = n
			lastBeat = s.clk.Now()
			s.bus.Publish(events.Event{Kind: events.KindHeartbeat, Heartbeat: n})
		}
	}
}

// Stop signals all monitors and joins with a short timeout. Monitors
// still blocked in a network call are abandoned; their remaining work
// is read-only or idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.join()
}

func (s *Scheduler) join() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-s.clk.After(joinTimeout):
		s.log.Warn("monitors did not finish within join timeout, abandoning")
	}
}

// spawnMissing starts monitors for wishlist entries that have none.
func (s *Scheduler) spawnMissing(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	for _, entry := range s.wl.Snapshot() {
		s.mu.Lock()
		if _, ok := s.running[entry.TeachingClassID]; ok {
			s.mu.Unlock()
			continue
		}
		s.running[entry.TeachingClassID] = struct{}{}
		count := len(s.running)
		s.mu.Unlock()
		metrics.MonitorsActive.Set(float64(count))

		mon := NewMonitor(entry, s.wl, s.port, s.grab, s.swap, s.gate, s.bus, s.hist, s.clk, s.log)
		mon.idle = s.pollInterval
		s.wg.Add(1)
		go func(tcID string) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.running, tcID)
				count := len(s.running)
				s.mu.Unlock()
				metrics.MonitorsActive.Set(float64(count))
			}()
			mon.Run(ctx)
		}(entry.TeachingClassID)
	}
}

func (s *Scheduler) runningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// probe checks session liveness outside the monitors' own calls and
// kicks recovery when the session has lapsed.
func (s *Scheduler) probe(ctx context.Context) {
	start := s.clk.Now()
	res := s.port.ProbeLogin(ctx)
	metrics.ProbeDuration.Observe(s.clk.Since(start).Seconds())

	online := res == portal.ProbeOnline
	s.bus.Publish(events.Event{
		Kind:    events.KindLoginStatus,
		Online:  online,
		Message: res.String(),
	})

	if res == portal.ProbeExpired && !s.gate.Latched() {
		s.log.Info("login probe found session expired, recovering")
		s.gate.Recover(ctx)
	}
}
