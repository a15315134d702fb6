// Package scheduler drives time-based schedules: a single cooperative loop
// that wakes every check interval, fires due schedules in agent-declaration
// order, and hands the actual work to the agent controllers via a trigger
// callback. Slow job starts never delay the loop; the callback must not
// block.
package scheduler

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCheckInterval is the tick period when the caller passes 0.
const DefaultCheckInterval = time.Second

// TriggerFunc admits one execution intent for (agent, schedule). It is
// invoked from the scheduler loop and must return promptly; a
// concurrency-limit rejection is logged and not retried within the tick.
type TriggerFunc func(agent, schedule string) error

// ErrConcurrencyLimited is matched (via errors.Is) to downgrade rejection
// logging from error to info.
var ErrConcurrencyLimited = errors.New("concurrency limited")

// Scheduler owns the tick loop over a fixed schedule list.
type Scheduler struct {
	checkInterval time.Duration
	schedules     []*Schedule // agent-declaration order
	trigger       TriggerFunc

	mu           sync.Mutex
	checkCount   int64
	triggerCount int64

	now func() time.Time // test hook

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a scheduler. schedules must be in agent-declaration order;
// same-tick firings follow it.
func New(schedules []*Schedule, trigger TriggerFunc, checkInterval time.Duration) *Scheduler {
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	return &Scheduler{
		checkInterval: checkInterval,
		schedules:     schedules,
		trigger:       trigger,
		now:           time.Now,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start launches the loop. Repeated calls are no-ops.
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run()
}

// Stop terminates the loop and waits for it to exit. Safe to call on a
// scheduler that was never started.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.started.Load() {
		<-s.doneCh
	}
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	// Drift-corrected sleep: aim at fixed tick boundaries instead of
	// interval-after-work.
	next := s.now().Add(s.checkInterval)
	for {
		delay := time.Until(next)
		if delay < 0 {
			delay = 0
		}
		timer := time.NewTimer(delay)
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		s.Tick(s.now())

		next = next.Add(s.checkInterval)
		if !next.After(s.now()) {
			// Fell more than a full interval behind; realign without
			// accumulating catch-up ticks.
			next = s.now().Add(s.checkInterval)
		}
	}
}

// Tick runs one pass over all schedules. Exported for tests and for
// externally clocked embedding.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	s.checkCount++
	s.mu.Unlock()

	for _, sched := range s.schedules {
		if !sched.due(now) {
			continue
		}

		err := s.trigger(sched.Agent, sched.Name)
		if err != nil {
			if errors.Is(err, ErrConcurrencyLimited) {
				slog.Info("scheduler.trigger_rejected", "agent", sched.Agent, "schedule", sched.Name, "error", err)
			} else {
				slog.Error("scheduler.trigger_failed", "agent", sched.Agent, "schedule", sched.Name, "error", err)
			}
			// One attempt per window: the rejection consumes this firing
			// and the schedule re-arms to its next occurrence.
			sched.fired(now)
			continue
		}

		sched.fired(now)
		s.mu.Lock()
		s.triggerCount++
		s.mu.Unlock()
	}
}

// Counters returns (checkCount, triggerCount).
func (s *Scheduler) Counters() (int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkCount, s.triggerCount
}

// Snapshots returns the observable state of every schedule.
func (s *Scheduler) Snapshots() []Snapshot {
	out := make([]Snapshot, len(s.schedules))
	for i, sched := range s.schedules {
		out[i] = sched.Snapshot()
	}
	return out
}
