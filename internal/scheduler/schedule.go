package scheduler

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/herdctl/internal/config"
	"github.com/nextlevelbuilder/herdctl/internal/cron"
)

// Schedule statuses.
const (
	StatusIdle     = "idle"
	StatusRunning  = "running"
	StatusDisabled = "disabled"
)

// Schedule is the runtime state of one recurrence spec. Created at load,
// mutated only by the scheduler loop and the enable/disable API, destroyed
// at shutdown.
type Schedule struct {
	Agent string // qualified agent name
	Name  string
	Type  string // interval|cron|webhook|chat

	// Expression is the cron expression for type cron; interval holds the
	// parsed duration for type interval.
	Expression string
	Interval   time.Duration

	Prompt        string
	ResumeSession bool

	mu        sync.Mutex
	enabled   bool
	status    string
	lastRunAt *time.Time
	nextRunAt *time.Time
	runCount  int
}

// NewSchedule builds runtime state from a validated config entry.
func NewSchedule(agent string, sc config.ScheduleConfig) *Schedule {
	s := &Schedule{
		Agent:         agent,
		Name:          sc.Name,
		Type:          sc.Type,
		Expression:    sc.Expression,
		Prompt:        sc.Prompt,
		ResumeSession: sc.ResumeSession,
		enabled:       sc.IsEnabled(),
		status:        StatusIdle,
	}
	if sc.Type == "interval" {
		// Validated at load; a parse failure here cannot happen.
		s.Interval, _ = time.ParseDuration(sc.IntervalExpr())
	}
	if !s.enabled {
		s.status = StatusDisabled
	}
	return s
}

// Timed reports whether the scheduler loop fires this schedule (webhook and
// chat schedules are fired externally).
func (s *Schedule) Timed() bool { return s.Type == "interval" || s.Type == "cron" }

// Enabled returns the flag.
func (s *Schedule) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled mutates the flag; the scheduler observes it on the next tick.
func (s *Schedule) SetEnabled(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = v
	if v {
		if s.status == StatusDisabled {
			s.status = StatusIdle
		}
	} else {
		s.status = StatusDisabled
		s.nextRunAt = nil
	}
}

// Status returns the current status string.
func (s *Schedule) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetRunning marks the schedule's job as in flight (or back to idle).
func (s *Schedule) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	if running {
		s.status = StatusRunning
	} else {
		s.status = StatusIdle
	}
}

// Snapshot is a consistent read of the mutable fields.
type Snapshot struct {
	Agent      string     `json:"agent"`
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Expression string     `json:"expression,omitempty"`
	Interval   string     `json:"interval,omitempty"`
	Enabled    bool       `json:"enabled"`
	Status     string     `json:"status"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	RunCount   int        `json:"run_count"`
}

// Snapshot returns a copy of the schedule's observable state.
func (s *Schedule) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Agent:      s.Agent,
		Name:       s.Name,
		Type:       s.Type,
		Expression: s.Expression,
		Enabled:    s.enabled,
		Status:     s.status,
		RunCount:   s.runCount,
	}
	if s.Interval > 0 {
		snap.Interval = s.Interval.String()
	}
	if s.lastRunAt != nil {
		t := *s.lastRunAt
		snap.LastRunAt = &t
	}
	if s.nextRunAt != nil {
		t := *s.nextRunAt
		snap.NextRunAt = &t
	}
	return snap
}

// due computes nextRunAt lazily and reports whether the schedule should fire
// at now. Caller holds no lock.
func (s *Schedule) due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled || s.status == StatusRunning || !s.Timed() {
		return false
	}

	if s.nextRunAt == nil {
		next := s.lazyNext(now)
		s.nextRunAt = &next
	}
	return !s.nextRunAt.After(now)
}

// fired records a firing at now and recomputes nextRunAt strictly after now.
// Missed ticks never accumulate: one firing, then realignment.
func (s *Schedule) fired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := now
	s.lastRunAt = &t
	s.runCount++

	var next time.Time
	switch s.Type {
	case "interval":
		next = now.Add(s.Interval)
	case "cron":
		n, err := cron.Next(s.Expression, now)
		if err != nil {
			n = now.Add(neverDelay)
		}
		next = n
	default:
		next = now.Add(neverDelay)
	}
	s.nextRunAt = &next
}

// lazyNext computes the first nextRunAt when none is recorded. Intervals
// anchor on lastRunAt when one exists; cron uses the inclusive next trigger
// so a tick landing exactly on a boundary still fires. Caller holds mu.
func (s *Schedule) lazyNext(now time.Time) time.Time {
	switch s.Type {
	case "interval":
		if s.lastRunAt != nil {
			return s.lastRunAt.Add(s.Interval)
		}
		return now.Add(s.Interval)
	case "cron":
		next, err := cron.NextInclusive(s.Expression, now)
		if err != nil {
			// Expression was validated at load.
			return now.Add(neverDelay)
		}
		return next
	default:
		return now.Add(neverDelay)
	}
}

// neverDelay pushes non-timed or broken schedules effectively out of reach.
const neverDelay = 24 * 365 * time.Hour

// RestoreLastRun seeds lastRunAt, e.g. when resuming a fleet with known
// history.
func (s *Schedule) RestoreLastRun(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRunAt = &t
	s.nextRunAt = nil
}
