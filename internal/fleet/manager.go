// Package fleet is the runtime core: the manager's lifecycle state machine,
// one controller per resolved agent, the job executor, and the log streaming
// APIs. Everything observable flows through the event bus.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/herdctl/internal/bus"
	"github.com/nextlevelbuilder/herdctl/internal/chatsess"
	"github.com/nextlevelbuilder/herdctl/internal/config"
	"github.com/nextlevelbuilder/herdctl/internal/runner"
	"github.com/nextlevelbuilder/herdctl/internal/scheduler"
	"github.com/nextlevelbuilder/herdctl/internal/state"
	"github.com/nextlevelbuilder/herdctl/pkg/protocol"
)

// Fleet lifecycle states.
const (
	StateUninitialized = "uninitialized"
	StateInitialized   = "initialized"
	StateRunning       = "running"
	StateStopping      = "stopping"
	StateStopped       = "stopped"
	StateError         = "error"
)

// DefaultStopTimeout bounds the graceful wait for running jobs on stop.
const DefaultStopTimeout = 30 * time.Second

// DefaultStateDirName is the state directory created next to the root config
// when none is given.
const DefaultStateDirName = ".herdctl"

// Options configures a manager.
type Options struct {
	// ConfigPath is a config file or a directory to search upward from.
	// Empty means the working directory.
	ConfigPath string

	// StateDir overrides the default <configDir>/.herdctl.
	StateDir string

	// Runners supplies the execution backends. Required.
	Runners *runner.Registry

	// Bus receives all fleet events. A fresh bus is created when nil.
	Bus *bus.Bus

	// CheckInterval overrides the scheduler tick (tests).
	CheckInterval time.Duration
}

// Manager owns the fleet lifecycle.
type Manager struct {
	opts Options

	mu          sync.Mutex
	status      string
	lastError   string
	startedAt   *time.Time
	stoppedAt   *time.Time
	cfg         *config.LoadResult
	store       *state.Store
	controllers map[string]*Controller
	order       []string // agent declaration order
	sched       *scheduler.Scheduler
	chatStores  map[string]*chatsess.Store

	bus *bus.Bus

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// StopOptions parameterises graceful shutdown.
type StopOptions struct {
	// Timeout bounds the wait for running jobs (default DefaultStopTimeout).
	Timeout time.Duration

	// CancelOnTimeout cancels still-running jobs after Timeout, waiting
	// CancelTimeout for each before force-terminating.
	CancelOnTimeout bool
	CancelTimeout   time.Duration
}

// New creates an uninitialized manager.
func New(opts Options) *Manager {
	b := opts.Bus
	if b == nil {
		b = bus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:        opts,
		status:      StateUninitialized,
		controllers: make(map[string]*Controller),
		chatStores:  make(map[string]*chatsess.Store),
		bus:         b,
		baseCtx:     ctx,
		baseCancel:  cancel,
	}
}

// Bus returns the event bus shared with external consumers.
func (m *Manager) Bus() *bus.Bus { return m.bus }

// Store returns the state store; nil before Initialize.
func (m *Manager) Store() *state.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store
}

// Config returns the last loaded config; nil before Initialize.
func (m *Manager) Config() *config.LoadResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// ChatSessions returns the session store for a chat platform, or nil when no
// agent configures that platform.
func (m *Manager) ChatSessions(platform string) *chatsess.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatStores[platform]
}

// State returns the lifecycle state string.
func (m *Manager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// guard rejects operations once shutdown has begun.
func (m *Manager) guard(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.status {
	case StateStopping, StateStopped:
		return &ShutdownError{Message: op + " after shutdown began"}
	case StateUninitialized:
		return &InvalidStateError{Operation: op, State: m.status}
	}
	return nil
}

// Initialize loads the config, opens the state store, and builds controllers,
// scheduler, and chat-session stores. Any loader error parks the manager in
// the error state.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	if m.status != StateUninitialized && m.status != StateError {
		status := m.status
		m.mu.Unlock()
		return &InvalidStateError{Operation: "initialize", State: status}
	}
	m.mu.Unlock()

	path, err := config.Find(m.opts.ConfigPath)
	if err != nil {
		return m.fail("initialize", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return m.fail("initialize", err)
	}

	stateDir := m.opts.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(cfg.ConfigDir, DefaultStateDirName)
	}
	store, err := state.Open(stateDir)
	if err != nil {
		return m.fail("initialize", err)
	}

	controllers := make(map[string]*Controller, len(cfg.Agents))
	order := make([]string, 0, len(cfg.Agents))
	for _, agent := range cfg.Agents {
		controllers[agent.QualifiedName] = NewController(m.baseCtx, agent, store, m.bus, m.opts.Runners)
		order = append(order, agent.QualifiedName)
	}

	chatStores := make(map[string]*chatsess.Store)
	expiry := 0
	if cfg.Web != nil {
		expiry = cfg.Web.SessionExpiryHours
	}
	for _, platform := range chatPlatforms(cfg.Agents) {
		cs, err := chatsess.Open(store, platform, expiry)
		if err != nil {
			return m.fail("initialize", err)
		}
		chatStores[platform] = cs
	}

	m.mu.Lock()
	m.cfg = cfg
	m.store = store
	m.controllers = controllers
	m.order = order
	m.chatStores = chatStores
	m.sched = m.buildSchedulerLocked()
	m.status = StateInitialized
	m.lastError = ""
	m.mu.Unlock()

	slog.Info("fleet.initialized", "config", cfg.ConfigPath, "agents", len(order), "state_dir", stateDir)
	m.publishStatus()
	return nil
}

// buildSchedulerLocked assembles the scheduler over every controller's
// schedules in agent-declaration order. Caller holds mu.
func (m *Manager) buildSchedulerLocked() *scheduler.Scheduler {
	var schedules []*scheduler.Schedule
	for _, name := range m.order {
		schedules = append(schedules, m.controllers[name].Schedules()...)
	}
	return scheduler.New(schedules, m.scheduleTrigger, m.opts.CheckInterval)
}

// scheduleTrigger is the scheduler's callback: one admission attempt per
// firing, translated into the sentinel the scheduler logs at info level.
func (m *Manager) scheduleTrigger(agent, schedule string) error {
	res, err := m.Trigger(agent, TriggerOptions{ScheduleName: schedule, TriggerType: state.TriggerSchedule})
	if err != nil {
		var limited *ConcurrencyLimitError
		if errors.As(err, &limited) {
			return fmt.Errorf("%v: %w", limited, scheduler.ErrConcurrencyLimited)
		}
		return err
	}
	m.bus.Publish(protocol.EventScheduleTriggered, bus.ScheduleTriggeredPayload{AgentName: agent, ScheduleName: schedule})
	slog.Debug("fleet.schedule_fired", "agent", agent, "schedule", schedule, "job", res.JobID)
	return nil
}

// Start transitions to running: records the PID and starts the scheduler.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.status != StateInitialized {
		status := m.status
		m.mu.Unlock()
		if status == StateStopping || status == StateStopped {
			return &ShutdownError{Message: "start after shutdown began"}
		}
		return &InvalidStateError{Operation: "start", State: status}
	}
	now := time.Now().UTC()
	m.status = StateRunning
	m.startedAt = &now
	store := m.store
	sched := m.sched
	m.mu.Unlock()

	if err := store.WritePID(os.Getpid()); err != nil {
		slog.Warn("fleet.pid_write_failed", "error", err)
	}
	sched.Start()
	slog.Info("fleet.started")
	m.publishStatus()
	return nil
}

// Stop drains the fleet. Running jobs get StopOptions.Timeout to finish; with
// CancelOnTimeout they are then cancelled, and past the cancel timeout
// force-terminated. The returned ShutdownError reports IsTimeout when the
// deadline elapsed without a clean drain.
func (m *Manager) Stop(opts StopOptions) error {
	m.mu.Lock()
	if m.status == StateStopping || m.status == StateStopped {
		m.mu.Unlock()
		return &ShutdownError{Message: "already stopping"}
	}
	m.status = StateStopping
	sched := m.sched
	store := m.store
	controllers := m.snapshotControllersLocked()
	m.mu.Unlock()

	slog.Info("fleet.stopping")
	m.publishStatus()

	if sched != nil {
		sched.Stop()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	var shutdownErr error
	if !m.waitAll(controllers, timeout) {
		if opts.CancelOnTimeout {
			cancelTimeout := opts.CancelTimeout
			if cancelTimeout <= 0 {
				cancelTimeout = DefaultCancelTimeout
			}
			slog.Warn("fleet.stop_cancelling_jobs", "cancel_timeout", cancelTimeout)
			var wg sync.WaitGroup
			for _, c := range controllers {
				wg.Add(1)
				go func(c *Controller) {
					defer wg.Done()
					c.CancelAll(cancelTimeout)
				}(c)
			}
			wg.Wait()
		}
		shutdownErr = &ShutdownError{Timeout: true}
	}

	// Abandon any worker still alive past the deadline, but flush state.
	m.baseCancel()
	if store != nil {
		if err := store.RemovePID(); err != nil {
			slog.Warn("fleet.pid_remove_failed", "error", err)
		}
	}

	m.mu.Lock()
	now := time.Now().UTC()
	m.status = StateStopped
	m.stoppedAt = &now
	m.mu.Unlock()

	slog.Info("fleet.stopped", "clean", shutdownErr == nil)
	m.publishStatus()
	// Drain subscribers last so the final status still reaches them.
	m.bus.Close()
	return shutdownErr
}

func (m *Manager) waitAll(controllers []*Controller, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ok := true
	for _, c := range controllers {
		if !c.Wait(ctx) {
			ok = false
		}
	}
	return ok
}

func (m *Manager) snapshotControllersLocked() []*Controller {
	out := make([]*Controller, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.controllers[name])
	}
	return out
}

// controller resolves a qualified agent name.
func (m *Manager) controller(qualifiedName string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.controllers[qualifiedName]
	if !ok {
		available := make([]string, len(m.order))
		copy(available, m.order)
		sort.Strings(available)
		return nil, &AgentNotFoundError{Name: qualifiedName, Available: available}
	}
	return c, nil
}

// Trigger admits a job on the named agent.
func (m *Manager) Trigger(qualifiedName string, opts TriggerOptions) (*TriggerResult, error) {
	if err := m.guard("trigger"); err != nil {
		return nil, err
	}
	c, err := m.controller(qualifiedName)
	if err != nil {
		return nil, err
	}
	return c.Trigger(opts)
}

// CancelJob cancels a running job, waiting up to timeout before forcing.
func (m *Manager) CancelJob(jobID string, timeout time.Duration) error {
	if err := m.guard("cancel"); err != nil {
		return err
	}
	m.mu.Lock()
	store := m.store
	m.mu.Unlock()

	job, err := store.ReadJob(jobID)
	if err != nil {
		return &JobCancelError{JobID: jobID, Reason: err.Error()}
	}
	if job == nil {
		return &JobNotFoundError{JobID: jobID}
	}
	if state.TerminalStatus(job.Status) {
		return &JobCancelError{JobID: jobID, Reason: "job already " + job.Status}
	}
	c, err := m.controller(job.Agent)
	if err != nil {
		return &JobCancelError{JobID: jobID, Reason: fmt.Sprintf("agent %s no longer loaded", job.Agent)}
	}
	return c.Cancel(jobID, timeout)
}

// ForkJob starts a new job on the parent job's agent, resuming the parent's
// runner session. prompt overrides the inherited prompt when non-empty.
func (m *Manager) ForkJob(jobID, prompt string) (*TriggerResult, error) {
	if err := m.guard("fork"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	store := m.store
	m.mu.Unlock()

	job, err := store.ReadJob(jobID)
	if err != nil {
		return nil, &JobForkError{OriginalJobID: jobID, Reason: err.Error()}
	}
	if job == nil {
		return nil, &JobForkError{OriginalJobID: jobID, Reason: "job not found"}
	}
	c, err := m.controller(job.Agent)
	if err != nil {
		return nil, &JobForkError{OriginalJobID: jobID, Reason: fmt.Sprintf("agent %s no longer loaded", job.Agent)}
	}
	if prompt == "" {
		prompt = job.Prompt
	}
	res, err := c.Trigger(TriggerOptions{
		Prompt:      prompt,
		TriggerType: state.TriggerFork,
		ForkedFrom:  jobID,
		SessionID:   job.SessionID,
	})
	if err != nil {
		return nil, &JobForkError{OriginalJobID: jobID, Reason: err.Error()}
	}
	return res, nil
}

// EnableSchedule flips a schedule flag on the named agent.
func (m *Manager) EnableSchedule(qualifiedName, scheduleName string, enabled bool) error {
	if err := m.guard("enable schedule"); err != nil {
		return err
	}
	c, err := m.controller(qualifiedName)
	if err != nil {
		return err
	}
	return c.EnableSchedule(scheduleName, enabled)
}

// Reload re-runs the loader and reconciles controllers: new agents are added,
// removed agents drained then dropped, surviving agents updated in place. The
// scheduler is rebuilt over the reconciled schedule set.
func (m *Manager) Reload() error {
	m.mu.Lock()
	switch m.status {
	case StateStopping, StateStopped:
		m.mu.Unlock()
		return &ShutdownError{Message: "reload after shutdown began"}
	case StateUninitialized, StateError:
		status := m.status
		m.mu.Unlock()
		return &InvalidStateError{Operation: "reload", State: status}
	}
	configPath := m.cfg.ConfigPath
	running := m.status == StateRunning
	m.mu.Unlock()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	m.mu.Lock()
	oldSched := m.sched
	oldControllers := m.controllers

	controllers := make(map[string]*Controller, len(cfg.Agents))
	order := make([]string, 0, len(cfg.Agents))
	var removed []*Controller
	for _, agent := range cfg.Agents {
		if c, ok := oldControllers[agent.QualifiedName]; ok {
			c.UpdateAgent(agent)
			controllers[agent.QualifiedName] = c
		} else {
			controllers[agent.QualifiedName] = NewController(m.baseCtx, agent, m.store, m.bus, m.opts.Runners)
		}
		order = append(order, agent.QualifiedName)
	}
	for name, c := range oldControllers {
		if _, ok := controllers[name]; !ok {
			removed = append(removed, c)
		}
	}

	m.cfg = cfg
	m.controllers = controllers
	m.order = order
	m.sched = m.buildSchedulerLocked()
	m.mu.Unlock()

	if oldSched != nil && running {
		oldSched.Stop()
	}

	for _, c := range removed {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultStopTimeout)
		if !c.Close(ctx) {
			slog.Warn("fleet.reload_drain_timeout", "agent", c.Agent().QualifiedName)
		}
		cancel()
	}

	if running {
		m.mu.Lock()
		sched := m.sched
		m.mu.Unlock()
		sched.Start()
	}

	slog.Info("fleet.reloaded", "agents", len(order), "removed", len(removed))
	m.publishStatus()
	return nil
}

// chatPlatforms collects the distinct chat platform keys across agents, in
// first-seen order.
func chatPlatforms(agents []*config.Agent) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range agents {
		keys := make([]string, 0, len(a.Chat))
		for k := range a.Chat {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// fail parks the manager in the error state and returns err.
func (m *Manager) fail(op string, err error) error {
	m.mu.Lock()
	m.status = StateError
	m.lastError = err.Error()
	m.mu.Unlock()
	slog.Error("fleet."+op+"_failed", "error", err)
	m.publishStatus()
	return err
}
