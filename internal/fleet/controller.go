package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/herdctl/internal/bus"
	"github.com/nextlevelbuilder/herdctl/internal/config"
	"github.com/nextlevelbuilder/herdctl/internal/runner"
	"github.com/nextlevelbuilder/herdctl/internal/scheduler"
	"github.com/nextlevelbuilder/herdctl/internal/state"
	"github.com/nextlevelbuilder/herdctl/pkg/protocol"
)

// DefaultCancelTimeout bounds how long a cancel waits for the executor to
// reach a terminal state before force-terminating.
const DefaultCancelTimeout = 10 * time.Second

// TriggerOptions parameterises one execution intent.
type TriggerOptions struct {
	// ScheduleName attributes the job to one of the agent's schedules and
	// borrows its prompt/resume settings.
	ScheduleName string

	// Prompt overrides the schedule's (or agent's) prompt.
	Prompt string

	// TriggerType defaults to manual, or schedule when ScheduleName is set.
	TriggerType string

	// BypassConcurrencyLimit admits the job even at the limit.
	BypassConcurrencyLimit bool

	// SessionID resumes a specific runner session (forks pass the parent's).
	SessionID string

	// ForkedFrom records the parent job id for forked jobs.
	ForkedFrom string
}

// TriggerResult is returned as soon as the pending job record exists.
type TriggerResult struct {
	JobID        string `json:"job_id"`
	AgentName    string `json:"agent_name"`
	ScheduleName string `json:"schedule_name,omitempty"`
}

// execution is one in-flight job owned by a controller.
type execution struct {
	job    *state.Job
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// forced is set when a cancel deadline expired and the controller wrote
	// the terminal record itself; the executor then skips its own final write.
	forced atomic.Bool

	releaseOnce sync.Once
}

// Controller owns one resolved agent: its admission counter, active
// executions, session id, and schedules.
type Controller struct {
	agent     *config.Agent
	store     *state.Store
	bus       *bus.Bus
	runners   *runner.Registry
	schedules []*scheduler.Schedule

	baseCtx context.Context

	mu             sync.Mutex
	closed         bool
	runningCount   int
	sessionID      string
	lastJobID      string
	contextPercent float64
	executions     map[string]*execution
	wg             sync.WaitGroup
}

// NewController builds the controller and its schedules' runtime state.
func NewController(ctx context.Context, agent *config.Agent, store *state.Store, b *bus.Bus, runners *runner.Registry) *Controller {
	c := &Controller{
		agent:      agent,
		store:      store,
		bus:        b,
		runners:    runners,
		baseCtx:    ctx,
		executions: make(map[string]*execution),
	}
	for _, sc := range agent.Schedules {
		c.schedules = append(c.schedules, scheduler.NewSchedule(agent.QualifiedName, sc))
	}
	return c
}

// Agent returns the resolved agent config.
func (c *Controller) Agent() *config.Agent { return c.agent }

// Schedules returns the runtime schedules in declaration order.
func (c *Controller) Schedules() []*scheduler.Schedule { return c.schedules }

func (c *Controller) findSchedule(name string) *scheduler.Schedule {
	for _, s := range c.schedules {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Trigger admits one execution. It returns once the pending job record is on
// disk; the executor runs on its own goroutine.
func (c *Controller) Trigger(opts TriggerOptions) (*TriggerResult, error) {
	var sched *scheduler.Schedule
	if opts.ScheduleName != "" {
		sched = c.findSchedule(opts.ScheduleName)
		if sched == nil {
			return nil, &ScheduleNotFoundError{Agent: c.agent.QualifiedName, Schedule: opts.ScheduleName}
		}
	}

	rn, err := c.runners.For(c.agent)
	if err != nil {
		return nil, err
	}

	limit := c.agent.MaxConcurrent
	if limit < 1 {
		limit = 1
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &ShutdownError{Message: fmt.Sprintf("agent %s is draining", c.agent.QualifiedName)}
	}
	if !opts.BypassConcurrencyLimit && c.runningCount >= limit {
		current := c.runningCount
		c.mu.Unlock()
		return nil, &ConcurrencyLimitError{AgentName: c.agent.QualifiedName, CurrentJobs: current, Limit: limit}
	}
	c.runningCount++
	sessionID := c.sessionID
	c.mu.Unlock()

	now := time.Now().UTC()
	job := &state.Job{
		ID:          c.store.NewUniqueJobID(now),
		Agent:       c.agent.QualifiedName,
		TriggerType: opts.TriggerType,
		ForkedFrom:  opts.ForkedFrom,
		Status:      state.StatusPending,
		Prompt:      opts.Prompt,
	}
	job.OutputFile = c.store.JobOutputPath(job.ID)

	if sched != nil {
		job.Schedule = sched.Name
		if job.TriggerType == "" {
			job.TriggerType = state.TriggerSchedule
		}
		if job.Prompt == "" {
			job.Prompt = sched.Prompt
		}
	}
	if job.TriggerType == "" {
		job.TriggerType = state.TriggerManual
	}
	if job.Prompt == "" {
		job.Prompt = c.agent.Prompt
	}

	// Session resolution: explicit (fork) > schedule resume_session via the
	// in-memory session or the persisted pointer.
	job.SessionID = opts.SessionID
	if job.SessionID == "" && sched != nil && sched.ResumeSession {
		job.SessionID = sessionID
		if job.SessionID == "" {
			if stored, err := c.store.ReadSessionPointer(c.agent.QualifiedName); err == nil {
				job.SessionID = stored
			}
		}
	}

	if err := c.store.WriteJob(job); err != nil {
		c.mu.Lock()
		c.runningCount--
		c.mu.Unlock()
		return nil, fmt.Errorf("persist pending job %s: %w", job.ID, err)
	}

	execCtx, cancel := context.WithCancel(c.baseCtx)
	exec := &execution{job: job, ctx: execCtx, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.executions[job.ID] = exec
	c.lastJobID = job.ID
	c.wg.Add(1)
	c.mu.Unlock()

	if sched != nil && sched.Timed() {
		sched.SetRunning(true)
	}

	c.bus.Publish(protocol.EventJobCreated, bus.JobCreatedPayload{Job: job})
	c.publishUpdated()

	go c.runJob(exec, sched, rn)

	result := &TriggerResult{JobID: job.ID, AgentName: c.agent.QualifiedName}
	if sched != nil {
		result.ScheduleName = sched.Name
	}
	return result, nil
}

func (c *Controller) runJob(exec *execution, sched *scheduler.Schedule, rn runner.Runner) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("fleet.executor_panic", "agent", c.agent.QualifiedName, "job", exec.job.ID, "panic", r)
			c.finalizePanicked(exec)
		}
		close(exec.done)
		c.release(exec, sched)
	}()

	ex := &executor{
		store:      c.store,
		bus:        c.bus,
		controller: c,
		agent:      c.agent,
		job:        exec.job,
		runner:     rn,
		forced:     &exec.forced,
	}
	ex.run(exec.ctx)
}

// finalizePanicked writes a best-effort failed record when the executor
// goroutine panicked before reaching a terminal state.
func (c *Controller) finalizePanicked(exec *execution) {
	if exec.forced.Load() || state.TerminalStatus(exec.job.Status) {
		return
	}
	now := time.Now().UTC()
	exec.job.Status = state.StatusFailed
	exec.job.ExitReason = state.ExitError
	exec.job.FinishedAt = &now
	if err := c.store.WriteJob(exec.job); err != nil {
		slog.Error("fleet.panic_finalize_failed", "job", exec.job.ID, "error", err)
	}
	c.bus.Publish(protocol.EventJobFailed, bus.JobFailedPayload{
		Job:   exec.job,
		Error: bus.ErrorInfo{Kind: "executor_panic", Message: "job executor panicked"},
	})
}

// release returns the admission slot. Runs exactly once per execution, on
// every terminal path including panics and forced cancels.
func (c *Controller) release(exec *execution, sched *scheduler.Schedule) {
	exec.releaseOnce.Do(func() {
		exec.cancel()
		c.mu.Lock()
		c.runningCount--
		delete(c.executions, exec.job.ID)
		c.mu.Unlock()
		if sched != nil && sched.Timed() {
			sched.SetRunning(false)
		}
		c.wg.Done()
		c.publishUpdated()
	})
}

// Cancel signals the executor and waits up to timeout for a terminal state.
// On expiry the job is force-marked cancelled/forced and the slot released;
// the abandoned executor's own final write is suppressed.
func (c *Controller) Cancel(jobID string, timeout time.Duration) error {
	c.mu.Lock()
	exec, ok := c.executions[jobID]
	c.mu.Unlock()
	if !ok {
		return &JobCancelError{JobID: jobID, Reason: "job is not running on this agent"}
	}
	if timeout <= 0 {
		timeout = DefaultCancelTimeout
	}

	exec.cancel()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-exec.done:
		return nil
	case <-timer.C:
	}

	exec.forced.Store(true)
	now := time.Now().UTC()
	exec.job.Status = state.StatusCancelled
	exec.job.ExitReason = state.ExitForced
	exec.job.FinishedAt = &now
	if err := c.store.WriteJob(exec.job); err != nil {
		return &JobCancelError{JobID: jobID, Reason: fmt.Sprintf("force-terminate: %v", err)}
	}
	slog.Warn("fleet.job_force_cancelled", "agent", c.agent.QualifiedName, "job", jobID)
	c.bus.Publish(protocol.EventJobCancelled, bus.JobCancelledPayload{Job: exec.job, Reason: "forced"})
	c.release(exec, c.findSchedule(exec.job.Schedule))
	return nil
}

// CancelAll signals every active execution and waits up to timeout each, in
// parallel. Used by graceful shutdown's cancel-on-timeout phase.
func (c *Controller) CancelAll(timeout time.Duration) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.executions))
	for id := range c.executions {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := c.Cancel(id, timeout); err != nil {
				slog.Warn("fleet.shutdown_cancel_failed", "agent", c.agent.QualifiedName, "job", id, "error", err)
			}
		}(id)
	}
	wg.Wait()
}

// EnableSchedule flips a schedule's enabled flag; the scheduler observes it
// on the next tick.
func (c *Controller) EnableSchedule(name string, enabled bool) error {
	sched := c.findSchedule(name)
	if sched == nil {
		return &ScheduleNotFoundError{Agent: c.agent.QualifiedName, Schedule: name}
	}
	sched.SetEnabled(enabled)
	return nil
}

// Wait blocks until every active execution has finished or ctx is done. It
// reports whether the controller drained in time.
func (c *Controller) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops admitting jobs, cancels active executions, and waits up to the
// context deadline. Used when an agent is removed on reload.
func (c *Controller) Close(ctx context.Context) bool {
	c.mu.Lock()
	c.closed = true
	execs := make([]*execution, 0, len(c.executions))
	for _, e := range c.executions {
		execs = append(execs, e)
	}
	c.mu.Unlock()
	for _, e := range execs {
		e.cancel()
	}
	return c.Wait(ctx)
}

// UpdateAgent swaps in a reloaded agent config and rebuilds schedules,
// preserving last-run history for schedules that kept their name.
func (c *Controller) UpdateAgent(agent *config.Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := make(map[string]scheduler.Snapshot, len(c.schedules))
	for _, s := range c.schedules {
		old[s.Name] = s.Snapshot()
	}

	c.agent = agent
	c.schedules = nil
	for _, sc := range agent.Schedules {
		s := scheduler.NewSchedule(agent.QualifiedName, sc)
		if prev, ok := old[sc.Name]; ok && prev.LastRunAt != nil {
			s.RestoreLastRun(*prev.LastRunAt)
		}
		c.schedules = append(c.schedules, s)
	}
}

func (c *Controller) setSession(sessionID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
}

func (c *Controller) setContextPercent(p float64) {
	c.mu.Lock()
	c.contextPercent = p
	c.mu.Unlock()
}

func (c *Controller) publishUpdated() {
	c.mu.Lock()
	payload := bus.AgentUpdatedPayload{
		QualifiedName: c.agent.QualifiedName,
		Status:        "idle",
		RunningCount:  c.runningCount,
		ScheduleCount: len(c.schedules),
		LastJobID:     c.lastJobID,
	}
	if c.runningCount > 0 {
		payload.Status = "running"
	}
	c.mu.Unlock()
	c.bus.Publish(protocol.EventAgentUpdated, payload)
}
