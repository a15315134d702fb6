package fleet

import (
	"fmt"
	"strings"
)

// Error kinds for the operational, execution, and shutdown families.
const (
	KindAgentNotFound    = "agent_not_found"
	KindJobNotFound      = "job_not_found"
	KindScheduleNotFound = "schedule_not_found"
	KindInvalidState     = "invalid_state"
	KindConcurrencyLimit = "concurrency_limit"
	KindJobCancel        = "job_cancel"
	KindJobFork          = "job_fork"
	KindShutdown         = "fleet_shutdown"
)

// AgentNotFoundError names the missing agent and lists what exists.
type AgentNotFoundError struct {
	Name      string
	Available []string
}

func (e *AgentNotFoundError) Kind() string { return KindAgentNotFound }
func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("agent %q not found (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// JobNotFoundError reports an unknown job id.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Kind() string  { return KindJobNotFound }
func (e *JobNotFoundError) Error() string { return fmt.Sprintf("job %q not found", e.JobID) }

// ScheduleNotFoundError reports an unknown schedule name on a known agent.
type ScheduleNotFoundError struct {
	Agent    string
	Schedule string
}

func (e *ScheduleNotFoundError) Kind() string { return KindScheduleNotFound }
func (e *ScheduleNotFoundError) Error() string {
	return fmt.Sprintf("agent %q has no schedule %q", e.Agent, e.Schedule)
}

// InvalidStateError reports an operation not allowed in the fleet's current
// lifecycle state.
type InvalidStateError struct {
	Operation string
	State     string
}

func (e *InvalidStateError) Kind() string { return KindInvalidState }
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed while fleet is %s", e.Operation, e.State)
}

// ConcurrencyLimitError reports a trigger rejected at admission.
type ConcurrencyLimitError struct {
	AgentName   string
	CurrentJobs int
	Limit       int
}

func (e *ConcurrencyLimitError) Kind() string { return KindConcurrencyLimit }
func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("agent %q at concurrency limit (%d/%d)", e.AgentName, e.CurrentJobs, e.Limit)
}

// JobCancelError reports a cancel that could not complete.
type JobCancelError struct {
	JobID  string
	Reason string
}

func (e *JobCancelError) Kind() string { return KindJobCancel }
func (e *JobCancelError) Error() string {
	return fmt.Sprintf("cancel job %s: %s", e.JobID, e.Reason)
}

// JobForkError reports a fork that could not start.
type JobForkError struct {
	OriginalJobID string
	Reason        string
}

func (e *JobForkError) Kind() string { return KindJobFork }
func (e *JobForkError) Error() string {
	return fmt.Sprintf("fork job %s: %s", e.OriginalJobID, e.Reason)
}

// ShutdownError reports a stop that missed its deadline, or an operation
// attempted after stopping began.
type ShutdownError struct {
	Timeout bool
	Message string
}

func (e *ShutdownError) Kind() string    { return KindShutdown }
func (e *ShutdownError) IsTimeout() bool { return e.Timeout }
func (e *ShutdownError) Error() string {
	if e.Message != "" {
		return "fleet shutdown: " + e.Message
	}
	if e.Timeout {
		return "fleet shutdown: deadline elapsed before jobs finished"
	}
	return "fleet shutdown"
}
