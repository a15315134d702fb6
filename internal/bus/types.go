package bus

import (
	"time"

	"github.com/nextlevelbuilder/herdctl/internal/state"
)

// Event is one published bus entry. Topic is a pkg/protocol event name;
// Payload is the topic's payload struct below.
type Event struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// FleetStatusPayload is the whole-fleet snapshot for fleet:status.
type FleetStatusPayload struct {
	Status           string     `json:"status"` // uninitialized|initialized|running|stopping|stopped|error
	TotalAgents      int        `json:"total_agents"`
	IdleAgents       int        `json:"idle_agents"`
	RunningAgents    int        `json:"running_agents"`
	TotalSchedules   int        `json:"total_schedules"`
	RunningSchedules int        `json:"running_schedules"`
	RunningJobs      int        `json:"running_jobs"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	StoppedAt        *time.Time `json:"stopped_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
}

// AgentUpdatedPayload is published whenever a controller's externally visible
// state changes.
type AgentUpdatedPayload struct {
	QualifiedName string `json:"qualified_name"`
	Status        string `json:"status"` // idle|running
	RunningCount  int    `json:"running_count"`
	ScheduleCount int    `json:"schedule_count"`
	LastJobID     string `json:"last_job_id,omitempty"`
}

// ScheduleTriggeredPayload is published when the scheduler fires a schedule.
type ScheduleTriggeredPayload struct {
	AgentName    string `json:"agent_name"`
	ScheduleName string `json:"schedule_name"`
}

// JobCreatedPayload carries the freshly persisted pending job.
type JobCreatedPayload struct {
	Job *state.Job `json:"job"`
}

// JobOutputPayload is one streamed output chunk.
type JobOutputPayload struct {
	JobID     string    `json:"job_id"`
	AgentName string    `json:"agent_name"`
	Output    string    `json:"output"`
	Stream    string    `json:"stream"` // stdout|stderr
	Timestamp time.Time `json:"timestamp"`
}

// ErrorInfo is the structured error attached to job:failed.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// JobCompletedPayload is published on normal completion.
type JobCompletedPayload struct {
	Job             *state.Job `json:"job"`
	DurationSeconds int        `json:"duration_seconds"`
}

// JobFailedPayload is published when a job terminates in failure.
type JobFailedPayload struct {
	Job   *state.Job `json:"job"`
	Error ErrorInfo  `json:"error"`
}

// JobCancelledPayload is published when a job is cancelled.
type JobCancelledPayload struct {
	Job    *state.Job `json:"job"`
	Reason string     `json:"reason"`
}
