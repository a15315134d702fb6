package state

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"time"
)

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Trigger types.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerWebhook  = "webhook"
	TriggerChat     = "chat"
	TriggerFork     = "fork"
)

// Exit reasons.
const (
	ExitSuccess      = "success"
	ExitError        = "error"
	ExitCancelled    = "cancelled"
	ExitForced       = "forced"
	ExitStorageError = "storage_error"
)

// TerminalStatus reports whether s is a terminal job status.
func TerminalStatus(s string) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is the persisted metadata for one agent execution
// (jobs/<jobId>.yaml). Immutable once a terminal status is written.
type Job struct {
	ID              string     `yaml:"id" json:"id"`
	Agent           string     `yaml:"agent" json:"agent"` // qualified name
	Schedule        string     `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	TriggerType     string     `yaml:"trigger_type" json:"triggerType"`
	ForkedFrom      string     `yaml:"forked_from,omitempty" json:"forkedFrom,omitempty"`
	SessionID       string     `yaml:"session_id,omitempty" json:"sessionId,omitempty"`
	Status          string     `yaml:"status" json:"status"`
	StartedAt       *time.Time `yaml:"started_at,omitempty" json:"startedAt,omitempty"`
	FinishedAt      *time.Time `yaml:"finished_at,omitempty" json:"finishedAt,omitempty"`
	DurationSeconds int        `yaml:"duration_seconds,omitempty" json:"durationSeconds,omitempty"`
	ExitReason      string     `yaml:"exit_reason,omitempty" json:"exitReason,omitempty"`
	Prompt          string     `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Summary         string     `yaml:"summary,omitempty" json:"summary,omitempty"`
	OutputFile      string     `yaml:"output_file,omitempty" json:"outputFile,omitempty"`
}

const jobIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// jobIDRe matches the job file naming convention, used when listing.
var jobIDRe = regexp.MustCompile(`^job-\d{4}-\d{2}-\d{2}-[a-z0-9]{6}$`)

// NewJobID generates a job identity: job-YYYY-MM-DD-<6 lowercase alnum>.
func NewJobID(now time.Time) string {
	buf := make([]byte, 6)
	rand.Read(buf)
	for i := range buf {
		buf[i] = jobIDAlphabet[int(buf[i])%len(jobIDAlphabet)]
	}
	return fmt.Sprintf("job-%s-%s", now.Format("2006-01-02"), buf)
}

// ValidJobID reports whether s has the job identity shape.
func ValidJobID(s string) bool { return jobIDRe.MatchString(s) }
