package state

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WriteJob persists job metadata atomically. duration_seconds is computed
// from started/finished when the writer left it unset.
func (s *Store) WriteJob(job *Job) error {
	if job.DurationSeconds == 0 && job.StartedAt != nil && job.FinishedAt != nil {
		job.DurationSeconds = int(job.FinishedAt.Sub(*job.StartedAt).Round(time.Second) / time.Second)
	}
	return writeYAML(s.jobMetaPath(job.ID), job)
}

// ReadJob loads job metadata. A missing file returns (nil, nil); a file that
// fails to parse or validate is logged and treated as missing, matching the
// listing behaviour.
func (s *Store) ReadJob(jobID string) (*Job, error) {
	path := s.jobMetaPath(jobID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &FileError{Op: "read", Path: path, Err: err}
	}

	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		slog.Warn("state.job_metadata_unreadable", "path", path, "error", err)
		return nil, nil
	}
	if job.ID == "" || job.Agent == "" {
		slog.Warn("state.job_metadata_incomplete", "path", path)
		return nil, nil
	}
	return &job, nil
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Agent         string
	Status        string
	StartedAfter  *time.Time
	StartedBefore *time.Time
}

// JobList is the result of a directory scan.
type JobList struct {
	Jobs       []*Job
	ErrorCount int // files matching the job naming convention that failed to parse
}

// ListJobs scans jobs/*.yaml, applies the filter, and returns jobs sorted by
// startedAt descending (jobs that never started sort last).
func (s *Store) ListJobs(filter JobFilter) (*JobList, error) {
	entries, err := os.ReadDir(s.JobsDir())
	if err != nil {
		return nil, &FileError{Op: "read", Path: s.JobsDir(), Err: err}
	}

	result := &JobList{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		id := strings.TrimSuffix(name, ".yaml")
		if !ValidJobID(id) {
			continue
		}
		job, err := s.ReadJob(id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			result.ErrorCount++
			continue
		}
		if !filter.matches(job) {
			continue
		}
		result.Jobs = append(result.Jobs, job)
	}

	sort.SliceStable(result.Jobs, func(i, j int) bool {
		a, b := result.Jobs[i].StartedAt, result.Jobs[j].StartedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return result, nil
}

func (f JobFilter) matches(job *Job) bool {
	if f.Agent != "" && job.Agent != f.Agent {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	if f.StartedAfter != nil && (job.StartedAt == nil || job.StartedAt.Before(*f.StartedAfter)) {
		return false
	}
	if f.StartedBefore != nil && (job.StartedAt == nil || job.StartedAt.After(*f.StartedBefore)) {
		return false
	}
	return true
}

// JobExists reports whether metadata for the id is present on disk, parseable
// or not. Used for collision checks when generating identities.
func (s *Store) JobExists(jobID string) bool {
	_, err := os.Stat(s.jobMetaPath(jobID))
	return err == nil
}

// NewUniqueJobID generates a job id, retrying on the (unlikely) collision
// with an existing metadata file.
func (s *Store) NewUniqueJobID(now time.Time) string {
	for {
		id := NewJobID(now)
		if !s.JobExists(id) {
			return id
		}
	}
}

// RemoveJob deletes a job's metadata and output log. Used by reload when an
// agent is removed; running jobs are drained first by the caller.
func (s *Store) RemoveJob(jobID string) error {
	for _, path := range []string{s.jobMetaPath(jobID), s.JobOutputPath(jobID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return &FileError{Op: "write", Path: filepath.Dir(path), Err: err}
		}
	}
	return nil
}
