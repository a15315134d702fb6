package fleet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/herdctl/internal/bus"
	"github.com/nextlevelbuilder/herdctl/internal/state"
	"github.com/nextlevelbuilder/herdctl/pkg/protocol"
)

// Log levels, ordered debug < info < warn < error.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var levelRank = map[string]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}

// DefaultHistoryLimit bounds history replay when the caller passes 0.
const DefaultHistoryLimit = 100

// LogEntry is one unified log-stream record.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	AgentName string    `json:"agent_name"`
	JobID     string    `json:"job_id"`
	Message   string    `json:"message"`
}

// StreamLogsOptions filters the unified log stream.
type StreamLogsOptions struct {
	Level          string // minimum level, default debug
	AgentName      string
	JobID          string
	IncludeHistory bool
	HistoryLimit   int
}

// entryFromMessage converts an output record to log-entry shape. Tool
// activity maps to debug, conversation to info, errors to error.
func entryFromMessage(jobID, agentName string, msg state.OutputMessage) LogEntry {
	entry := LogEntry{Timestamp: msg.Timestamp, AgentName: agentName, JobID: jobID}
	switch msg.Type {
	case state.MessageError:
		entry.Level = LevelError
		entry.Message = msg.ErrorMessage
	case state.MessageToolUse:
		entry.Level = LevelDebug
		entry.Message = "tool: " + msg.ToolName
	case state.MessageToolResult:
		entry.Level = LevelDebug
		entry.Message = msg.Result
		if msg.IsError {
			entry.Level = LevelWarn
		}
	case state.MessageSystem:
		entry.Level = LevelInfo
		entry.Message = "system: " + msg.Subtype
	default:
		entry.Level = LevelInfo
		entry.Message = msg.Content
	}
	return entry
}

func (o StreamLogsOptions) minRank() int {
	if r, ok := levelRank[o.Level]; ok {
		return r
	}
	return 0
}

func (o StreamLogsOptions) matches(entry LogEntry) bool {
	if levelRank[entry.Level] < o.minRank() {
		return false
	}
	if o.AgentName != "" && entry.AgentName != o.AgentName {
		return false
	}
	if o.JobID != "" && entry.JobID != o.JobID {
		return false
	}
	return true
}

// StreamLogs yields a unified log stream: optional history replay (jobs in
// startedAt ascending order, up to HistoryLimit records) followed by live
// job:output subscription. The stream ends when ctx is cancelled; cleanup
// unsubscribes from the bus.
func (m *Manager) StreamLogs(ctx context.Context, opts StreamLogsOptions) (<-chan LogEntry, error) {
	if err := m.guard("stream logs"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	store := m.store
	m.mu.Unlock()

	out := make(chan LogEntry, 64)
	go func() {
		defer close(out)

		emit := func(entry LogEntry) bool {
			if !opts.matches(entry) {
				return true
			}
			select {
			case out <- entry:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// Subscribe before the replay so nothing published during it is
		// lost; the queue buffers live events until the switch-over.
		sub := m.bus.SubscribeChan([]string{protocol.EventJobOutput}, 0)
		defer sub.Close()

		if opts.IncludeHistory {
			if !m.replayHistory(ctx, store, opts, emit) {
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-sub.Events():
				payload, ok := ev.Payload.(bus.JobOutputPayload)
				if !ok {
					continue
				}
				msg, ok := state.ParseOutputLine(payload.Output)
				if !ok {
					continue
				}
				if !emit(entryFromMessage(payload.JobID, payload.AgentName, msg)) {
					return
				}
			}
		}
	}()
	return out, nil
}

// replayHistory emits up to HistoryLimit historical records, oldest job
// first. Returns false when the consumer went away.
func (m *Manager) replayHistory(ctx context.Context, store *state.Store, opts StreamLogsOptions, emit func(LogEntry) bool) bool {
	list, err := store.ListJobs(state.JobFilter{Agent: opts.AgentName})
	if err != nil {
		slog.Warn("fleet.log_history_failed", "error", err)
		return true
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	emitted := 0
	// ListJobs sorts startedAt descending; history replays ascending.
	for i := len(list.Jobs) - 1; i >= 0 && emitted < limit; i-- {
		job := list.Jobs[i]
		if opts.JobID != "" && job.ID != opts.JobID {
			continue
		}
		msgs, err := store.ReadOutput(job.ID, state.ReadOptions{SkipInvalidLines: true})
		if err != nil {
			slog.Warn("fleet.log_history_failed", "job", job.ID, "error", err)
			continue
		}
		for _, msg := range msgs {
			if emitted >= limit {
				break
			}
			if ctx.Err() != nil {
				return false
			}
			if !emit(entryFromMessage(job.ID, job.Agent, msg)) {
				return false
			}
			emitted++
		}
	}
	return true
}

// StreamAgentLogs is StreamLogs scoped to one agent.
func (m *Manager) StreamAgentLogs(ctx context.Context, qualifiedName string, opts StreamLogsOptions) (<-chan LogEntry, error) {
	if _, err := m.controller(qualifiedName); err != nil {
		return nil, err
	}
	opts.AgentName = qualifiedName
	return m.StreamLogs(ctx, opts)
}

// jobPollInterval paces terminal-status checks while tailing.
const jobPollInterval = 500 * time.Millisecond

// StreamJobOutput replays a job's output log, then — while the job is still
// active — tails the file for appends until the job reaches a terminal state
// or ctx is cancelled.
func (m *Manager) StreamJobOutput(ctx context.Context, jobID string) (<-chan state.OutputMessage, error) {
	if err := m.guard("stream job output"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	store := m.store
	m.mu.Unlock()

	job, err := store.ReadJob(jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, &JobNotFoundError{JobID: jobID}
	}

	out := make(chan state.OutputMessage, 64)
	go func() {
		defer close(out)
		path := store.JobOutputPath(jobID)

		emit := func(msgs []state.OutputMessage) bool {
			for _, msg := range msgs {
				select {
				case out <- msg:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		msgs, offset, err := readOutputFrom(path, 0)
		if err != nil {
			slog.Warn("fleet.job_tail_failed", "job", jobID, "error", err)
			return
		}
		if !emit(msgs) {
			return
		}
		if state.TerminalStatus(job.Status) {
			return
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("fleet.job_tail_failed", "job", jobID, "error", err)
			return
		}
		defer watcher.Close()
		// Watch the directory: the log file may not exist yet when the tail
		// starts between job creation and the first append.
		if err := watcher.Add(store.JobsDir()); err != nil {
			slog.Warn("fleet.job_tail_failed", "job", jobID, "error", err)
			return
		}

		ticker := time.NewTicker(jobPollInterval)
		defer ticker.Stop()
		for {
			drain := false
			select {
			case <-ctx.Done():
				return
			case ev := <-watcher.Events:
				drain = ev.Name == path && ev.Op&(fsnotify.Write|fsnotify.Create) != 0
			case err := <-watcher.Errors:
				slog.Warn("fleet.job_tail_watch_error", "job", jobID, "error", err)
			case <-ticker.C:
				drain = true
			}
			if !drain {
				continue
			}

			msgs, next, err := readOutputFrom(path, offset)
			if err != nil {
				slog.Warn("fleet.job_tail_failed", "job", jobID, "error", err)
				return
			}
			offset = next
			if !emit(msgs) {
				return
			}

			current, err := store.ReadJob(jobID)
			if err == nil && current != nil && state.TerminalStatus(current.Status) {
				// Final drain: the terminal metadata write happens after the
				// last append, so one more read sees everything.
				msgs, _, err := readOutputFrom(path, offset)
				if err == nil {
					emit(msgs)
				}
				return
			}
		}
	}()
	return out, nil
}

// readOutputFrom parses complete lines starting at offset and returns the new
// offset. A partial trailing line (append in progress) is left for the next
// read. A missing file yields no messages at offset 0.
func readOutputFrom(path string, offset int64) ([]state.OutputMessage, int64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, offset, nil
	}
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek %s: %w", path, err)
	}

	var msgs []state.OutputMessage
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF {
			// Partial line: leave it for the next drain.
			return msgs, offset, nil
		}
		if err != nil {
			return msgs, offset, err
		}
		offset += int64(len(line))
		if msg, ok := state.ParseOutputLine(line); ok {
			msgs = append(msgs, msg)
		}
	}
}
