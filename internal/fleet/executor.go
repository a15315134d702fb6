package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/herdctl/internal/bus"
	"github.com/nextlevelbuilder/herdctl/internal/config"
	"github.com/nextlevelbuilder/herdctl/internal/runner"
	"github.com/nextlevelbuilder/herdctl/internal/state"
	"github.com/nextlevelbuilder/herdctl/pkg/protocol"
)

// contextWindowTokens is the assumed runner context window for the
// context-usage estimate surfaced on agent status.
const contextWindowTokens = 200_000

// summaryLimit caps the summary copied from the last assistant message.
const summaryLimit = 500

// executor drives one job from pending to a terminal state.
type executor struct {
	store      *state.Store
	bus        *bus.Bus
	controller *Controller
	agent      *config.Agent
	job        *state.Job
	runner     runner.Runner
	forced     *atomic.Bool
}

func (e *executor) run(ctx context.Context) {
	ctx, span := otel.Tracer("herdctl/fleet").Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.String("job.id", e.job.ID),
			attribute.String("agent.name", e.job.Agent),
			attribute.String("job.trigger_type", e.job.TriggerType),
		))
	defer span.End()

	started := time.Now().UTC()
	e.job.Status = state.StatusRunning
	e.job.StartedAt = &started
	if err := e.store.WriteJob(e.job); err != nil {
		slog.Error("fleet.job_start_write_failed", "job", e.job.ID, "error", err)
		e.finalizeFailed(span, state.ExitStorageError, bus.ErrorInfo{Kind: "storage", Message: err.Error()})
		return
	}

	w, err := e.store.OpenOutput(e.job.ID)
	if err != nil {
		slog.Error("fleet.output_open_failed", "job", e.job.ID, "error", err)
		e.finalizeFailed(span, state.ExitStorageError, bus.ErrorInfo{Kind: "storage", Message: err.Error()})
		return
	}
	defer w.Close()

	stream, err := e.runner.Execute(ctx, runner.Options{
		Agent:            e.agent,
		Prompt:           e.job.Prompt,
		WorkingDirectory: e.agent.WorkingDirectory,
		SessionID:        e.job.SessionID,
	})
	if err != nil {
		e.appendError(w, err)
		e.finalizeFailed(span, state.ExitError, errorInfo(err))
		return
	}

	var lastAssistant string
	var lastError *bus.ErrorInfo
	for msg := range stream.Messages() {
		if err := w.Append(msg); err != nil {
			slog.Error("fleet.output_append_failed", "job", e.job.ID, "error", err)
			e.finalizeFailed(span, state.ExitStorageError, bus.ErrorInfo{Kind: "storage", Message: err.Error()})
			return
		}
		e.publishOutput(msg)

		switch msg.Type {
		case state.MessageSystem:
			if msg.Subtype == state.SystemSessionStart && msg.SessionID != "" {
				e.job.SessionID = msg.SessionID
				if err := e.store.WriteJob(e.job); err != nil {
					slog.Warn("fleet.session_persist_failed", "job", e.job.ID, "error", err)
				}
				if err := e.store.WriteSessionPointer(e.job.Agent, msg.SessionID); err != nil {
					slog.Warn("fleet.session_pointer_failed", "agent", e.job.Agent, "error", err)
				}
				e.controller.setSession(msg.SessionID)
			}
		case state.MessageAssistant:
			lastAssistant = msg.Content
			if used := msg.InputTokens + msg.OutputTokens; used > 0 {
				p := float64(used) / contextWindowTokens * 100
				if p > 100 {
					p = 100
				}
				e.controller.setContextPercent(p)
			}
		case state.MessageError:
			lastError = &bus.ErrorInfo{Kind: msg.ErrorKind, Message: msg.ErrorMessage}
		}
	}

	if ctx.Err() != nil {
		e.finalizeCancelled(span, w)
		return
	}
	if err := stream.Err(); err != nil {
		e.appendError(w, err)
		e.finalizeFailed(span, state.ExitError, errorInfo(err))
		return
	}
	if lastError != nil {
		e.finalizeFailed(span, state.ExitError, *lastError)
		return
	}

	e.job.Status = state.StatusCompleted
	e.job.ExitReason = state.ExitSuccess
	e.job.Summary = truncate(lastAssistant, summaryLimit)
	e.writeTerminal(span)
	span.SetStatus(codes.Ok, "")
	e.bus.Publish(protocol.EventJobCompleted, bus.JobCompletedPayload{Job: e.job, DurationSeconds: e.job.DurationSeconds})
}

// appendError records a runner-level failure in the output log so the failure
// is visible in the job transcript, not only in metadata.
func (e *executor) appendError(w *state.OutputWriter, err error) {
	info := errorInfo(err)
	msg := state.OutputMessage{
		Type:         state.MessageError,
		ErrorKind:    info.Kind,
		ErrorMessage: info.Message,
	}
	if appendErr := w.Append(msg); appendErr != nil {
		slog.Warn("fleet.error_record_failed", "job", e.job.ID, "error", appendErr)
		return
	}
	e.publishOutput(msg)
}

func (e *executor) finalizeFailed(span trace.Span, exitReason string, info bus.ErrorInfo) {
	e.job.Status = state.StatusFailed
	e.job.ExitReason = exitReason
	e.writeTerminal(span)
	span.SetStatus(codes.Error, info.Message)
	e.bus.Publish(protocol.EventJobFailed, bus.JobFailedPayload{Job: e.job, Error: info})
}

func (e *executor) finalizeCancelled(span trace.Span, w *state.OutputWriter) {
	// A forced cancel already finalized this job and announced it; the
	// abandoned executor must not touch the terminal job again.
	if e.forced.Load() {
		span.SetStatus(codes.Error, "cancelled")
		return
	}
	record := state.OutputMessage{Type: state.MessageSystem, Subtype: state.SystemCancelled}
	if err := w.Append(record); err != nil {
		slog.Warn("fleet.cancel_record_failed", "job", e.job.ID, "error", err)
	} else {
		e.publishOutput(record)
	}
	e.job.Status = state.StatusCancelled
	e.job.ExitReason = state.ExitCancelled
	e.writeTerminal(span)
	span.SetStatus(codes.Error, "cancelled")
	e.bus.Publish(protocol.EventJobCancelled, bus.JobCancelledPayload{Job: e.job, Reason: "cancelled"})
}

// writeTerminal stamps finishedAt and persists the final metadata atomically.
// Skipped when a forced cancel already wrote the terminal record.
func (e *executor) writeTerminal(span trace.Span) {
	if e.forced.Load() {
		return
	}
	now := time.Now().UTC()
	e.job.FinishedAt = &now
	if err := e.store.WriteJob(e.job); err != nil {
		slog.Error("fleet.job_finalize_failed", "job", e.job.ID, "error", err)
		span.RecordError(err)
	}
}

// publishOutput mirrors one log record onto the bus as a raw line.
func (e *executor) publishOutput(msg state.OutputMessage) {
	line, err := json.Marshal(&msg)
	if err != nil {
		return
	}
	streamName := "stdout"
	if msg.Type == state.MessageError {
		streamName = "stderr"
	}
	e.bus.Publish(protocol.EventJobOutput, bus.JobOutputPayload{
		JobID:     e.job.ID,
		AgentName: e.job.Agent,
		Output:    string(line),
		Stream:    streamName,
		Timestamp: msg.Timestamp,
	})
}

// errorInfo maps runner error types onto the structured error attached to
// job:failed events.
func errorInfo(err error) bus.ErrorInfo {
	var initErr *runner.InitError
	if errors.As(err, &initErr) {
		info := bus.ErrorInfo{Kind: runner.KindInit, Message: initErr.Error()}
		if initErr.MissingAPIKey {
			info.Code = "missing_api_key"
		} else if initErr.Network {
			info.Code = "network"
		}
		return info
	}
	var streamErr *runner.StreamingError
	if errors.As(err, &streamErr) {
		info := bus.ErrorInfo{Kind: runner.KindStreaming, Message: streamErr.Error()}
		if streamErr.IsRateLimited {
			info.Code = "rate_limited"
		}
		return info
	}
	var malformed *runner.MalformedResponseError
	if errors.As(err, &malformed) {
		return bus.ErrorInfo{Kind: runner.KindMalformed, Message: malformed.Error()}
	}
	return bus.ErrorInfo{Kind: "error", Message: err.Error()}
}

// truncate cuts s to at most n bytes, backing up to a rune boundary so a
// multi-byte character is never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
