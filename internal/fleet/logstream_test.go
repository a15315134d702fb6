package fleet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/herdctl/internal/runner"
	"github.com/nextlevelbuilder/herdctl/internal/state"
	"github.com/nextlevelbuilder/herdctl/pkg/protocol"
)

func collectN[T any](t *testing.T, ch <-chan T, n int) []T {
	t.Helper()
	var out []T
	for len(out) < n {
		select {
		case v, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed after %d of %d items", len(out), n)
			}
			out = append(out, v)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d of %d items", len(out), n)
		}
	}
	return out
}

func TestStreamJobOutput_ReplaysCompletedJob(t *testing.T) {
	m := newTestManager(t, func(ctx context.Context, opts runner.Options, emit func(runner.Message) bool) error {
		emit(runner.Message{Type: state.MessageAssistant, Content: "one", Timestamp: time.Now()})
		emit(runner.Message{Type: state.MessageToolUse, ToolName: "Bash", Timestamp: time.Now()})
		emit(runner.Message{Type: state.MessageAssistant, Content: "two", Timestamp: time.Now()})
		return nil
	})
	sub := m.Bus().SubscribeChan([]string{protocol.EventJobCompleted}, 0)
	defer sub.Close()

	res, err := m.Trigger("worker", TriggerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	waitEvent(t, sub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := m.StreamJobOutput(ctx, res.JobID)
	if err != nil {
		t.Fatalf("StreamJobOutput: %v", err)
	}

	var got []state.OutputMessage
	for msg := range ch {
		got = append(got, msg)
	}
	if len(got) != 3 {
		t.Fatalf("replayed %d messages, want 3", len(got))
	}
	if got[0].Content != "one" || got[1].ToolName != "Bash" || got[2].Content != "two" {
		t.Errorf("replay order broken: %+v", got)
	}
}

func TestStreamJobOutput_TailsActiveJob(t *testing.T) {
	proceed := make(chan struct{})
	m := newTestManager(t, func(ctx context.Context, opts runner.Options, emit func(runner.Message) bool) error {
		emit(runner.Message{Type: state.MessageAssistant, Content: "early", Timestamp: time.Now()})
		select {
		case <-proceed:
		case <-ctx.Done():
			return ctx.Err()
		}
		emit(runner.Message{Type: state.MessageAssistant, Content: "late", Timestamp: time.Now()})
		return nil
	})
	outputSub := m.Bus().SubscribeChan([]string{protocol.EventJobOutput}, 0)
	defer outputSub.Close()

	res, err := m.Trigger("worker", TriggerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	waitEvent(t, outputSub) // "early" is on disk once published

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := m.StreamJobOutput(ctx, res.JobID)
	if err != nil {
		t.Fatal(err)
	}

	first := collectN(t, ch, 1)
	if first[0].Content != "early" {
		t.Fatalf("first tailed message %+v", first[0])
	}

	close(proceed)
	rest := collectN(t, ch, 1)
	if rest[0].Content != "late" {
		t.Errorf("tail missed append: %+v", rest[0])
	}

	// Terminal state ends the tail.
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("tail yielded an extra message after terminal state")
		}
	case <-time.After(5 * time.Second):
		t.Error("tail did not close after job completed")
	}
}

func TestStreamJobOutput_UnknownJob(t *testing.T) {
	m := newTestManager(t, func(ctx context.Context, opts runner.Options, emit func(runner.Message) bool) error {
		return nil
	})
	var notFound *JobNotFoundError
	if _, err := m.StreamJobOutput(context.Background(), "job-2024-01-15-zzzzzz"); !errors.As(err, &notFound) {
		t.Errorf("err = %v, want JobNotFoundError", err)
	}
}

func TestStreamLogs_HistoryThenLive(t *testing.T) {
	m := newTestManager(t, func(ctx context.Context, opts runner.Options, emit func(runner.Message) bool) error {
		emit(runner.Message{Type: state.MessageAssistant, Content: opts.Prompt, Timestamp: time.Now()})
		return nil
	})
	doneSub := m.Bus().SubscribeChan([]string{protocol.EventJobCompleted}, 0)
	defer doneSub.Close()

	if _, err := m.Trigger("worker", TriggerOptions{Prompt: "history entry"}); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, doneSub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := m.StreamLogs(ctx, StreamLogsOptions{IncludeHistory: true, HistoryLimit: 10})
	if err != nil {
		t.Fatal(err)
	}

	replayed := collectN(t, ch, 1)
	if replayed[0].Message != "history entry" || replayed[0].Level != LevelInfo {
		t.Fatalf("history entry %+v", replayed[0])
	}

	if _, err := m.Trigger("worker", TriggerOptions{Prompt: "live entry"}); err != nil {
		t.Fatal(err)
	}
	live := collectN(t, ch, 1)
	if live[0].Message != "live entry" {
		t.Errorf("live entry %+v", live[0])
	}

	cancel()
	for range ch {
	}
}

func TestStreamLogs_LevelFilter(t *testing.T) {
	m := newTestManager(t, func(ctx context.Context, opts runner.Options, emit func(runner.Message) bool) error {
		emit(runner.Message{Type: state.MessageToolUse, ToolName: "Bash", Timestamp: time.Now()})
		emit(runner.Message{Type: state.MessageError, ErrorKind: "error", ErrorMessage: "boom", Timestamp: time.Now()})
		return nil
	})
	doneSub := m.Bus().SubscribeChan([]string{protocol.EventJobFailed}, 0)
	defer doneSub.Close()

	if _, err := m.Trigger("worker", TriggerOptions{}); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, doneSub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := m.StreamLogs(ctx, StreamLogsOptions{Level: LevelError, IncludeHistory: true})
	if err != nil {
		t.Fatal(err)
	}

	got := collectN(t, ch, 1)
	if got[0].Level != LevelError || got[0].Message != "boom" {
		t.Errorf("filtered entry %+v, want only the error record", got[0])
	}
	cancel()
	for range ch {
	}
}

func TestEntryFromMessage_Levels(t *testing.T) {
	tests := []struct {
		msg   state.OutputMessage
		level string
	}{
		{state.OutputMessage{Type: state.MessageAssistant, Content: "hi"}, LevelInfo},
		{state.OutputMessage{Type: state.MessageSystem, Subtype: "session_start"}, LevelInfo},
		{state.OutputMessage{Type: state.MessageToolUse, ToolName: "Read"}, LevelDebug},
		{state.OutputMessage{Type: state.MessageToolResult, Result: "ok"}, LevelDebug},
		{state.OutputMessage{Type: state.MessageToolResult, Result: "no", IsError: true}, LevelWarn},
		{state.OutputMessage{Type: state.MessageError, ErrorMessage: "x"}, LevelError},
	}
	for _, tt := range tests {
		if got := entryFromMessage("job-x", "a", tt.msg).Level; got != tt.level {
			t.Errorf("%s: level = %s, want %s", tt.msg.Type, got, tt.level)
		}
	}
}
