package state

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"time"
)

// OutputWriter appends messages to one job's output log. Single writer per
// job; every append is flushed before returning.
type OutputWriter struct {
	path string
	f    *os.File
}

// OpenOutput opens (creating if needed) a job's output log for appending.
func (s *Store) OpenOutput(jobID string) (*OutputWriter, error) {
	path := s.JobOutputPath(jobID)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &FileError{Op: "write", Path: path, Err: err}
	}
	return &OutputWriter{path: path, f: f}, nil
}

// Append validates and writes one message as a single line, then flushes.
func (w *OutputWriter) Append(msg OutputMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if err := msg.Validate(); err != nil {
		return &InvalidMessageError{Index: 0, Err: err}
	}
	return w.writeLines([]OutputMessage{msg})
}

// AppendBatch stamps every message with the same timestamp, validates the
// whole batch before any write, and appends all-or-nothing.
func (w *OutputWriter) AppendBatch(msgs []OutputMessage) error {
	now := time.Now().UTC()
	for i := range msgs {
		msgs[i].Timestamp = now
	}
	for i := range msgs {
		if err := msgs[i].Validate(); err != nil {
			return &InvalidMessageError{Index: i, Err: err}
		}
	}
	return w.writeLines(msgs)
}

func (w *OutputWriter) writeLines(msgs []OutputMessage) error {
	var buf strings.Builder
	for i := range msgs {
		line, err := json.Marshal(&msgs[i])
		if err != nil {
			return &InvalidMessageError{Index: i, Err: err}
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if _, err := w.f.WriteString(buf.String()); err != nil {
		return &FileError{Op: "write", Path: w.path, Err: err}
	}
	if err := w.f.Sync(); err != nil {
		return &FileError{Op: "write", Path: w.path, Err: err}
	}
	return nil
}

// Close closes the underlying file.
func (w *OutputWriter) Close() error { return w.f.Close() }

// ReadOptions controls output log reading.
type ReadOptions struct {
	// SkipInvalidLines logs and skips malformed lines instead of failing
	// with MalformedLineError.
	SkipInvalidLines bool
}

// ReadOutput returns every message of a job's output log in append order.
// Blank lines are skipped. A missing log yields an empty slice.
func (s *Store) ReadOutput(jobID string, opts ReadOptions) ([]OutputMessage, error) {
	path := s.JobOutputPath(jobID)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &FileError{Op: "read", Path: path, Err: err}
	}
	defer f.Close()

	var msgs []OutputMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg OutputMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			if opts.SkipInvalidLines {
				slog.Warn("state.output_line_skipped", "path", path, "line", lineNo, "error", err)
				continue
			}
			return nil, &MalformedLineError{Path: path, Line: lineNo, Err: err}
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, &FileError{Op: "read", Path: path, Err: err}
	}
	return msgs, nil
}

// ParseOutputLine decodes one log line. Used by the live tail, which reads
// raw appended bytes itself.
func ParseOutputLine(line string) (OutputMessage, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return OutputMessage{}, false
	}
	var msg OutputMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return OutputMessage{}, false
	}
	return msg, true
}
