package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// Output message types. One JSON object per line in <jobId>.jsonl.
const (
	MessageSystem     = "system"
	MessageAssistant  = "assistant"
	MessageToolUse    = "tool_use"
	MessageToolResult = "tool_result"
	MessageError      = "error"
)

// System message subtypes the executor reacts to.
const (
	SystemSessionStart = "session_start"
	SystemCancelled    = "cancelled"
)

// OutputMessage is one entry of a job's output log. Type selects which of
// the variant fields are meaningful.
type OutputMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// system
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// assistant
	Content string `json:"content,omitempty"`

	// tool_use
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Result    string `json:"result,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// error
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// usage, when the runner reports it (assistant messages)
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Validate checks the variant invariants of a message.
func (m *OutputMessage) Validate() error {
	switch m.Type {
	case MessageSystem, MessageAssistant, MessageToolUse, MessageToolResult, MessageError:
	case "":
		return fmt.Errorf("missing type")
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	switch m.Type {
	case MessageToolUse:
		if m.ToolName == "" {
			return fmt.Errorf("tool_use without tool_name")
		}
	case MessageError:
		if m.ErrorMessage == "" {
			return fmt.Errorf("error without error_message")
		}
	}
	return nil
}
