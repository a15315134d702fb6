package runner

import (
	"testing"
)

func TestDecodeCLILine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantTypes []string
	}{
		{
			name:      "session start",
			line:      `{"type":"system","subtype":"init","session_id":"sess-1"}`,
			wantTypes: []string{"system"},
		},
		{
			name:      "assistant text",
			line:      `{"type":"assistant","message":{"content":[{"type":"text","text":"hello"}]}}`,
			wantTypes: []string{"assistant"},
		},
		{
			name:      "tool use and text",
			line:      `{"type":"assistant","message":{"content":[{"type":"text","text":"running"},{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`,
			wantTypes: []string{"assistant", "tool_use"},
		},
		{
			name:      "tool result",
			line:      `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}}`,
			wantTypes: []string{"tool_result"},
		},
		{
			name:      "error result",
			line:      `{"type":"result","is_error":true,"result":"boom"}`,
			wantTypes: []string{"error"},
		},
		{
			name:      "success result is silent",
			line:      `{"type":"result","is_error":false,"result":"done"}`,
			wantTypes: nil,
		},
		{
			name:      "unknown event dropped",
			line:      `{"type":"telemetry"}`,
			wantTypes: nil,
		},
		{
			name:      "garbage becomes error message",
			line:      `{{{`,
			wantTypes: []string{"error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := decodeCLILine(tt.line)
			if len(msgs) != len(tt.wantTypes) {
				t.Fatalf("got %d messages, want %d: %+v", len(msgs), len(tt.wantTypes), msgs)
			}
			for i, want := range tt.wantTypes {
				if msgs[i].Type != want {
					t.Errorf("msgs[%d].Type = %q, want %q", i, msgs[i].Type, want)
				}
				if msgs[i].Timestamp.IsZero() {
					t.Errorf("msgs[%d] missing timestamp", i)
				}
			}
		})
	}
}

func TestDecodeCLILine_SessionID(t *testing.T) {
	msgs := decodeCLILine(`{"type":"system","subtype":"session_start","session_id":"sess-9"}`)
	if len(msgs) != 1 || msgs[0].SessionID != "sess-9" || msgs[0].Subtype != "session_start" {
		t.Errorf("session start decode: %+v", msgs)
	}
}

func TestClassifyExit(t *testing.T) {
	base := errDummy("exit status 1")
	tests := []struct {
		name   string
		stderr string
		check  func(error) bool
	}{
		{"rate limited", "Error: rate limit exceeded (429)", IsRateLimited},
		{"missing key", "Error: invalid API key provided", IsMissingAPIKey},
		{"network", "Error: connection refused", IsRecoverable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyExit(base, tt.stderr)
			if !tt.check(err) {
				t.Errorf("classifyExit(%q) = %v, predicate failed", tt.stderr, err)
			}
		})
	}

	plain := classifyExit(base, "something else")
	if IsRateLimited(plain) || IsRecoverable(plain) || IsMissingAPIKey(plain) {
		t.Errorf("plain failure misclassified: %v", plain)
	}
}

type errDummy string

func (e errDummy) Error() string { return string(e) }
