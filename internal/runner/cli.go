package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// CLIRunner drives the external agent CLI in stream-JSON mode: one
// subprocess per execution, one JSON object per stdout line.
type CLIRunner struct {
	// Binary is the CLI executable (default "claude").
	Binary string

	// APIKeyEnv is the credential variable checked before spawning
	// (default "ANTHROPIC_API_KEY").
	APIKeyEnv string
}

// NewCLIRunner returns a CLI backend with defaults.
func NewCLIRunner() *CLIRunner {
	return &CLIRunner{Binary: "claude", APIKeyEnv: "ANTHROPIC_API_KEY"}
}

func (r *CLIRunner) Name() string { return "cli" }

// cliEvent is the wire shape of one stream-JSON line.
type cliEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Usage     *cliUsage       `json:"usage,omitempty"`
}

type cliUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type cliContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type cliMessage struct {
	Content []cliContentBlock `json:"content"`
}

// Execute spawns the CLI and converts its stream-JSON output into the
// message stream.
func (r *CLIRunner) Execute(ctx context.Context, opts Options) (Stream, error) {
	if r.APIKeyEnv != "" && os.Getenv(r.APIKeyEnv) == "" {
		return nil, &InitError{Message: r.APIKeyEnv + " is not set", MissingAPIKey: true}
	}

	args := []string{"--print", "--output-format", "stream-json", "--verbose"}
	if opts.Agent.Model != "" {
		args = append(args, "--model", opts.Agent.Model)
	}
	if opts.Agent.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.Agent.PermissionMode)
	}
	if len(opts.Agent.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(opts.Agent.AllowedTools, ","))
	}
	if len(opts.Agent.DeniedTools) > 0 {
		args = append(args, "--disallowed-tools", strings.Join(opts.Agent.DeniedTools, ","))
	}
	if opts.SessionID != "" {
		args = append(args, "--resume", opts.SessionID)
	}
	for _, srv := range opts.InjectedToolServers {
		args = append(args, "--mcp-config", srv)
	}
	args = append(args, opts.Prompt)

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Dir = opts.WorkingDirectory

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &InitError{Message: err.Error(), Err: err}
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if _, ok := err.(*exec.Error); ok {
			return nil, &InitError{Message: fmt.Sprintf("%s not found in PATH", r.Binary), Err: err}
		}
		return nil, &InitError{Message: err.Error(), Err: err}
	}

	stream := newChanStream(64)
	go func() {
		defer close(stream.ch)

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			for _, msg := range decodeCLILine(line) {
				select {
				case stream.ch <- msg:
				case <-ctx.Done():
					cmd.Wait()
					stream.err = ctx.Err()
					return
				}
			}
		}

		waitErr := cmd.Wait()
		if ctx.Err() != nil {
			stream.err = ctx.Err()
			return
		}
		if scanErr := scanner.Err(); scanErr != nil {
			stream.err = &StreamingError{Message: scanErr.Error(), IsRecoverable: true, Err: scanErr}
			return
		}
		if waitErr != nil {
			stream.err = classifyExit(waitErr, stderr.String())
		}
	}()

	return stream, nil
}

// decodeCLILine maps one stream-JSON line to zero or more messages. Unknown
// event types are dropped; an undecodable line becomes an error message so
// the executor can surface it without killing the stream.
func decodeCLILine(line string) []Message {
	now := time.Now().UTC()

	var ev cliEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return []Message{{
			Type:         "error",
			Timestamp:    now,
			ErrorKind:    KindMalformed,
			ErrorMessage: fmt.Sprintf("undecodable stream line: %v", err),
		}}
	}

	switch ev.Type {
	case "system":
		if ev.Subtype == "init" || ev.Subtype == "session_start" {
			return []Message{{
				Type:      "system",
				Timestamp: now,
				Subtype:   "session_start",
				SessionID: ev.SessionID,
			}}
		}
		return nil

	case "assistant", "user":
		var m cliMessage
		if err := json.Unmarshal(ev.Message, &m); err != nil {
			return nil
		}
		var out []Message
		for _, block := range m.Content {
			switch block.Type {
			case "text":
				msg := Message{Type: "assistant", Timestamp: now, Content: block.Text}
				if ev.Usage != nil {
					msg.InputTokens = ev.Usage.InputTokens
					msg.OutputTokens = ev.Usage.OutputTokens
				}
				out = append(out, msg)
			case "tool_use":
				out = append(out, Message{
					Type:      "tool_use",
					Timestamp: now,
					ToolName:  block.Name,
					ToolInput: block.Input,
				})
			case "tool_result":
				out = append(out, Message{
					Type:      "tool_result",
					Timestamp: now,
					ToolUseID: block.ToolUseID,
					Result:    block.Content,
					IsError:   block.IsError,
				})
			}
		}
		return out

	case "result":
		if ev.IsError {
			return []Message{{
				Type:         "error",
				Timestamp:    now,
				ErrorKind:    KindStreaming,
				ErrorMessage: ev.Result,
			}}
		}
		return nil
	}
	return nil
}

// classifyExit turns a non-zero CLI exit into a typed streaming error.
func classifyExit(waitErr error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429"):
		return &StreamingError{Message: firstLine(stderr), IsRateLimited: true, IsRecoverable: true, Err: waitErr}
	case strings.Contains(lower, "api key") || strings.Contains(lower, "authentication"):
		return &InitError{Message: firstLine(stderr), MissingAPIKey: true, Err: waitErr}
	case strings.Contains(lower, "connection") || strings.Contains(lower, "timeout") || strings.Contains(lower, "network"):
		return &StreamingError{Message: firstLine(stderr), IsRecoverable: true, Err: waitErr}
	default:
		msg := firstLine(stderr)
		if msg == "" {
			msg = waitErr.Error()
		}
		return &StreamingError{Message: msg, Err: waitErr}
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
