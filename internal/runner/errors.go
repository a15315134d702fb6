package runner

import "fmt"

// Error kinds for the execution family surfaced by runner backends.
const (
	KindInit      = "sdk_initialization"
	KindStreaming = "sdk_streaming"
	KindMalformed = "malformed_response"
)

// InitError reports a failure before any message was produced.
type InitError struct {
	Message       string
	MissingAPIKey bool
	Network       bool
	Err           error
}

func (e *InitError) Kind() string  { return KindInit }
func (e *InitError) Unwrap() error { return e.Err }
func (e *InitError) Error() string {
	return fmt.Sprintf("runner initialization: %s", e.Message)
}

// StreamingError reports a failure mid-stream.
type StreamingError struct {
	Message       string
	IsRecoverable bool
	IsRateLimited bool
	Err           error
}

func (e *StreamingError) Kind() string  { return KindStreaming }
func (e *StreamingError) Unwrap() error { return e.Err }
func (e *StreamingError) Error() string {
	return fmt.Sprintf("runner streaming: %s", e.Message)
}

// MalformedResponseError reports output the backend could not decode.
type MalformedResponseError struct {
	Message  string
	Expected string // descriptor of the shape that was expected, if known
}

func (e *MalformedResponseError) Kind() string { return KindMalformed }
func (e *MalformedResponseError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("malformed runner response (expected %s): %s", e.Expected, e.Message)
	}
	return "malformed runner response: " + e.Message
}

// IsMissingAPIKey reports whether err is an init failure caused by absent
// credentials.
func IsMissingAPIKey(err error) bool {
	ie, ok := err.(*InitError)
	return ok && ie.MissingAPIKey
}

// IsNetworkError reports whether err is a network-class init failure.
func IsNetworkError(err error) bool {
	ie, ok := err.(*InitError)
	return ok && ie.Network
}

// IsRateLimited reports whether err is a rate-limited streaming failure.
func IsRateLimited(err error) bool {
	se, ok := err.(*StreamingError)
	return ok && se.IsRateLimited
}

// IsRecoverable reports whether err is a streaming failure the caller may
// retry with a fresh trigger.
func IsRecoverable(err error) bool {
	se, ok := err.(*StreamingError)
	return ok && se.IsRecoverable
}
