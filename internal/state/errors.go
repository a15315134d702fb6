package state

import "fmt"

// Error kinds for the storage family.
const (
	KindStateFileRead   = "state_file_read"
	KindStateFileWrite  = "state_file_write"
	KindStateDirCreate  = "state_dir_create"
	KindAtomicWrite     = "atomic_write"
	KindInvalidMessage  = "invalid_output_message"
	KindMalformedOutput = "malformed_output_line"
)

// FileError is a read/write/mkdir failure on a state file.
type FileError struct {
	Op   string // "read", "write", "mkdir"
	Path string
	Err  error
}

func (e *FileError) Kind() string {
	switch e.Op {
	case "read":
		return KindStateFileRead
	case "mkdir":
		return KindStateDirCreate
	default:
		return KindStateFileWrite
	}
}

func (e *FileError) Unwrap() error { return e.Err }
func (e *FileError) Error() string {
	return fmt.Sprintf("state %s %s: %v", e.Op, e.Path, e.Err)
}

// AtomicWriteError reports a failed temp-write-then-rename. The target file
// is unchanged; the temp file has been removed.
type AtomicWriteError struct {
	Path     string
	TempPath string
	Err      error
}

func (e *AtomicWriteError) Kind() string  { return KindAtomicWrite }
func (e *AtomicWriteError) Unwrap() error { return e.Err }
func (e *AtomicWriteError) Error() string {
	return fmt.Sprintf("atomic write %s (temp %s): %v", e.Path, e.TempPath, e.Err)
}

// InvalidMessageError reports a message that failed validation before an
// append. Index is the position within the submitted batch.
type InvalidMessageError struct {
	Index int
	Err   error
}

func (e *InvalidMessageError) Kind() string  { return KindInvalidMessage }
func (e *InvalidMessageError) Unwrap() error { return e.Err }
func (e *InvalidMessageError) Error() string {
	return fmt.Sprintf("invalid output message at index %d: %v", e.Index, e.Err)
}

// MalformedLineError reports an unparseable line in a job output log.
type MalformedLineError struct {
	Path string
	Line int // 1-based
	Err  error
}

func (e *MalformedLineError) Kind() string  { return KindMalformedOutput }
func (e *MalformedLineError) Unwrap() error { return e.Err }
func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed output line %s:%d: %v", e.Path, e.Line, e.Err)
}
