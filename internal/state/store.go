// Package state owns the on-disk fleet state: job metadata documents, job
// output logs, session pointers, and the PID file. All whole-file writes go
// through the atomic temp-write-then-rename path; output logs are
// append-only and flushed per line.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const pidFileName = "herdctl.pid"

// Store is the file-backed state store rooted at a state directory.
type Store struct {
	root string
}

// Open creates (if needed) the state directory tree and returns a store.
func Open(root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, "jobs"), filepath.Join(root, "sessions")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &FileError{Op: "mkdir", Path: dir, Err: err}
		}
	}
	return &Store{root: root}, nil
}

// Root returns the state directory.
func (s *Store) Root() string { return s.root }

// JobsDir returns the directory holding job metadata and output logs.
func (s *Store) JobsDir() string { return filepath.Join(s.root, "jobs") }

func (s *Store) jobMetaPath(jobID string) string {
	return filepath.Join(s.root, "jobs", jobID+".yaml")
}

// JobOutputPath returns the absolute path of a job's output log.
func (s *Store) JobOutputPath(jobID string) string {
	return filepath.Join(s.root, "jobs", jobID+".jsonl")
}

// PlatformSessionsDir returns the directory for a chat platform's session
// files, creating it on first use.
func (s *Store) PlatformSessionsDir(platform string) (string, error) {
	dir := filepath.Join(s.root, platform+"-sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &FileError{Op: "mkdir", Path: dir, Err: err}
	}
	return dir, nil
}

// WritePID records the running fleet's process id.
func (s *Store) WritePID(pid int) error {
	return AtomicWriteFile(filepath.Join(s.root, pidFileName), []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// ReadPID returns the recorded process id, or 0 if absent.
func (s *Store) ReadPID() (int, error) {
	data, err := os.ReadFile(filepath.Join(s.root, pidFileName))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, &FileError{Op: "read", Path: filepath.Join(s.root, pidFileName), Err: err}
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", pidFileName, err)
	}
	return pid, nil
}

// RemovePID deletes the PID file. Missing is not an error.
func (s *Store) RemovePID() error {
	err := os.Remove(filepath.Join(s.root, pidFileName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SessionPointer is the legacy per-agent session pointer
// (sessions/<agent>.json).
type SessionPointer struct {
	SessionID string    `json:"session_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WriteSessionPointer persists the last known runner session for an agent.
func (s *Store) WriteSessionPointer(agent, sessionID string) error {
	data, err := json.MarshalIndent(SessionPointer{SessionID: sessionID, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	return AtomicWriteFile(filepath.Join(s.root, "sessions", sanitizeName(agent)+".json"), data, 0o644)
}

// ReadSessionPointer returns the stored session id for an agent, or "" when
// none is recorded.
func (s *Store) ReadSessionPointer(agent string) (string, error) {
	path := filepath.Join(s.root, "sessions", sanitizeName(agent)+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", &FileError{Op: "read", Path: path, Err: err}
	}
	var ptr SessionPointer
	if err := json.Unmarshal(data, &ptr); err != nil {
		return "", nil // treat corrupt pointer as absent
	}
	return ptr.SessionID, nil
}

// writeYAML atomically writes any document as YAML.
func writeYAML(path string, doc any) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return AtomicWriteFile(path, data, 0o644)
}

// sanitizeName keeps qualified agent names filesystem-safe.
func sanitizeName(name string) string {
	return strings.ReplaceAll(name, string(filepath.Separator), "_")
}
