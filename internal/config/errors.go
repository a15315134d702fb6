package config

import (
	"fmt"
	"strings"
)

// Error kinds for the configuration family. Stable machine-readable
// discriminators; callers switch on Kind() instead of matching messages.
const (
	KindConfigNotFound     = "config_not_found"
	KindFileRead           = "file_read"
	KindSchemaValidation   = "schema_validation"
	KindInvalidFleetName   = "invalid_fleet_name"
	KindFleetCycle         = "fleet_cycle"
	KindFleetNameCollision = "fleet_name_collision"
	KindFleetLoad          = "fleet_load"
	KindAgentLoad          = "agent_load"
)

// Kinder is implemented by every config error.
type Kinder interface {
	Kind() string
}

// NotFoundError reports that no config file could be located.
type NotFoundError struct {
	Searched []string // paths tried, in order
}

func (e *NotFoundError) Kind() string { return KindConfigNotFound }
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no herdctl config found (searched: %s)", strings.Join(e.Searched, ", "))
}

// FileReadError wraps an OS-level read failure.
type FileReadError struct {
	Path string
	Err  error
}

func (e *FileReadError) Kind() string  { return KindFileRead }
func (e *FileReadError) Unwrap() error { return e.Err }
func (e *FileReadError) Error() string {
	return fmt.Sprintf("read config %s: %v", e.Path, e.Err)
}

// Issue is one schema validation finding.
type Issue struct {
	Path    string // dotted field path, e.g. "agents[0].path"
	Message string
}

func (i Issue) String() string { return i.Path + ": " + i.Message }

// SchemaError reports one or more schema validation failures for a file.
type SchemaError struct {
	Path   string
	Issues []Issue
}

func (e *SchemaError) Kind() string { return KindSchemaValidation }
func (e *SchemaError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, iss := range e.Issues {
		parts[i] = iss.String()
	}
	return fmt.Sprintf("invalid config %s: %s", e.Path, strings.Join(parts, "; "))
}

// InvalidFleetNameError reports a fleet name that fails the name pattern.
type InvalidFleetNameError struct {
	Name    string
	Pattern string
}

func (e *InvalidFleetNameError) Kind() string { return KindInvalidFleetName }
func (e *InvalidFleetNameError) Error() string {
	return fmt.Sprintf("invalid fleet name %q: must match %s (dots are reserved for qualification)", e.Name, e.Pattern)
}

// CycleError reports a fleet reference cycle. Chain holds the ordered
// absolute paths from the root to the repeated file, which appears last.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Kind() string { return KindFleetCycle }
func (e *CycleError) Error() string {
	return fmt.Sprintf("fleet reference cycle: %s", strings.Join(e.Chain, " -> "))
}

// NameCollisionError reports two sibling sub-fleet references resolving to
// the same name.
type NameCollisionError struct {
	Name       string
	FirstPath  string
	SecondPath string
}

func (e *NameCollisionError) Kind() string { return KindFleetNameCollision }
func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("fleet name %q claimed by both %s and %s", e.Name, e.FirstPath, e.SecondPath)
}

// FleetLoadError wraps any failure while loading a referenced sub-fleet.
type FleetLoadError struct {
	RefPath string // the path as written in the parent's fleets entry
	Err     error
}

func (e *FleetLoadError) Kind() string  { return KindFleetLoad }
func (e *FleetLoadError) Unwrap() error { return e.Err }
func (e *FleetLoadError) Error() string {
	return fmt.Sprintf("load fleet %s: %v", e.RefPath, e.Err)
}

// AgentLoadError wraps any failure while loading a referenced agent file.
type AgentLoadError struct {
	RefPath string
	Err     error
}

func (e *AgentLoadError) Kind() string  { return KindAgentLoad }
func (e *AgentLoadError) Unwrap() error { return e.Err }
func (e *AgentLoadError) Error() string {
	return fmt.Sprintf("load agent %s: %v", e.RefPath, e.Err)
}
