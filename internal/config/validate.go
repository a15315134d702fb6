package config

import (
	"fmt"
	"time"

	"github.com/nextlevelbuilder/herdctl/internal/cron"
)

// validateFleetFile checks a parsed fleet document. path is the file the
// issues are reported against.
func validateFleetFile(path string, f *FleetFile) error {
	var issues []Issue

	if f.Version != 1 {
		issues = append(issues, Issue{Path: "version", Message: fmt.Sprintf("unsupported version %d (want 1)", f.Version)})
	}
	if f.Fleet.Name != "" && !ValidName(f.Fleet.Name) {
		issues = append(issues, Issue{Path: "fleet.name", Message: fmt.Sprintf("must match %s", NamePattern)})
	}
	if f.Web != nil && f.Web.Enabled {
		if f.Web.Port < 0 || f.Web.Port > 65535 {
			issues = append(issues, Issue{Path: "web.port", Message: "must be 0-65535"})
		}
		if f.Web.SessionExpiryHours < 0 {
			issues = append(issues, Issue{Path: "web.session_expiry_hours", Message: "must be >= 0"})
		}
	}
	for i, ref := range f.Fleets {
		if ref.Path == "" {
			issues = append(issues, Issue{Path: fmt.Sprintf("fleets[%d].path", i), Message: "required"})
		}
	}
	for i, ref := range f.Agents {
		if ref.Path == "" {
			issues = append(issues, Issue{Path: fmt.Sprintf("agents[%d].path", i), Message: "required"})
		}
	}

	if len(issues) > 0 {
		return &SchemaError{Path: path, Issues: issues}
	}
	return nil
}

// validateAgentFile checks a fully merged agent document.
func validateAgentFile(path string, a *AgentFile) error {
	var issues []Issue

	if a.Name == "" {
		issues = append(issues, Issue{Path: "name", Message: "required"})
	} else if !ValidName(a.Name) {
		issues = append(issues, Issue{Path: "name", Message: fmt.Sprintf("must match %s (no dots)", NamePattern)})
	}
	if a.MaxConcurrent < 0 {
		issues = append(issues, Issue{Path: "max_concurrent", Message: "must be >= 1 (or omitted for the default of 1)"})
	}
	if a.PermissionMode != "" && !permissionModes[a.PermissionMode] {
		issues = append(issues, Issue{Path: "permission_mode", Message: fmt.Sprintf("unknown mode %q", a.PermissionMode)})
	}
	switch a.Runtime {
	case "", "sdk", "cli":
	default:
		issues = append(issues, Issue{Path: "runtime", Message: fmt.Sprintf("unknown runtime %q (want sdk or cli)", a.Runtime)})
	}

	seen := map[string]int{}
	for i, s := range a.Schedules {
		p := fmt.Sprintf("schedules[%d]", i)
		if s.Name == "" {
			issues = append(issues, Issue{Path: p + ".name", Message: "required"})
		} else if prev, dup := seen[s.Name]; dup {
			issues = append(issues, Issue{Path: p + ".name", Message: fmt.Sprintf("duplicate schedule name %q (also schedules[%d])", s.Name, prev)})
		} else {
			seen[s.Name] = i
		}
		switch s.Type {
		case "interval":
			if s.Interval == "" && s.Expression == "" {
				issues = append(issues, Issue{Path: p + ".interval", Message: "required for type interval"})
			} else if _, err := time.ParseDuration(s.IntervalExpr()); err != nil {
				issues = append(issues, Issue{Path: p + ".interval", Message: fmt.Sprintf("bad duration %q", s.IntervalExpr())})
			}
		case "cron":
			if s.Expression == "" {
				issues = append(issues, Issue{Path: p + ".expression", Message: "required for type cron"})
			} else if err := cron.Validate(s.Expression); err != nil {
				issues = append(issues, Issue{Path: p + ".expression", Message: err.Error()})
			}
		case "webhook", "chat":
			// externally fired, no expression
		case "":
			issues = append(issues, Issue{Path: p + ".type", Message: "required"})
		default:
			issues = append(issues, Issue{Path: p + ".type", Message: fmt.Sprintf("unknown type %q", s.Type)})
		}
	}

	if a.Docker != nil && a.Docker.Enabled {
		if a.Docker.Memory != "" {
			if _, err := ParseMemoryToBytes(a.Docker.Memory); err != nil {
				issues = append(issues, Issue{Path: "docker.memory", Message: err.Error()})
			}
		}
		if a.Docker.User != "" {
			if _, err := ParseUser(a.Docker.User); err != nil {
				issues = append(issues, Issue{Path: "docker.user", Message: err.Error()})
			}
		}
		for i, v := range a.Docker.Volumes {
			if _, err := ParseVolume(v); err != nil {
				issues = append(issues, Issue{Path: fmt.Sprintf("docker.volumes[%d]", i), Message: err.Error()})
			}
		}
	}

	if len(issues) > 0 {
		return &SchemaError{Path: path, Issues: issues}
	}
	return nil
}

// IntervalExpr returns the interval duration string, accepting either the
// `interval` or `expression` key.
func (s ScheduleConfig) IntervalExpr() string {
	if s.Interval != "" {
		return s.Interval
	}
	return s.Expression
}
