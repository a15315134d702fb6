package config

// FleetFile is one parsed fleet config document (herdctl.yaml or a sub-fleet
// file referenced from a parent's `fleets` list).
type FleetFile struct {
	Version  int            `yaml:"version"`
	Fleet    FleetMeta      `yaml:"fleet,omitempty"`
	Web      *WebConfig     `yaml:"web,omitempty"`
	Defaults map[string]any `yaml:"defaults,omitempty"`
	Fleets   []FleetRef     `yaml:"fleets,omitempty"`
	Agents   []AgentRef     `yaml:"agents,omitempty"`
}

// FleetMeta carries fleet-level identity.
type FleetMeta struct {
	Name string `yaml:"name,omitempty"`
}

// WebConfig enables the dashboard WebSocket server. Only the root fleet's web
// config survives resolution; sub-fleet web blocks are stripped unless the
// parent reference overrides `web` explicitly.
type WebConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Host               string `yaml:"host,omitempty"`
	Port               int    `yaml:"port,omitempty"`
	SessionExpiryHours int    `yaml:"session_expiry_hours,omitempty"`
}

// FleetRef is a parent fleet's reference to a sub-fleet file.
type FleetRef struct {
	Path      string         `yaml:"path"`
	Name      string         `yaml:"name,omitempty"`      // explicit name, wins over the sub-fleet's own
	Overrides map[string]any `yaml:"overrides,omitempty"` // deep-merged into the loaded sub-fleet before recursion
}

// AgentRef is a fleet's reference to an agent file.
type AgentRef struct {
	Path      string         `yaml:"path"`
	Overrides map[string]any `yaml:"overrides,omitempty"` // deep-merged over the agent file
}

// AgentFile is one parsed agent config document.
type AgentFile struct {
	Name             string           `yaml:"name"`
	Description      string           `yaml:"description,omitempty"`
	Model            string           `yaml:"model,omitempty"`
	Prompt           string           `yaml:"prompt,omitempty"`
	WorkingDirectory string           `yaml:"working_directory,omitempty"`
	PermissionMode   string           `yaml:"permission_mode,omitempty"` // default|acceptEdits|bypassPermissions|plan
	AllowedTools     []string         `yaml:"allowed_tools,omitempty"`   // bash patterns written as Bash(<pattern>)
	DeniedTools      []string         `yaml:"denied_tools,omitempty"`
	MaxConcurrent    int              `yaml:"max_concurrent,omitempty"` // default 1
	Runtime          string           `yaml:"runtime,omitempty"`        // sdk|cli
	Schedules        []ScheduleConfig `yaml:"schedules,omitempty"`
	Chat             map[string]any   `yaml:"chat,omitempty"` // per-platform connector config, opaque to the loader
	Docker           *DockerConfig    `yaml:"docker,omitempty"`
}

// ScheduleConfig is one recurrence spec attached to an agent.
type ScheduleConfig struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type"` // interval|cron|webhook|chat
	Expression    string `yaml:"expression,omitempty"`
	Interval      string `yaml:"interval,omitempty"` // duration shorthand for type interval
	Enabled       *bool  `yaml:"enabled,omitempty"`  // nil = enabled
	Prompt        string `yaml:"prompt,omitempty"`
	ResumeSession bool   `yaml:"resume_session,omitempty"`
}

// IsEnabled reports the effective enabled flag (default true).
func (s ScheduleConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// DockerConfig configures optional containerised execution for an agent.
type DockerConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Image         string   `yaml:"image,omitempty"`
	Memory        string   `yaml:"memory,omitempty"` // ^\d+[gmk]?$ (case-insensitive)
	CPUShares     int      `yaml:"cpu_shares,omitempty"`
	User          string   `yaml:"user,omitempty"` // UID or UID:GID
	Network       string   `yaml:"network,omitempty"`
	Volumes       []string `yaml:"volumes,omitempty"` // host:container[:ro|:rw]
	WorkspaceMode string   `yaml:"workspace_mode,omitempty"`
	MaxContainers int      `yaml:"max_containers,omitempty"`
	Ephemeral     bool     `yaml:"ephemeral,omitempty"`
}

// Agent is a fully resolved agent: the agent file merged with effective fleet
// defaults and per-reference overrides, qualified by its fleet path.
type Agent struct {
	AgentFile `yaml:",inline"`

	// FleetPath is the ordered chain of resolved sub-fleet names from the
	// root to the fleet that references this agent. Empty for root agents.
	FleetPath []string `yaml:"-"`

	// QualifiedName is FleetPath joined by "." plus "." plus Name, or just
	// Name for root agents. Unique across the resolved fleet.
	QualifiedName string `yaml:"-"`

	// ConfigPath is the absolute path of the agent file.
	ConfigPath string `yaml:"-"`
}

// LoadResult is the loader's output: the flat resolved agent list plus the
// root fleet's own settings.
type LoadResult struct {
	Agents     []*Agent
	FleetName  string
	Web        *WebConfig
	Defaults   map[string]any
	ConfigPath string // absolute path of the root config file
	ConfigDir  string // directory containing the root config file
}

// AgentByQualifiedName returns the resolved agent with the given qualified
// name, or nil.
func (r *LoadResult) AgentByQualifiedName(name string) *Agent {
	for _, a := range r.Agents {
		if a.QualifiedName == name {
			return a
		}
	}
	return nil
}
