// Package runner defines the contract between the fleet and the external
// agent runtime: one Execute call per job, yielding an ordered stream of
// typed messages. The LLM specifics live entirely behind this interface.
package runner

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/herdctl/internal/config"
	"github.com/nextlevelbuilder/herdctl/internal/state"
)

// Message is one entry of an execution stream. The variants are exactly the
// job output log variants.
type Message = state.OutputMessage

// Options describes one execution.
type Options struct {
	Agent            *config.Agent
	Prompt           string
	WorkingDirectory string

	// SessionID resumes an existing runner-side session; empty starts fresh.
	SessionID string

	// InjectedToolServers are extra MCP-style tool endpoints passed through
	// to the runtime verbatim.
	InjectedToolServers []string
}

// Stream is a lazy ordered message sequence. Messages is closed when the
// stream ends; Err reports the terminal failure, if any, after Messages is
// drained. Cancelling the Execute context stops the stream.
type Stream interface {
	Messages() <-chan Message
	Err() error
}

// Runner executes one agent run.
type Runner interface {
	Execute(ctx context.Context, opts Options) (Stream, error)
	Name() string
}

// Registry maps the agent `runtime` selector to a backend.
type Registry struct {
	backends map[string]Runner
	fallback string
}

// NewRegistry creates a registry. The first registered backend becomes the
// fallback for agents without an explicit runtime.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Runner)}
}

// Register adds a backend under its name.
func (r *Registry) Register(rn Runner) {
	if len(r.backends) == 0 {
		r.fallback = rn.Name()
	}
	r.backends[rn.Name()] = rn
}

// RegisterAlias makes selector name resolve to an already registered
// backend. Used when one backend serves both `sdk` and `cli` agents.
func (r *Registry) RegisterAlias(alias, target string) {
	if rn, ok := r.backends[target]; ok {
		r.backends[alias] = rn
	}
}

// For returns the backend for an agent's runtime selector.
func (r *Registry) For(agent *config.Agent) (Runner, error) {
	name := agent.Runtime
	if name == "" {
		name = r.fallback
	}
	rn, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("no runner backend %q for agent %s", name, agent.QualifiedName)
	}
	return rn, nil
}

// chanStream is the canonical Stream implementation: a bounded channel the
// producer writes into and an error slot set before close.
type chanStream struct {
	ch  chan Message
	err error
}

func newChanStream(buffer int) *chanStream {
	return &chanStream{ch: make(chan Message, buffer)}
}

func (s *chanStream) Messages() <-chan Message { return s.ch }
func (s *chanStream) Err() error               { return s.err }
