package discord

import (
	"strings"
	"testing"
)

func TestDecodeAgentConfig(t *testing.T) {
	raw := map[string]any{
		"channel_id":      "123",
		"require_mention": false,
		"allow_from":      []any{"u1", "u2"},
	}
	cfg, err := decodeAgentConfig(raw)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChannelID != "123" || cfg.requireMention() {
		t.Errorf("decoded %+v", cfg)
	}
	if !cfg.allows("u1") || cfg.allows("u3") {
		t.Errorf("allowlist broken: %+v", cfg.AllowFrom)
	}

	// Defaults: mention required, everyone allowed.
	cfg, err = decodeAgentConfig(map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.requireMention() || !cfg.allows("anyone") {
		t.Errorf("defaults broken: %+v", cfg)
	}
}

func TestResolveRoute(t *testing.T) {
	c := &Connector{routes: []route{
		{agent: "support", cfg: AgentConfig{ChannelID: "chan-support"}},
		{agent: "general", cfg: AgentConfig{}},
	}}

	if rt := c.resolveRoute("chan-support"); rt == nil || rt.agent != "support" {
		t.Errorf("bound channel routed to %+v", rt)
	}
	if rt := c.resolveRoute("chan-other"); rt == nil || rt.agent != "general" {
		t.Errorf("unbound channel routed to %+v", rt)
	}

	bound := &Connector{routes: []route{{agent: "support", cfg: AgentConfig{ChannelID: "chan-support"}}}}
	if rt := bound.resolveRoute("chan-other"); rt != nil {
		t.Errorf("channel without a route resolved to %+v", rt)
	}
}

func TestStripMention(t *testing.T) {
	if got := stripMention("<@42> do the thing", "42"); strings.TrimSpace(got) != "do the thing" {
		t.Errorf("got %q", got)
	}
	if got := stripMention("<@!42> hi", "42"); strings.TrimSpace(got) != "hi" {
		t.Errorf("nick mention: got %q", got)
	}
}
