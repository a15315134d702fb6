package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_QualifiedNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "monitor.yaml", "name: monitor\n")
	writeFile(t, dir, "project-a/engineer.yaml", "name: engineer\n")
	writeFile(t, dir, "project-a/security-auditor.yaml", "name: security-auditor\n")
	writeFile(t, dir, "project-a/fleet.yaml", `version: 1
agents:
  - path: engineer.yaml
  - path: security-auditor.yaml
`)
	root := writeFile(t, dir, "herdctl.yaml", `version: 1
fleets:
  - path: project-a/fleet.yaml
    name: project-a
agents:
  - path: monitor.yaml
`)

	result, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := map[string]bool{
		"monitor":                    true,
		"project-a.engineer":         true,
		"project-a.security-auditor": true,
	}
	if len(result.Agents) != len(want) {
		t.Fatalf("got %d agents, want %d", len(result.Agents), len(want))
	}
	for _, a := range result.Agents {
		if !want[a.QualifiedName] {
			t.Errorf("unexpected qualified name %q", a.QualifiedName)
		}
		joined := QualifiedName(a.FleetPath, a.Name)
		if joined != a.QualifiedName {
			t.Errorf("qualified name %q does not match fleetPath+name %q", a.QualifiedName, joined)
		}
	}
}

func TestLoad_CycleDetection(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "herdctl.yaml", "version: 1\nfleets:\n  - path: sub/a.yaml\n    name: a\n")
	writeFile(t, dir, "sub/a.yaml", "version: 1\nfleets:\n  - path: ../b.yaml\n    name: b\n")
	writeFile(t, dir, "b.yaml", "version: 1\nfleets:\n  - path: sub/a.yaml\n    name: a2\n")

	_, err := Load(filepath.Join(dir, "herdctl.yaml"))
	var cyc *CycleError
	if !errors.As(err, &cyc) {
		t.Fatalf("got %v, want CycleError", err)
	}
	if len(cyc.Chain) < 3 {
		t.Errorf("chain length %d, want >= 3", len(cyc.Chain))
	}
	last := cyc.Chain[len(cyc.Chain)-1]
	found := false
	for _, p := range cyc.Chain[:len(cyc.Chain)-1] {
		if p == last {
			found = true
		}
	}
	if !found {
		t.Errorf("chain %v does not end with a repeated path", cyc.Chain)
	}
}

func TestLoad_NameCollision(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one/fleet.yaml", "version: 1\n")
	writeFile(t, dir, "two/fleet.yaml", "version: 1\n")
	writeFile(t, dir, "herdctl.yaml", `version: 1
fleets:
  - path: one/fleet.yaml
    name: same
  - path: two/fleet.yaml
    name: same
`)

	_, err := Load(filepath.Join(dir, "herdctl.yaml"))
	var col *NameCollisionError
	if !errors.As(err, &col) {
		t.Fatalf("got %v, want NameCollisionError", err)
	}
	if col.Name != "same" {
		t.Errorf("collision name = %q, want same", col.Name)
	}
	if col.FirstPath != "one/fleet.yaml" || col.SecondPath != "two/fleet.yaml" {
		t.Errorf("collision paths = %q, %q", col.FirstPath, col.SecondPath)
	}
}

func TestLoad_FleetNameResolutionOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "named/fleet.yaml", "version: 1\nfleet:\n  name: own-name\n")
	writeFile(t, dir, "unnamed/fleet.yaml", "version: 1\n")
	writeFile(t, dir, "unnamed/agent.yaml", "name: a\n")
	writeFile(t, dir, "named/agent.yaml", "name: b\n")

	// Explicit name on the reference wins, then the sub-fleet's own name,
	// then the directory basename.
	root := writeFile(t, dir, "herdctl.yaml", `version: 1
fleets:
  - path: named/fleet.yaml
    name: explicit
  - path: unnamed/fleet.yaml
`)
	writeFile(t, dir, "named/fleet.yaml", `version: 1
fleet:
  name: own-name
agents:
  - path: agent.yaml
`)
	writeFile(t, dir, "unnamed/fleet.yaml", `version: 1
agents:
  - path: agent.yaml
`)

	result, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := map[string]bool{}
	for _, a := range result.Agents {
		got[a.QualifiedName] = true
	}
	if !got["explicit.b"] {
		t.Errorf("explicit reference name not applied: %v", got)
	}
	if !got["unnamed.a"] {
		t.Errorf("directory basename fallback not applied: %v", got)
	}
}

func TestLoad_InvalidFleetName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sub/fleet.yaml", "version: 1\n")
	root := writeFile(t, dir, "herdctl.yaml", `version: 1
fleets:
  - path: sub/fleet.yaml
    name: "has.dots"
`)
	_, err := Load(root)
	var inv *InvalidFleetNameError
	if !errors.As(err, &inv) {
		t.Fatalf("got %v, want InvalidFleetNameError", err)
	}
}

func TestLoad_DefaultsGapFillAndOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agent.yaml", "name: w\nmodel: from-file\n")
	root := writeFile(t, dir, "herdctl.yaml", `version: 1
defaults:
  model: from-defaults
  permission_mode: plan
agents:
  - path: agent.yaml
    overrides:
      max_concurrent: 3
`)

	result, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a := result.Agents[0]
	if a.Model != "from-file" {
		t.Errorf("agent file should beat defaults, model = %q", a.Model)
	}
	if a.PermissionMode != "plan" {
		t.Errorf("defaults should fill gaps, permission_mode = %q", a.PermissionMode)
	}
	if a.MaxConcurrent != 3 {
		t.Errorf("reference overrides should win, max_concurrent = %d", a.MaxConcurrent)
	}
}

func TestLoad_SubFleetWebStripped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sub/fleet.yaml", `version: 1
web:
  enabled: true
  port: 9999
`)
	root := writeFile(t, dir, "herdctl.yaml", `version: 1
web:
  enabled: true
  port: 8080
fleets:
  - path: sub/fleet.yaml
    name: sub
`)

	result, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if result.Web == nil || result.Web.Port != 8080 {
		t.Errorf("root web config lost: %+v", result.Web)
	}
}

func TestLoad_WorkingDirectoryNormalization(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agents/rel.yaml", "name: rel\nworking_directory: ws\n")
	writeFile(t, dir, "agents/unset.yaml", "name: unset\n")
	root := writeFile(t, dir, "herdctl.yaml", `version: 1
agents:
  - path: agents/rel.yaml
  - path: agents/unset.yaml
`)

	result, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, a := range result.Agents {
		if !filepath.IsAbs(a.WorkingDirectory) {
			t.Errorf("%s: working directory not absolute: %q", a.Name, a.WorkingDirectory)
		}
		switch a.Name {
		case "rel":
			if want := filepath.Join(dir, "agents", "ws"); a.WorkingDirectory != want {
				t.Errorf("rel working directory = %q, want %q", a.WorkingDirectory, want)
			}
		case "unset":
			if want := filepath.Join(dir, "agents"); a.WorkingDirectory != want {
				t.Errorf("unset working directory = %q, want %q", a.WorkingDirectory, want)
			}
		}
	}
}

func TestLoad_DuplicateQualifiedName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "name: same\n")
	writeFile(t, dir, "b.yaml", "name: same\n")
	root := writeFile(t, dir, "herdctl.yaml", `version: 1
agents:
  - path: a.yaml
  - path: b.yaml
`)
	_, err := Load(root)
	var ale *AgentLoadError
	if !errors.As(err, &ale) {
		t.Fatalf("got %v, want AgentLoadError for duplicate qualified name", err)
	}
}

func TestLoad_InvalidCronRejectsAtLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agent.yaml", `name: w
schedules:
  - name: bad
    type: cron
    expression: "99 * * * *"
`)
	root := writeFile(t, dir, "herdctl.yaml", "version: 1\nagents:\n  - path: agent.yaml\n")
	_, err := Load(root)
	if err == nil {
		t.Fatal("invalid cron accepted at load")
	}
	if !strings.Contains(err.Error(), "minute") {
		t.Errorf("cron reject not field-aware: %v", err)
	}
}

func TestFind_SearchesUpward(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "herdctl.yaml", "version: 1\n")
	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := Find(nested)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got != root {
		t.Errorf("Find = %q, want %q", got, root)
	}
}

func TestFind_NotFound(t *testing.T) {
	_, err := Find(t.TempDir())
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("got %v, want NotFoundError", err)
	}
	if len(nf.Searched) == 0 {
		t.Error("NotFoundError carries no searched paths")
	}
}

func TestLoad_EnvInterpolation(t *testing.T) {
	t.Setenv("HERDCTL_TEST_MODEL", "opus")
	dir := t.TempDir()
	writeFile(t, dir, "agent.yaml", "name: w\nmodel: ${HERDCTL_TEST_MODEL}\nprompt: ${HERDCTL_TEST_UNSET:-fallback}\n")
	root := writeFile(t, dir, "herdctl.yaml", "version: 1\nagents:\n  - path: agent.yaml\n")

	result, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a := result.Agents[0]
	if a.Model != "opus" {
		t.Errorf("model = %q, want opus", a.Model)
	}
	if a.Prompt != "fallback" {
		t.Errorf("prompt = %q, want fallback", a.Prompt)
	}
}
