package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/herdctl/internal/config"
	"github.com/nextlevelbuilder/herdctl/internal/fleet"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain error", errors.New("boom"), 1},
		{"wrapped config error", fmt.Errorf("load: %w", &config.NotFoundError{Searched: []string{"/tmp"}}), 2},
		{"schema error", &config.SchemaError{Path: "x.yaml"}, 2},
		{"agent not found", &fleet.AgentNotFoundError{Name: "x"}, 2},
		{"job not found", &fleet.JobNotFoundError{JobID: "job-x"}, 2},
		{"concurrency limit", &fleet.ConcurrencyLimitError{AgentName: "a", Limit: 1}, 1},
		{"shutdown timeout", &fleet.ShutdownError{Timeout: true}, 3},
		{"shutdown clean", &fleet.ShutdownError{}, 1},
		{"explicit exit error", &exitError{code: 3, msg: "late"}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func writeFleetFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"herdctl.yaml":       "version: 1\nfleet:\n  name: demo\nagents:\n  - path: agents/worker.yaml\n",
		"agents/worker.yaml": "name: worker\nruntime: sdk\ndescription: demo worker\nschedules:\n  - name: nightly\n    type: cron\n    expression: \"0 2 * * *\"\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	dir := writeFleetFixture(t)
	cfgFile = filepath.Join(dir, "herdctl.yaml")
	t.Cleanup(func() { cfgFile = "" })

	out, err := runCommand(t, validateCmd())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, `fleet "demo"`) || !strings.Contains(out, "1 agents") || !strings.Contains(out, "1 schedules") {
		t.Errorf("validate output = %q", out)
	}
}

func TestValidateCommand_BadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "herdctl.yaml")
	if err := os.WriteFile(path, []byte("version: 1\nagents:\n  - path: missing.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })

	_, err := runCommand(t, validateCmd())
	if err == nil {
		t.Fatal("expected error for dangling agent ref")
	}
	if code := exitCode(err); code != 2 {
		t.Errorf("exit code = %d, want 2 (error: %v)", code, err)
	}
}

func TestAgentsCommand(t *testing.T) {
	dir := writeFleetFixture(t)
	cfgFile = filepath.Join(dir, "herdctl.yaml")
	t.Cleanup(func() { cfgFile = "" })

	out, err := runCommand(t, agentsCmd())
	if err != nil {
		t.Fatalf("agents: %v", err)
	}
	if !strings.Contains(out, "worker") || !strings.Contains(out, "nightly") || !strings.Contains(out, "demo worker") {
		t.Errorf("agents output = %q", out)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	dir := writeFleetFixture(t)
	cfgFile = filepath.Join(dir, "herdctl.yaml")
	t.Cleanup(func() { cfgFile = "" })

	out, err := runCommand(t, statusCmd())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Fleet:  demo") || !strings.Contains(out, "Status: stopped") {
		t.Errorf("status output = %q", out)
	}
}
