package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/herdctl/internal/config"
	"github.com/nextlevelbuilder/herdctl/internal/cron"
)

func initCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a fleet config interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(dir)
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "directory to scaffold into")
	return cmd
}

func runInit(dir string) error {
	configPath := filepath.Join(dir, "herdctl.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return &exitError{code: 2, msg: configPath + " already exists"}
	}

	fleetName := filepath.Base(absOrSelf(dir))
	agentName := "worker"
	runtime := "sdk"
	withSchedule := true
	cronExpr := "0 9 * * *"
	withWeb := false

	validName := func(s string) error {
		if !config.ValidName(s) {
			return fmt.Errorf("must match %s", config.NamePattern)
		}
		return nil
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Fleet name").
				Value(&fleetName).
				Validate(validName),
			huh.NewInput().
				Title("First agent name").
				Value(&agentName).
				Validate(validName),
			huh.NewSelect[string]().
				Title("Agent runtime").
				Options(huh.NewOptions("sdk", "cli")...).
				Value(&runtime),
			huh.NewConfirm().
				Title("Add a daily schedule?").
				Value(&withSchedule),
			huh.NewConfirm().
				Title("Enable the web dashboard?").
				Value(&withWeb),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	if withSchedule {
		scheduleForm := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Cron expression").
				Description("minute hour day month weekday").
				Value(&cronExpr).
				Validate(cron.Validate),
		))
		if err := scheduleForm.Run(); err != nil {
			return err
		}
	}

	agentRel := filepath.Join("agents", agentName+".yaml")
	agentPath := filepath.Join(dir, agentRel)
	if err := os.MkdirAll(filepath.Dir(agentPath), 0o755); err != nil {
		return err
	}

	var fleetDoc strings.Builder
	fmt.Fprintf(&fleetDoc, "version: 1\nfleet:\n  name: %s\n", fleetName)
	if withWeb {
		fleetDoc.WriteString("web:\n  enabled: true\n  host: 127.0.0.1\n  port: 8700\n")
	}
	fmt.Fprintf(&fleetDoc, "agents:\n  - path: %s\n", filepath.ToSlash(agentRel))

	var agentDoc strings.Builder
	fmt.Fprintf(&agentDoc, "name: %s\nruntime: %s\nprompt: |\n  Review the working directory and report anything that needs attention.\n", agentName, runtime)
	if withSchedule {
		fmt.Fprintf(&agentDoc, "schedules:\n  - name: daily\n    type: cron\n    expression: %q\n", cronExpr)
	}

	if err := os.WriteFile(configPath, []byte(fleetDoc.String()), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(agentPath, []byte(agentDoc.String()), 0o644); err != nil {
		return err
	}

	fmt.Printf("created %s and %s\n", configPath, agentPath)
	fmt.Println("next: herdctl validate && herdctl start")
	return nil
}

func absOrSelf(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}
