package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/herdctl/internal/state"
)

func statusCmd() *cobra.Command {
	var stateDir string
	var recent int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show fleet state and recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, stateDir, recent)
		},
	}
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "state directory (default: <configDir>/.herdctl)")
	cmd.Flags().IntVar(&recent, "recent", 5, "number of recent jobs to show")
	return cmd
}

func runStatus(cmd *cobra.Command, stateDir string, recent int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, stateDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	name := cfg.FleetName
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(out, "Fleet:  %s\n", name)
	fmt.Fprintf(out, "Config: %s\n", cfg.ConfigPath)
	fmt.Fprintf(out, "Agents: %d\n", len(cfg.Agents))

	pid, err := store.ReadPID()
	if err != nil {
		return err
	}
	switch {
	case pid != 0 && processAlive(pid):
		fmt.Fprintf(out, "Status: running (pid %d)\n", pid)
	case pid != 0:
		fmt.Fprintf(out, "Status: stopped (stale pid file: %d)\n", pid)
	default:
		fmt.Fprintln(out, "Status: stopped")
	}

	list, err := store.ListJobs(state.JobFilter{})
	if err != nil {
		return err
	}
	running := 0
	for _, job := range list.Jobs {
		if job.Status == state.StatusRunning {
			running++
		}
	}
	fmt.Fprintf(out, "Jobs:   %d total, %d running\n", len(list.Jobs), running)

	if recent > 0 && len(list.Jobs) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOB\tAGENT\tSTATUS\tSTARTED\tDURATION")
		for i, job := range list.Jobs {
			if i == recent {
				break
			}
			started := "-"
			if job.StartedAt != nil {
				started = job.StartedAt.Local().Format(time.DateTime)
			}
			dur := "-"
			if job.DurationSeconds > 0 {
				dur = (time.Duration(job.DurationSeconds) * time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", job.ID, job.Agent, job.Status, started, dur)
		}
		w.Flush()
	}
	return nil
}
