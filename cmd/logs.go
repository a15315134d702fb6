package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/herdctl/internal/fleet"
)

func logsCmd() *cobra.Command {
	var (
		agent    string
		jobID    string
		level    string
		history  int
		stateDir string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Stream fleet logs, or tail one job's output",
		Long:  "Without --job, replays recent history and follows live fleet logs until interrupted. With --job, tails that job's output log and exits when the job reaches a terminal state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(agent, jobID, level, history, stateDir)
		},
	}
	cmd.Flags().StringVarP(&agent, "agent", "a", "", "only this agent's entries")
	cmd.Flags().StringVarP(&jobID, "job", "j", "", "tail one job's output")
	cmd.Flags().StringVarP(&level, "level", "l", fleet.LevelInfo, "minimum level (debug|info|warn|error)")
	cmd.Flags().IntVar(&history, "history", fleet.DefaultHistoryLimit, "history entries to replay")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "state directory (default: <configDir>/.herdctl)")
	return cmd
}

func runLogs(agent, jobID, level string, history int, stateDir string) error {
	setupLogging()

	mgr := fleet.New(fleet.Options{
		ConfigPath: resolveConfigPath(),
		StateDir:   stateDir,
		Runners:    newRunnerRegistry(),
	})
	if err := mgr.Initialize(); err != nil {
		return err
	}

	// Ctrl-C ends the stream cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if jobID != "" {
		messages, err := mgr.StreamJobOutput(ctx, jobID)
		if err != nil {
			return err
		}
		for msg := range messages {
			renderMessage(os.Stdout, msg)
		}
		return nil
	}

	entries, err := mgr.StreamLogs(ctx, fleet.StreamLogsOptions{
		Level:          level,
		AgentName:      agent,
		IncludeHistory: history > 0,
		HistoryLimit:   history,
	})
	if err != nil {
		return err
	}
	for entry := range entries {
		ts := entry.Timestamp.Local().Format("15:04:05")
		fmt.Printf("%s %-5s %s %s %s\n", ts, entry.Level, entry.AgentName, entry.JobID, entry.Message)
	}
	return nil
}
