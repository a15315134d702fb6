package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/herdctl/internal/fleet"
	"github.com/nextlevelbuilder/herdctl/internal/state"
)

func triggerCmd() *cobra.Command {
	var (
		prompt   string
		schedule string
		bypass   bool
		stateDir string
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "trigger <agent>",
		Short: "Run one job for an agent and stream its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(args[0], fleet.TriggerOptions{
				Prompt:                 prompt,
				ScheduleName:           schedule,
				BypassConcurrencyLimit: bypass,
			}, stateDir, quiet)
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "prompt override")
	cmd.Flags().StringVarP(&schedule, "schedule", "s", "", "run a named schedule instead of an ad-hoc prompt")
	cmd.Flags().BoolVar(&bypass, "bypass", false, "ignore the agent's concurrency limit")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "state directory (default: <configDir>/.herdctl)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the job id and final status")
	return cmd
}

// runTrigger runs the job in this process: the fleet is brought up without
// its scheduler, the one job runs to a terminal state, then the fleet drains.
func runTrigger(agent string, opts fleet.TriggerOptions, stateDir string, quiet bool) error {
	setupLogging()

	mgr := fleet.New(fleet.Options{
		ConfigPath: resolveConfigPath(),
		StateDir:   stateDir,
		Runners:    newRunnerRegistry(),
	})
	if err := mgr.Initialize(); err != nil {
		return err
	}
	defer mgr.Stop(fleet.StopOptions{CancelOnTimeout: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := mgr.Trigger(agent, opts)
	if err != nil {
		return err
	}
	fmt.Println(res.JobID)

	messages, err := mgr.StreamJobOutput(ctx, res.JobID)
	if err != nil {
		return err
	}
	for msg := range messages {
		if !quiet {
			renderMessage(os.Stdout, msg)
		}
	}

	job, err := mgr.Store().ReadJob(res.JobID)
	if err != nil {
		return err
	}
	if job == nil {
		return &fleet.JobNotFoundError{JobID: res.JobID}
	}
	fmt.Printf("%s: %s", job.ID, job.Status)
	if job.ExitReason != "" && job.ExitReason != "success" {
		fmt.Printf(" (%s)", job.ExitReason)
	}
	fmt.Println()
	if job.Status != state.StatusCompleted {
		return &exitError{code: 1, msg: "job " + job.Status}
	}
	return nil
}

// renderMessage prints one output message in a compact human form.
func renderMessage(w io.Writer, msg state.OutputMessage) {
	ts := msg.Timestamp.Local().Format("15:04:05")
	switch msg.Type {
	case "assistant":
		fmt.Fprintf(w, "%s  %s\n", ts, msg.Content)
	case "tool_use":
		fmt.Fprintf(w, "%s  [tool] %s\n", ts, msg.ToolName)
	case "tool_result":
		if msg.IsError {
			fmt.Fprintf(w, "%s  [tool error] %s\n", ts, msg.Result)
		}
	case "system":
		fmt.Fprintf(w, "%s  [%s]\n", ts, msg.Subtype)
	case "error":
		fmt.Fprintf(w, "%s  [error:%s] %s\n", ts, msg.ErrorKind, msg.ErrorMessage)
	}
}
