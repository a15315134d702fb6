package cmd

import (
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func stopCmd() *cobra.Command {
	var stateDir string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(stateDir, timeout)
		},
	}
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "state directory (default: <configDir>/.herdctl)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "wait for the fleet process to exit")
	return cmd
}

func runStop(stateDir string, timeout time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, stateDir)
	if err != nil {
		return err
	}

	pid, err := store.ReadPID()
	if err != nil {
		return err
	}
	if pid == 0 || !processAlive(pid) {
		return &exitError{code: 2, msg: "herdctl is not running"}
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	fmt.Printf("sent SIGTERM to pid %d\n", pid)

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			fmt.Println("stopped")
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return &exitError{code: 3, msg: fmt.Sprintf("pid %d still running after %s", pid, timeout)}
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
