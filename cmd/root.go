package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/herdctl/internal/config"
	"github.com/nextlevelbuilder/herdctl/internal/fleet"
	"github.com/nextlevelbuilder/herdctl/internal/state"
	"github.com/nextlevelbuilder/herdctl/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/herdctl/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "herdctl",
	Short:         "herdctl — fleet manager for long-running agents",
	Long:          "herdctl runs a fleet of autonomous agents: scheduled jobs, chat triggers, per-job output logs, and a live dashboard feed, all backed by a plain-file state store.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file or directory (default: search upward for herdctl.yaml, or $HERDCTL_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("herdctl %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

// resolveConfigPath returns the explicit config location, or "" to let the
// loader search upward from the working directory.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return os.Getenv("HERDCTL_CONFIG")
}

// loadConfig resolves and loads the fleet config the same way the daemon
// does: explicit flag or env var first, then upward search.
func loadConfig() (*config.LoadResult, error) {
	path, err := config.Find(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// openStore opens the state store for a loaded config.
func openStore(cfg *config.LoadResult, stateDir string) (*state.Store, error) {
	if stateDir == "" {
		stateDir = filepath.Join(cfg.ConfigDir, fleet.DefaultStateDirName)
	}
	return state.Open(stateDir)
}

// exitError carries an explicit exit code through the cobra RunE chain.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// exitCode maps an error onto the CLI contract: 0 success, 1 runtime error,
// 2 configuration/not-found, 3 timeout.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var shutdown *fleet.ShutdownError
	if errors.As(err, &shutdown) && shutdown.IsTimeout() {
		return 3
	}
	var kinder interface{ Kind() string }
	if errors.As(err, &kinder) {
		switch kinder.Kind() {
		case config.KindConfigNotFound, config.KindFileRead, config.KindSchemaValidation,
			config.KindInvalidFleetName, config.KindFleetCycle, config.KindFleetNameCollision,
			config.KindFleetLoad, config.KindAgentLoad,
			fleet.KindAgentNotFound, fleet.KindJobNotFound, fleet.KindScheduleNotFound:
			return 2
		}
	}
	return 1
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
