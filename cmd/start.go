package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/herdctl/internal/chat/discord"
	"github.com/nextlevelbuilder/herdctl/internal/fleet"
	"github.com/nextlevelbuilder/herdctl/internal/runner"
	"github.com/nextlevelbuilder/herdctl/internal/tracing"
	"github.com/nextlevelbuilder/herdctl/internal/web"
)

func startCmd() *cobra.Command {
	var stateDir string
	var stopTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the fleet in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(stateDir, stopTimeout)
		},
	}
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "state directory (default: <configDir>/.herdctl)")
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", fleet.DefaultStopTimeout, "graceful shutdown wait for running jobs")
	return cmd
}

// newRunnerRegistry wires the execution backends. The CLI backend serves
// both runtime selectors: `sdk` agents run through the same subprocess
// protocol.
func newRunnerRegistry() *runner.Registry {
	reg := runner.NewRegistry()
	reg.Register(runner.NewCLIRunner())
	reg.RegisterAlias("sdk", "cli")
	return reg
}

func runStart(stateDir string, stopTimeout time.Duration) error {
	setupLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, err := tracing.Setup(ctx, "herdctl", Version)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			tracer.Shutdown(shutdownCtx)
		}()
	}

	mgr := fleet.New(fleet.Options{
		ConfigPath: resolveConfigPath(),
		StateDir:   stateDir,
		Runners:    newRunnerRegistry(),
	})
	if err := mgr.Initialize(); err != nil {
		return err
	}
	if err := mgr.Start(); err != nil {
		return err
	}

	cfg := mgr.Config()
	slog.Info("herdctl started",
		"version", Version,
		"fleet", cfg.FleetName,
		"agents", len(cfg.Agents),
		"config", cfg.ConfigPath,
	)

	if cfg.Web != nil && cfg.Web.Enabled {
		srv := web.NewServer(cfg.Web, mgr)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server exited", "error", err)
			}
		}()
	}

	var connector *discord.Connector
	if token := os.Getenv("DISCORD_BOT_TOKEN"); token != "" && hasDiscordAgents(mgr) {
		connector, err = discord.New(token, mgr, mgr.ChatSessions(discord.Platform))
		if err == nil {
			err = connector.Start(ctx)
		}
		if err != nil {
			slog.Error("discord connector failed to start", "error", err)
			connector = nil
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// SIGHUP reloads config in place; SIGINT/SIGTERM shut down.
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			slog.Info("reloading config on SIGHUP")
			if err := mgr.Reload(); err != nil {
				slog.Error("reload failed", "error", err)
			}
		}
	}()

	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	if connector != nil {
		connector.Stop(context.Background())
	}
	cancel()

	return mgr.Stop(fleet.StopOptions{
		Timeout:         stopTimeout,
		CancelOnTimeout: true,
	})
}

func hasDiscordAgents(mgr *fleet.Manager) bool {
	for _, agent := range mgr.Config().Agents {
		if _, ok := agent.Chat[discord.Platform]; ok {
			return true
		}
	}
	return false
}
