package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the config and report errors without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			schedules := 0
			for _, agent := range cfg.Agents {
				schedules += len(agent.Schedules)
			}
			name := cfg.FleetName
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok — fleet %q, %d agents, %d schedules\n",
				cfg.ConfigPath, name, len(cfg.Agents), schedules)
			return nil
		},
	}
}
