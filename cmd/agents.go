package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the agents of the resolved fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tRUNTIME\tMAX\tSCHEDULES\tDESCRIPTION")
			for _, agent := range cfg.Agents {
				runtime := agent.Runtime
				if runtime == "" {
					runtime = "sdk"
				}
				maxConcurrent := agent.MaxConcurrent
				if maxConcurrent < 1 {
					maxConcurrent = 1
				}
				var schedules []string
				for _, s := range agent.Schedules {
					schedules = append(schedules, s.Name)
				}
				schedCol := strings.Join(schedules, ",")
				if schedCol == "" {
					schedCol = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					agent.QualifiedName, runtime, maxConcurrent, schedCol, agent.Description)
			}
			return w.Flush()
		},
	}
}
