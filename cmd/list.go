package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalnine/cloudeval/internal/config"
	"github.com/signalnine/cloudeval/internal/scenario"
	"github.com/signalnine/cloudeval/internal/tasks"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available tasks and agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			scenarios, err := scenario.Discover(cfg.TasksDir, tasks.NewRegistry().Has)
			if err != nil {
				return err
			}
			fmt.Println("Tasks:")
			for _, s := range scenarios {
				fmt.Printf("  - %s: %s [%s] (%s)\n", s.TaskID, s.Label(), s.CategoryID, s.Difficulty)
			}
			fmt.Println("\nAgents:")
			for _, a := range cfg.Agents {
				fmt.Printf("  - %s (kind: %s, model: %s)\n", a.Name, a.Kind, a.Model)
			}
			return nil
		},
	}
}
