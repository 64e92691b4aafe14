package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalnine/cloudeval/internal/config"
	"github.com/signalnine/cloudeval/internal/tasks"
	"github.com/signalnine/cloudeval/internal/verify"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <task-id>",
		Short: "Run one task's verifier against the endpoint and print the result",
		Long:  "Inspect the current resource state for a task without running an agent. The structured result is printed as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			ctx := context.Background()
			v, err := buildTaskVerifier(ctx, cfg, args[0])
			if err != nil {
				return err
			}
			res, err := verify.Run(ctx, v)
			if err != nil {
				return fmt.Errorf("verifying %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup <task-id>",
		Short: "Prepare the resources a task expects before an agent runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			ctx := context.Background()
			v, err := buildTaskVerifier(ctx, cfg, args[0])
			if err != nil {
				return err
			}
			p, ok := v.(verify.Preparer)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s has no setup step\n", args[0])
				return nil
			}
			if err := p.Setup(ctx); err != nil {
				return fmt.Errorf("setting up %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s is ready\n", args[0])
			return nil
		},
	}
}

func buildTaskVerifier(ctx context.Context, cfg *config.Config, taskID string) (verify.Verifier, error) {
	factory, err := tasks.NewRegistry().Lookup(taskID)
	if err != nil {
		return nil, err
	}
	return factory(ctx, tasks.TargetFromEnv(cfg.EndpointURL))
}
