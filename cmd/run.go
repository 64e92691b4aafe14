package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/signalnine/cloudeval/internal/config"
	"github.com/signalnine/cloudeval/internal/report"
	"github.com/signalnine/cloudeval/internal/runner"
)

var (
	flagTask     string
	flagCategory string
	flagAgent    string
	flagCleanup  bool
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the evaluation suite",
		RunE:  runSuite,
	}
	cmd.Flags().StringVar(&flagTask, "task", "", "run a single task (id or name)")
	cmd.Flags().StringVar(&flagCategory, "category", "", "filter by category (e.g. aws/s3 or aws/*)")
	cmd.Flags().StringVar(&flagAgent, "agent", "", "agent name from the config (default: config agent, then first)")
	cmd.Flags().BoolVar(&flagCleanup, "cleanup", false, "remove cloudeval Docker containers after the run")
	return cmd
}

func runSuite(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	opts, err := runnerOptions(cfg, flagAgent, cfg.Results.Dir)
	if err != nil {
		return err
	}
	if opts.Agent != nil {
		fmt.Printf("Using agent %s (%s)\n", opts.Agent.Name, opts.Agent.Model)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := runner.RunSuite(ctx, cfg.TasksDir, flagTask, flagCategory, opts)
	if flagCleanup {
		cleanupDocker()
	}
	if err != nil {
		return err
	}

	fmt.Println("\n--- Results ---")
	if err := report.Generate(res.SessionDir, "table", os.Stdout); err != nil {
		return err
	}
	if n := res.Failed(); n > 0 {
		return fmt.Errorf("%d of %d scenarios failed to produce a report", n, len(res.Results))
	}
	return nil
}

func cleanupDocker() {
	// Best-effort cleanup of cloudeval-labeled containers
	fmt.Println("Cleaning up Docker artifacts...")
	exec.Command("docker", "container", "prune", "-f", "--filter", "label=cloudeval=true").Run()
}
