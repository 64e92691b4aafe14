package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/signalnine/cloudeval/internal/config"
	"github.com/signalnine/cloudeval/internal/log"
	"github.com/signalnine/cloudeval/internal/runner"
	"github.com/signalnine/cloudeval/internal/service"
	"github.com/signalnine/cloudeval/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the evaluation API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Results.Dir, 0o755); err != nil {
				return fmt.Errorf("creating report dir: %w", err)
			}
			// Fail at startup rather than on the first request.
			if _, err := runnerOptions(cfg, "", cfg.Results.Dir); err != nil {
				return err
			}

			runs, err := store.Open(store.Config{Path: cfg.Service.DBPath, Debug: log.Level() == "debug"})
			if err != nil {
				return err
			}
			defer runs.Close()

			srv, err := service.New(service.Options{
				ReportDir:   cfg.Results.Dir,
				CORSOrigins: cfg.Service.CORSOrigins,
				Store:       runs,
				Suite:       suiteFunc(cfg),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx, cfg.Service.Addr)
		},
	}
}

func suiteFunc(cfg *config.Config) service.SuiteFunc {
	return func(ctx context.Context, reportDir, agentName string) error {
		opts, err := runnerOptions(cfg, agentName, reportDir)
		if err != nil {
			return err
		}
		_, err = runner.RunSuite(ctx, cfg.TasksDir, "", "", opts)
		return err
	}
}
