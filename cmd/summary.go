package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/signalnine/cloudeval/internal/config"
	"github.com/signalnine/cloudeval/internal/report"
)

var (
	flagFormat string
	flagWrite  bool
)

func newSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary [report-dir]",
		Short: "Summarize stored evaluation reports",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dir string
			if len(args) > 0 {
				dir = args[0]
			} else {
				cfg, err := config.Load(cfgFile)
				if err != nil {
					return err
				}
				dir = cfg.Results.Dir
			}
			resolved, err := filepath.EvalSymlinks(dir)
			if err != nil {
				return fmt.Errorf("resolving report dir: %w", err)
			}
			s, err := report.Aggregate(resolved)
			if err != nil {
				return err
			}
			if flagWrite {
				path, err := report.WriteSummary(resolved, s)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Summary written to %s\n", path)
			}
			return report.Render(s, flagFormat, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "table", "output format (table, markdown, json)")
	cmd.Flags().BoolVar(&flagWrite, "write", false, "also write summary.json into the report dir")
	return cmd
}
