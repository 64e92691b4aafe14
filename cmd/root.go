package cmd

import (
	"github.com/spf13/cobra"

	"github.com/signalnine/cloudeval/internal/log"
)

var (
	cfgFile  string
	logLevel string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cloudeval",
		Short:        "Evaluation harness for cloud-operations agents",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logLevel == "" {
				logLevel = log.LevelFromEnv()
			}
			log.SetLevel(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "cloudeval.yaml", "config file path")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to CLOUD_EVAL_LOG_LEVEL")
	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newSummaryCmd())
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newSetupCmd())
	root.AddCommand(newServeCmd())
	return root
}
