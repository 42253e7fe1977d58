package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentprobe",
		Short: "GPU telemetry harness for agent failure detection experiments",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "agentprobe.yaml", "config file path")
	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newClassifyCmd())
	return root
}
