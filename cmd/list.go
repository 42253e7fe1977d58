package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/probelab/agentprobe/internal/config"
	"github.com/probelab/agentprobe/internal/scenario"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured agents and scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Println("Agents:")
			for _, a := range cfg.Agents {
				switch {
				case a.URL != "":
					fmt.Printf("  - %s [%s] external: %s\n", a.Name, a.Role, a.URL)
				case a.Image != "":
					fmt.Printf("  - %s [%s] container: %s\n", a.Name, a.Role, a.Image)
				default:
					fmt.Printf("  - %s [%s] command: %s\n", a.Name, a.Role, a.Command)
				}
			}
			fmt.Println("\nScenarios:")
			for _, kind := range scenario.Kinds() {
				fmt.Printf("  - %s (timeout %s, %d runs)\n", kind, timeoutFor(cfg, kind), cfg.Runs)
			}
			return nil
		},
	}
}
