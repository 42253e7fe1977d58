package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/probelab/agentprobe/internal/config"
	"github.com/probelab/agentprobe/internal/detect"
	"github.com/probelab/agentprobe/internal/result"
	"github.com/probelab/agentprobe/internal/runner"
)

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [run-dir]",
		Short: "Re-classify an existing results tree",
		Long:  "Walk a run directory and re-run the detector on each stored record with the current thresholds, updating record.json and printing the refreshed evaluation.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runDir := args[0]
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			clf := detect.NewThresholdClassifier(thresholdsFrom(cfg))

			var recordPaths []string
			err = filepath.Walk(runDir, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return nil
				}
				if info.Name() == "record.json" {
					recordPaths = append(recordPaths, path)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("walking run dir: %w", err)
			}
			if len(recordPaths) == 0 {
				return fmt.Errorf("no records found in %s", runDir)
			}

			var recs []*result.RunRecord
			for _, recordPath := range recordPaths {
				runPath := filepath.Dir(recordPath)
				before, err := result.ReadRunRecord(recordPath)
				if err != nil {
					fmt.Printf("skipping %s: %v\n", recordPath, err)
					continue
				}
				old := "(none)"
				if before.Detection != nil {
					old = before.Detection.Predicted
				}

				rec, err := runner.Classify(runPath, clf)
				if err != nil {
					fmt.Printf("skipping %s: %v\n", recordPath, err)
					continue
				}
				recs = append(recs, rec)
				if rec.Detection != nil {
					fmt.Printf("%s run %d: %s -> %s (score %.2f)\n",
						rec.Scenario, rec.Run, old, rec.Detection.Predicted, rec.Detection.Score)
				}
			}

			printEvaluation(detect.Evaluate(recs, protocolFrom(cfg)))
			return nil
		},
	}
}
