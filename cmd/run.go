package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/probelab/agentprobe/internal/agent"
	"github.com/probelab/agentprobe/internal/config"
	"github.com/probelab/agentprobe/internal/detect"
	"github.com/probelab/agentprobe/internal/orchestrator"
	"github.com/probelab/agentprobe/internal/report"
	"github.com/probelab/agentprobe/internal/result"
	"github.com/probelab/agentprobe/internal/runner"
	"github.com/probelab/agentprobe/internal/scenario"
	"github.com/probelab/agentprobe/internal/telemetry"
)

var (
	flagScenario string
	flagRuns     int
	flagParallel int
	flagTimeout  time.Duration
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the experiment scenarios",
		RunE:  runExperiment,
	}
	cmd.Flags().StringVar(&flagScenario, "scenario", "all", "scenario to run (normal, infinite_loop, retry_storm, all)")
	cmd.Flags().IntVar(&flagRuns, "runs", 0, "override runs per scenario")
	cmd.Flags().IntVar(&flagParallel, "parallel", 1, "max concurrent runs")
	cmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "override the per-run hard timeout")
	return cmd
}

func runExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if flagRuns > 0 {
		cfg.Runs = flagRuns
	}

	kinds, err := selectKinds(flagScenario)
	if err != nil {
		return err
	}

	runDir, err := result.CreateRunDir(cfg.Results.Dir)
	if err != nil {
		return err
	}
	fmt.Printf("Run directory: %s\n", runDir)

	ctx := context.Background()

	stack, err := orchestrator.Start(ctx, &orchestrator.StartOpts{
		Agents:  cfg.Agents,
		EnvFile: cfg.Secrets.EnvFile,
		LogDir:  cfg.Results.LogDir,
	})
	if err != nil {
		return fmt.Errorf("starting agent stack: %w", err)
	}
	defer stack.Stop()

	caller := agent.NewClient(stack.Endpoints())
	querier := &telemetry.SMIQuerier{DeviceIndex: cfg.Sampler.DeviceIndex}
	clf := detect.NewThresholdClassifier(thresholdsFrom(cfg))
	params := paramsFrom(cfg)

	var failed int
	doRun := func(kind scenario.Kind, run int) error {
		fmt.Printf("Running %s (run %d/%d)...\n", kind, run, cfg.Runs)
		rec, err := runner.Run(ctx, &runner.RunOpts{
			Kind:     kind,
			RunNum:   run,
			Caller:   caller,
			Querier:  querier,
			Params:   params,
			Interval: cfg.Sampler.Interval(),
			Timeout:  timeoutFor(cfg, kind),
			RunDir:   runDir,
		})
		if err != nil {
			return err
		}
		rec, err = runner.Classify(result.RunPath(runDir, string(kind), run), clf)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("  %s (%.1fs, %d samples)", rec.Status, rec.DurationS, len(rec.Samples))
		if rec.Detection != nil {
			verdict := "MISS"
			if rec.Detection.Correct {
				verdict = "HIT"
			}
			line += fmt.Sprintf(" -> %s [%s]", rec.Detection.Predicted, verdict)
		}
		fmt.Println(line)
		return nil
	}

	if flagParallel > 1 {
		var jobs []runner.RunJob
		for _, kind := range kinds {
			for run := 1; run <= cfg.Runs; run++ {
				kind, run := kind, run
				jobs = append(jobs, runner.RunJob{
					Kind: kind,
					Run:  run,
					Do:   func() error { return doRun(kind, run) },
				})
			}
		}
		for _, err := range runner.RunPool(flagParallel, jobs) {
			fmt.Printf("  ERROR: %v\n", err)
			failed++
		}
	} else {
		for _, kind := range kinds {
			for run := 1; run <= cfg.Runs; run++ {
				if err := doRun(kind, run); err != nil {
					fmt.Printf("  ERROR: %v\n", err)
					failed++
				}
			}
		}
	}

	recs, err := result.CollectRecords(runDir)
	if err != nil {
		return fmt.Errorf("collecting records: %w", err)
	}
	printEvaluation(detect.Evaluate(recs, protocolFrom(cfg)))

	fmt.Println("\n--- Results ---")
	if err := report.Generate(runDir, "table", os.Stdout); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d run(s) failed before telemetry was captured", failed)
	}
	return nil
}

func printEvaluation(ev detect.Evaluation) {
	fmt.Println("\n--- Evaluation ---")
	fmt.Printf("Classified runs:  %d (%d correct)\n", ev.Runs, ev.Correct)
	fmt.Printf("Accuracy:         %.1f%%\n", ev.Accuracy*100)
	fmt.Printf("Mean latency:     %.1fs (anomalous runs)\n", ev.MeanLatencyS)
	if !ev.Conclusive {
		fmt.Println("Verdict:          inconclusive (not enough runs)")
		return
	}
	fmt.Printf("Accuracy target:  %s\n", metLabel(ev.AccuracyMet))
	fmt.Printf("Latency target:   %s\n", metLabel(ev.LatencyMet))
}

func metLabel(met bool) string {
	if met {
		return "MET"
	}
	return "NOT MET"
}

func selectKinds(selector string) ([]scenario.Kind, error) {
	if selector == "" || selector == "all" {
		return scenario.Kinds(), nil
	}
	kind, err := scenario.ParseKind(selector)
	if err != nil {
		return nil, err
	}
	return []scenario.Kind{kind}, nil
}

// timeoutFor gives normal runs headroom to finish naturally while
// keeping induced-failure runs on a tight leash.
func timeoutFor(cfg *config.Config, kind scenario.Kind) time.Duration {
	if flagTimeout > 0 {
		return flagTimeout
	}
	if kind == scenario.Normal {
		return time.Duration(cfg.Scenarios.NormalTimeoutS) * time.Second
	}
	return time.Duration(cfg.Scenarios.TimeoutS) * time.Second
}

func paramsFrom(cfg *config.Config) scenario.Params {
	return scenario.Params{
		BrowseDelay:     time.Duration(cfg.Scenarios.BrowseDelayMS) * time.Millisecond,
		LoopPause:       time.Duration(cfg.Scenarios.LoopPauseMS) * time.Millisecond,
		MaxLoopAttempts: cfg.Scenarios.MaxLoopAttempts,
		StormRetries:    uint(cfg.Scenarios.StormRetries),
		StormPause:      time.Duration(cfg.Scenarios.StormPauseMS) * time.Millisecond,
	}
}

func thresholdsFrom(cfg *config.Config) detect.Thresholds {
	return detect.Thresholds{
		SpikeUtilPct:       cfg.Detector.SpikeUtilPct,
		MaxNormalDurationS: cfg.Detector.MaxNormalDurationS,
		CoVSplit:           cfg.Detector.CoVSplit,
		MinStormSpikes:     cfg.Detector.MinStormSpikes,
	}
}

func protocolFrom(cfg *config.Config) detect.Protocol {
	return detect.Protocol{
		MinRuns:        cfg.Evaluation.MinRuns,
		AccuracyTarget: cfg.Evaluation.AccuracyTarget,
		LatencyTargetS: cfg.Evaluation.LatencyTargetS,
	}
}
