package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/probelab/agentprobe/internal/result"
)

// ScenarioSummary aggregates stored run records for one scenario.
type ScenarioSummary struct {
	Scenario      string  `json:"scenario"`
	Runs          int     `json:"runs"`
	Completed     int     `json:"completed"`
	TimedOut      int     `json:"timed_out"`
	Failed        int     `json:"failed"`
	Accuracy      float64 `json:"accuracy"` // over classified runs
	MeanDurationS float64 `json:"mean_duration_s"`
	MeanPeakUtil  float64 `json:"mean_peak_util"`
	MeanSamples   float64 `json:"mean_samples"`
}

// Generate reads stored run records and writes a per-scenario summary.
func Generate(runDir, format string, w io.Writer) error {
	recs, err := result.CollectRecords(runDir)
	if err != nil {
		return fmt.Errorf("collecting records: %w", err)
	}
	summaries := aggregate(recs)

	switch format {
	case "markdown":
		return writeMarkdown(summaries, w)
	case "json":
		return writeJSON(summaries, w)
	default:
		return writeTable(summaries, w)
	}
}

func aggregate(recs []*result.RunRecord) []ScenarioSummary {
	type accum struct {
		runs, completed, timedOut, failed int
		classified, correct               int
		duration, peak, samples           float64
	}
	byScenario := map[string]*accum{}

	for _, r := range recs {
		a, ok := byScenario[r.Scenario]
		if !ok {
			a = &accum{}
			byScenario[r.Scenario] = a
		}
		a.runs++
		switch r.Status {
		case result.StatusCompleted:
			a.completed++
		case result.StatusTimedOut:
			a.timedOut++
		case result.StatusFailed:
			a.failed++
		}
		if r.Detection != nil {
			a.classified++
			if r.Detection.Correct {
				a.correct++
			}
		}
		a.duration += r.DurationS
		a.samples += float64(len(r.Samples))
		var peak float64
		for _, s := range r.Samples {
			if s.UtilizationPct > peak {
				peak = s.UtilizationPct
			}
		}
		a.peak += peak
	}

	var summaries []ScenarioSummary
	for scenario, a := range byScenario {
		s := ScenarioSummary{
			Scenario:      scenario,
			Runs:          a.runs,
			Completed:     a.completed,
			TimedOut:      a.timedOut,
			Failed:        a.failed,
			MeanDurationS: a.duration / float64(a.runs),
			MeanPeakUtil:  a.peak / float64(a.runs),
			MeanSamples:   a.samples / float64(a.runs),
		}
		if a.classified > 0 {
			s.Accuracy = float64(a.correct) / float64(a.classified)
		}
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Scenario < summaries[j].Scenario
	})
	return summaries
}

func writeTable(summaries []ScenarioSummary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tRUNS\tCOMPLETED\tTIMED OUT\tFAILED\tACCURACY\tMEAN DURATION\tMEAN PEAK UTIL")
	fmt.Fprintln(tw, strings.Repeat("-", 90))
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.0f%%\t%.1fs\t%.0f%%\n",
			s.Scenario, s.Runs, s.Completed, s.TimedOut, s.Failed,
			s.Accuracy*100, s.MeanDurationS, s.MeanPeakUtil)
	}
	return tw.Flush()
}

func writeMarkdown(summaries []ScenarioSummary, w io.Writer) error {
	fmt.Fprintln(w, "| Scenario | Runs | Completed | Timed Out | Failed | Accuracy | Mean Duration | Mean Peak Util |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|---|")
	for _, s := range summaries {
		fmt.Fprintf(w, "| %s | %d | %d | %d | %d | %.0f%% | %.1fs | %.0f%% |\n",
			s.Scenario, s.Runs, s.Completed, s.TimedOut, s.Failed,
			s.Accuracy*100, s.MeanDurationS, s.MeanPeakUtil)
	}
	return nil
}

func writeJSON(summaries []ScenarioSummary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}
