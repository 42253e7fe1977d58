package detect

import (
	"github.com/probelab/agentprobe/internal/result"
	"github.com/probelab/agentprobe/internal/scenario"
)

// Protocol defines what the accuracy and latency targets are measured
// over. The source experiment never pinned this down, so it is
// configuration rather than a built-in rule.
type Protocol struct {
	MinRuns        int
	AccuracyTarget float64
	LatencyTargetS float64
}

func DefaultProtocol() Protocol {
	return Protocol{MinRuns: 3, AccuracyTarget: 0.80, LatencyTargetS: 10}
}

// Evaluation aggregates classified runs against ground truth.
type Evaluation struct {
	Runs         int     `json:"runs"`
	Correct      int     `json:"correct"`
	Accuracy     float64 `json:"accuracy"`
	MeanLatencyS float64 `json:"mean_latency_s"` // over anomalous predictions
	Conclusive   bool    `json:"conclusive"`     // enough runs per the protocol
	AccuracyMet  bool    `json:"accuracy_met"`
	LatencyMet   bool    `json:"latency_met"`
}

// Evaluate computes exact accuracy (correct / classified) and the mean
// detection latency over runs predicted anomalous. Records without a
// detection (failed runs) are excluded.
func Evaluate(recs []*result.RunRecord, p Protocol) Evaluation {
	ev := Evaluation{}
	var latencySum float64
	var latencyN int
	for _, rec := range recs {
		if rec.Detection == nil {
			continue
		}
		ev.Runs++
		if rec.Detection.Correct {
			ev.Correct++
		}
		if rec.Detection.Predicted != string(scenario.Normal) {
			latencySum += rec.Detection.LatencyS
			latencyN++
		}
	}
	if ev.Runs > 0 {
		ev.Accuracy = float64(ev.Correct) / float64(ev.Runs)
	}
	if latencyN > 0 {
		ev.MeanLatencyS = latencySum / float64(latencyN)
	}
	ev.Conclusive = ev.Runs >= p.MinRuns
	ev.AccuracyMet = ev.Conclusive && ev.Accuracy >= p.AccuracyTarget
	ev.LatencyMet = ev.Conclusive && latencyN > 0 && ev.MeanLatencyS < p.LatencyTargetS
	return ev
}
