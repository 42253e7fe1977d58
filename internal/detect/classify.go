package detect

import (
	"math"

	"github.com/probelab/agentprobe/internal/result"
	"github.com/probelab/agentprobe/internal/scenario"
)

// Classifier is the detection policy. It is a replaceable strategy:
// nothing upstream depends on how a verdict is reached.
type Classifier interface {
	Classify(rec *result.RunRecord) result.Detection
}

// Thresholds parameterize the default policy. There are no ground-truth
// values for these; every one is configurable.
type Thresholds struct {
	SpikeUtilPct       float64 // utilization counted as a spike
	MaxNormalDurationS float64 // expected upper bound for a normal run
	CoVSplit           float64 // bursty vs sustained split for anomalies
	MinStormSpikes     int     // spike count that marks a retry storm
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		SpikeUtilPct:       80,
		MaxNormalDurationS: 10,
		CoVSplit:           0.5,
		MinStormSpikes:     5,
	}
}

// ThresholdClassifier is the fixed decision rule shipped with the
// harness. A run is anomalous when it was force-terminated, ran past the
// expected normal duration, or shows a storm-like spike count. Anomalies
// split on burstiness: repeated spikes or high utilization variance read
// as a retry storm, sustained flat load as an infinite loop.
type ThresholdClassifier struct {
	T Thresholds
}

// NewThresholdClassifier fills any unset threshold from the defaults,
// so a partially populated Thresholds never leaves a rule disarmed.
func NewThresholdClassifier(t Thresholds) *ThresholdClassifier {
	d := DefaultThresholds()
	if t.SpikeUtilPct <= 0 {
		t.SpikeUtilPct = d.SpikeUtilPct
	}
	if t.MaxNormalDurationS <= 0 {
		t.MaxNormalDurationS = d.MaxNormalDurationS
	}
	if t.CoVSplit <= 0 {
		t.CoVSplit = d.CoVSplit
	}
	if t.MinStormSpikes <= 0 {
		t.MinStormSpikes = d.MinStormSpikes
	}
	return &ThresholdClassifier{T: t}
}

func (c *ThresholdClassifier) Classify(rec *result.RunRecord) result.Detection {
	f := Compute(rec, c.T.SpikeUtilPct)

	anomalous := rec.Status == result.StatusTimedOut ||
		f.DurationS > c.T.MaxNormalDurationS ||
		f.SpikeCount >= c.T.MinStormSpikes

	det := result.Detection{}
	switch {
	case !anomalous:
		det.Predicted = string(scenario.Normal)
		det.Score = clamp01(1 - f.DurationS/math.Max(c.T.MaxNormalDurationS, 1))
	case f.SpikeCount >= c.T.MinStormSpikes || f.UtilCoV >= c.T.CoVSplit:
		det.Predicted = string(scenario.RetryStorm)
		det.Score = clamp01(float64(f.SpikeCount) / float64(maxInt(c.T.MinStormSpikes, 1)))
		det.LatencyS = c.detectionLatency(rec, f)
	default:
		det.Predicted = string(scenario.InfiniteLoop)
		det.Score = clamp01(1 - f.UtilCoV/math.Max(c.T.CoVSplit, 0.01))
		det.LatencyS = c.detectionLatency(rec, f)
	}
	det.Correct = det.Predicted == rec.Scenario
	return det
}

// detectionLatency is the time from run start until the anomaly rule
// first fires on the growing sample prefix: the decisive spike for a
// storm, otherwise the expected-normal-duration cutoff.
func (c *ThresholdClassifier) detectionLatency(rec *result.RunRecord, f Features) float64 {
	latency := c.T.MaxNormalDurationS
	if f.DurationS < latency {
		latency = f.DurationS
	}
	times := spikeTimes(rec, c.T.SpikeUtilPct)
	if len(times) >= c.T.MinStormSpikes && c.T.MinStormSpikes > 0 {
		if t := times[c.T.MinStormSpikes-1]; t < latency {
			latency = t
		}
	}
	return latency
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
