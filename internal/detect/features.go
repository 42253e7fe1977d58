// Package detect turns a run's telemetry into scalar features and
// classifies the run's behavioral signature.
package detect

import (
	"math"

	"github.com/probelab/agentprobe/internal/result"
)

// Features summarizes one run's sample sequence.
type Features struct {
	DurationS    float64
	SampleCount  int
	MeanUtil     float64
	PeakUtil     float64
	UtilCoV      float64 // coefficient of variation: stddev / mean
	SpikeCount   int     // rising edges crossing the spike threshold
	TimeToSpikeS float64 // seconds from run start to first spike, -1 if none
	MeanMemMiB   float64
}

// Compute derives features from a record. spikeThreshold is the
// utilization percentage a sample must reach to count as a spike.
func Compute(rec *result.RunRecord, spikeThreshold float64) Features {
	f := Features{
		DurationS:    rec.DurationS,
		SampleCount:  len(rec.Samples),
		TimeToSpikeS: -1,
	}
	if len(rec.Samples) == 0 {
		return f
	}

	var sumUtil, sumMem float64
	above := false
	for _, s := range rec.Samples {
		sumUtil += s.UtilizationPct
		sumMem += s.MemoryUsedMiB
		if s.UtilizationPct > f.PeakUtil {
			f.PeakUtil = s.UtilizationPct
		}
		if s.UtilizationPct >= spikeThreshold {
			if !above {
				f.SpikeCount++
				if f.TimeToSpikeS < 0 {
					f.TimeToSpikeS = s.Timestamp.Sub(rec.StartTime).Seconds()
				}
			}
			above = true
		} else {
			above = false
		}
	}
	n := float64(len(rec.Samples))
	f.MeanUtil = sumUtil / n
	f.MeanMemMiB = sumMem / n

	var sumSq float64
	for _, s := range rec.Samples {
		d := s.UtilizationPct - f.MeanUtil
		sumSq += d * d
	}
	if f.MeanUtil > 0 {
		f.UtilCoV = math.Sqrt(sumSq/n) / f.MeanUtil
	}
	return f
}

// spikeTimes returns seconds from run start for each rising edge, in
// order. Used to locate the decisive spike for detection latency.
func spikeTimes(rec *result.RunRecord, spikeThreshold float64) []float64 {
	var times []float64
	above := false
	for _, s := range rec.Samples {
		if s.UtilizationPct >= spikeThreshold {
			if !above {
				times = append(times, s.Timestamp.Sub(rec.StartTime).Seconds())
			}
			above = true
		} else {
			above = false
		}
	}
	return times
}
