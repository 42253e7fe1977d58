package telemetry

import (
	"context"
	"time"
)

// Sample is one timestamped GPU reading. Samples are immutable once
// recorded; a run's sample sequence is strictly ordered by timestamp.
type Sample struct {
	Timestamp      time.Time `json:"timestamp"`
	UtilizationPct float64   `json:"utilization_pct"`
	MemoryUsedMiB  float64   `json:"memory_used_mib"`
}

// Reading is the raw result of a single GPU point query.
type Reading struct {
	UtilizationPct float64
	MemoryUsedMiB  float64
}

// Querier answers one GPU point query. Implementations may fail
// transiently (device busy, driver hiccup); callers treat a failed query
// as a skipped tick, never as a fatal error.
type Querier interface {
	Query(ctx context.Context) (Reading, error)
}
