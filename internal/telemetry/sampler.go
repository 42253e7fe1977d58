package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Sampler collects one Sample per interval on a background goroutine.
// The sample buffer is owned exclusively by that goroutine until Stop
// drains it, so no late sample can be dropped silently.
type Sampler struct {
	querier  Querier
	interval time.Duration

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	drained   chan struct{}
	samples   []Sample
}

func NewSampler(q Querier, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Sampler{
		querier:  q,
		interval: interval,
		done:     make(chan struct{}),
		drained:  make(chan struct{}),
	}
}

// Start begins the sampling loop. It returns immediately and never
// blocks the caller's run path.
func (s *Sampler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.loop(ctx)
	})
}

func (s *Sampler) loop(ctx context.Context) {
	defer close(s.drained)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			// Bound each query by the interval so a hung metrics
			// source skips ticks instead of stalling the drain.
			qctx, cancel := context.WithTimeout(ctx, s.interval)
			reading, err := s.querier.Query(qctx)
			cancel()
			if err != nil {
				logrus.WithError(err).Warn("gpu query failed, skipping tick")
				continue
			}
			s.samples = append(s.samples, Sample{
				Timestamp:      time.Now(),
				UtilizationPct: reading.UtilizationPct,
				MemoryUsedMiB:  reading.MemoryUsedMiB,
			})
		}
	}
}

// Stop signals the loop, waits for it to drain, and returns the complete
// ordered sequence collected since Start. Safe to call once.
func (s *Sampler) Stop() []Sample {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	if !s.started.Load() {
		return nil
	}
	<-s.drained
	return s.samples
}
