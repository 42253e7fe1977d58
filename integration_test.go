//go:build integration

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/probelab/agentprobe/internal/agent"
	"github.com/probelab/agentprobe/internal/detect"
	"github.com/probelab/agentprobe/internal/result"
	"github.com/probelab/agentprobe/internal/runner"
	"github.com/probelab/agentprobe/internal/scenario"
	"github.com/probelab/agentprobe/internal/telemetry"
)

// fakeGPU mimics a device that idles until the agent stack is busy and
// spikes while requests are in flight.
type fakeGPU struct {
	busy atomic.Bool
}

func (g *fakeGPU) Query(ctx context.Context) (telemetry.Reading, error) {
	if g.busy.Load() {
		return telemetry.Reading{UtilizationPct: 92, MemoryUsedMiB: 8000}, nil
	}
	return telemetry.Reading{UtilizationPct: 8, MemoryUsedMiB: 1200}, nil
}

func fastParams() scenario.Params {
	return scenario.Params{
		BrowseDelay:     2 * time.Millisecond,
		LoopPause:       2 * time.Millisecond,
		MaxLoopAttempts: 1000,
		StormRetries:    10,
		StormPause:      2 * time.Millisecond,
	}
}

func TestFullRunAgainstMockAgentStack(t *testing.T) {
	gpu := &fakeGPU{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gpu.busy.Store(true)
		defer gpu.busy.Store(false)
		time.Sleep(3 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	caller := agent.NewClient(map[agent.Target]string{
		agent.TargetMerchant:    srv.URL,
		agent.TargetCredentials: srv.URL,
		agent.TargetPayment:     srv.URL,
	})

	resultsDir := t.TempDir()
	runDir, err := result.CreateRunDir(resultsDir)
	if err != nil {
		t.Fatalf("CreateRunDir: %v", err)
	}

	clf := detect.NewThresholdClassifier(detect.Thresholds{
		SpikeUtilPct:       80,
		MaxNormalDurationS: 0.2,
		CoVSplit:           0.5,
		MinStormSpikes:     5,
	})

	for _, tc := range []struct {
		kind       scenario.Kind
		timeout    time.Duration
		wantStatus string
	}{
		{scenario.Normal, 2 * time.Second, result.StatusCompleted},
		{scenario.InfiniteLoop, 300 * time.Millisecond, result.StatusTimedOut},
		{scenario.RetryStorm, 2 * time.Second, result.StatusCompleted},
	} {
		rec, err := runner.Run(context.Background(), &runner.RunOpts{
			Kind:     tc.kind,
			RunNum:   1,
			Caller:   caller,
			Querier:  gpu,
			Params:   fastParams(),
			Interval: 2 * time.Millisecond,
			Timeout:  tc.timeout,
			RunDir:   runDir,
		})
		if err != nil {
			t.Fatalf("%s: Run: %v", tc.kind, err)
		}
		if rec.Status != tc.wantStatus {
			t.Errorf("%s: status got %q, want %q", tc.kind, rec.Status, tc.wantStatus)
		}
		if len(rec.Samples) == 0 {
			t.Errorf("%s: no samples collected", tc.kind)
		}
		if _, err := runner.Classify(result.RunPath(runDir, string(tc.kind), 1), clf); err != nil {
			t.Fatalf("%s: Classify: %v", tc.kind, err)
		}
	}

	recs, err := result.CollectRecords(runDir)
	if err != nil {
		t.Fatalf("CollectRecords: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	ev := detect.Evaluate(recs, detect.Protocol{MinRuns: 3, AccuracyTarget: 0.80, LatencyTargetS: 10})
	if !ev.Conclusive {
		t.Error("three classified runs should be conclusive")
	}
	if ev.Runs != 3 {
		t.Errorf("evaluated %d runs, want 3", ev.Runs)
	}
}
