package runner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/probelab/agentprobe/internal/agent"
	"github.com/probelab/agentprobe/internal/detect"
	"github.com/probelab/agentprobe/internal/result"
	"github.com/probelab/agentprobe/internal/runner"
	"github.com/probelab/agentprobe/internal/scenario"
	"github.com/probelab/agentprobe/internal/telemetry"
)

type steadyQuerier struct{ util float64 }

func (q steadyQuerier) Query(ctx context.Context) (telemetry.Reading, error) {
	return telemetry.Reading{UtilizationPct: q.util, MemoryUsedMiB: 1024}, nil
}

type okCaller struct{}

func (okCaller) Ask(ctx context.Context, _ agent.Target, _ string) (*agent.Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &agent.Reply{Status: 200, Body: "ok"}, nil
}

type hangingCaller struct{}

func (hangingCaller) Ask(ctx context.Context, _ agent.Target, _ string) (*agent.Reply, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type brokenCaller struct{}

func (brokenCaller) Ask(ctx context.Context, _ agent.Target, _ string) (*agent.Reply, error) {
	return nil, errors.New("connection refused")
}

type pacedCaller struct{ perAsk time.Duration }

func (c pacedCaller) Ask(ctx context.Context, _ agent.Target, _ string) (*agent.Reply, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.perAsk):
		return &agent.Reply{Status: 200, Body: "ok"}, nil
	}
}

// laggingQuerier ignores its context, holding the sampler drain for the
// full delay.
type laggingQuerier struct{ delay time.Duration }

func (q laggingQuerier) Query(ctx context.Context) (telemetry.Reading, error) {
	time.Sleep(q.delay)
	return telemetry.Reading{UtilizationPct: 30, MemoryUsedMiB: 512}, nil
}

func fastParams() scenario.Params {
	return scenario.Params{
		BrowseDelay:     time.Millisecond,
		LoopPause:       time.Millisecond,
		MaxLoopAttempts: 1000,
		StormRetries:    4,
		StormPause:      time.Millisecond,
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err      error
		timedOut bool
		want     string
	}{
		{nil, false, result.StatusCompleted},
		{nil, true, result.StatusTimedOut},
		{errors.New("boom"), true, result.StatusTimedOut},
		{errors.New("boom"), false, result.StatusFailed},
	}
	for _, tt := range tests {
		got := runner.StatusOf(tt.err, tt.timedOut)
		if got != tt.want {
			t.Errorf("StatusOf(%v, %v) = %q, want %q", tt.err, tt.timedOut, got, tt.want)
		}
	}
}

func TestRunNormalCompletes(t *testing.T) {
	runDir := t.TempDir()
	rec, err := runner.Run(context.Background(), &runner.RunOpts{
		Kind:     scenario.Normal,
		RunNum:   1,
		Caller:   okCaller{},
		Querier:  steadyQuerier{util: 25},
		Params:   fastParams(),
		Interval: time.Millisecond,
		Timeout:  5 * time.Second,
		RunDir:   runDir,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Status != result.StatusCompleted {
		t.Errorf("status: got %q, want %q", rec.Status, result.StatusCompleted)
	}
	if !rec.Success {
		t.Error("normal run against a healthy stack must succeed")
	}
	if len(rec.Samples) == 0 {
		t.Error("run longer than one interval must have samples")
	}
	for i := 1; i < len(rec.Samples); i++ {
		if !rec.Samples[i].Timestamp.After(rec.Samples[i-1].Timestamp) {
			t.Fatalf("samples out of order at %d", i)
		}
	}
	// record must be on disk
	path := filepath.Join(result.RunPath(runDir, "normal", 1), "record.json")
	if _, err := result.ReadRunRecord(path); err != nil {
		t.Errorf("stored record unreadable: %v", err)
	}
}

func TestRunInfiniteLoopAlwaysTerminates(t *testing.T) {
	runDir := t.TempDir()
	timeout := 50 * time.Millisecond
	interval := 5 * time.Millisecond

	start := time.Now()
	rec, err := runner.Run(context.Background(), &runner.RunOpts{
		Kind:     scenario.InfiniteLoop,
		RunNum:   1,
		Caller:   hangingCaller{},
		Querier:  steadyQuerier{util: 95},
		Params:   fastParams(),
		Interval: interval,
		Timeout:  timeout,
		RunDir:   runDir,
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Status != result.StatusTimedOut {
		t.Errorf("status: got %q, want %q", rec.Status, result.StatusTimedOut)
	}
	// generous slack for scheduler jitter; the contract is prompt
	// termination even though the agent never returns
	if elapsed > timeout+20*interval {
		t.Errorf("run took %s, want under %s", elapsed, timeout+20*interval)
	}
}

func TestRunCompletionNearDeadlineStaysCompleted(t *testing.T) {
	// The script finishes inside the timeout, but a slow GPU query holds
	// the sampler drain past the deadline. Status must reflect what the
	// script did, not when the drain finished.
	runDir := t.TempDir()
	rec, err := runner.Run(context.Background(), &runner.RunOpts{
		Kind:     scenario.Normal,
		RunNum:   1,
		Caller:   pacedCaller{perAsk: 20 * time.Millisecond},
		Querier:  laggingQuerier{delay: 60 * time.Millisecond},
		Params:   fastParams(),
		Interval: 40 * time.Millisecond,
		Timeout:  90 * time.Millisecond,
		RunDir:   runDir,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Status != result.StatusCompleted {
		t.Errorf("status: got %q, want %q", rec.Status, result.StatusCompleted)
	}
	if !rec.Success {
		t.Error("completed run marked unsuccessful")
	}
}

func TestRunSurfacesPersistFailure(t *testing.T) {
	runDir := t.TempDir()
	// A plain file where the runs tree should go blocks the record write.
	if err := os.WriteFile(filepath.Join(runDir, "runs"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := runner.Run(context.Background(), &runner.RunOpts{
		Kind:     scenario.Normal,
		RunNum:   1,
		Caller:   okCaller{},
		Querier:  steadyQuerier{util: 25},
		Params:   fastParams(),
		Interval: time.Millisecond,
		Timeout:  5 * time.Second,
		RunDir:   runDir,
	})
	if err == nil {
		t.Fatal("expected write failure to surface")
	}
	if !strings.Contains(err.Error(), "persisting run") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunFailsBeforeTelemetry(t *testing.T) {
	// A caller that breaks instantly plus a long interval: the script
	// errors before the first sampling tick fires.
	_, err := runner.Run(context.Background(), &runner.RunOpts{
		Kind:     scenario.Normal,
		RunNum:   1,
		Caller:   brokenCaller{},
		Querier:  steadyQuerier{},
		Params:   fastParams(),
		Interval: time.Minute,
		Timeout:  5 * time.Second,
		RunDir:   t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected Failed run to surface an error")
	}
}

func TestClassifyUpdatesStoredRecord(t *testing.T) {
	runDir := t.TempDir()
	runPath := result.RunPath(runDir, "normal", 1)
	rec := &result.RunRecord{
		Scenario:  "normal",
		Run:       1,
		StartTime: time.Now(),
		DurationS: 0.4,
		Status:    result.StatusCompleted,
	}
	if err := result.WriteRunRecord(runPath, rec); err != nil {
		t.Fatal(err)
	}

	got, err := runner.Classify(runPath, detect.NewThresholdClassifier(detect.DefaultThresholds()))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Detection == nil {
		t.Fatal("detection not attached")
	}
	if got.Detection.Predicted != "normal" || !got.Detection.Correct {
		t.Errorf("unexpected detection %+v", got.Detection)
	}

	reread, err := result.ReadRunRecord(filepath.Join(runPath, "record.json"))
	if err != nil {
		t.Fatal(err)
	}
	if reread.Detection == nil {
		t.Error("detection not persisted")
	}
}

func TestClassifySkipsFailedRuns(t *testing.T) {
	runDir := t.TempDir()
	runPath := result.RunPath(runDir, "normal", 1)
	rec := &result.RunRecord{Scenario: "normal", Run: 1, Status: result.StatusFailed}
	if err := result.WriteRunRecord(runPath, rec); err != nil {
		t.Fatal(err)
	}
	got, err := runner.Classify(runPath, detect.NewThresholdClassifier(detect.DefaultThresholds()))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Detection != nil {
		t.Error("failed run must not be classified")
	}
}
