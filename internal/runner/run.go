package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/probelab/agentprobe/internal/agent"
	"github.com/probelab/agentprobe/internal/detect"
	"github.com/probelab/agentprobe/internal/result"
	"github.com/probelab/agentprobe/internal/scenario"
	"github.com/probelab/agentprobe/internal/telemetry"
)

type RunOpts struct {
	Kind     scenario.Kind
	RunNum   int
	Caller   agent.Caller
	Querier  telemetry.Querier
	Params   scenario.Params
	Interval time.Duration
	Timeout  time.Duration // hard cap; the only cancellation path
	RunDir   string
}

// StatusOf maps a scenario script's result onto a run status. Forced
// termination is a first-class outcome: it is what distinguishes an
// induced infinite loop or retry storm from a normal completion.
func StatusOf(err error, timedOut bool) string {
	switch {
	case timedOut:
		return result.StatusTimedOut
	case err != nil:
		return result.StatusFailed
	default:
		return result.StatusCompleted
	}
}

// Run executes one scenario with telemetry sampled concurrently and
// persists the resulting record. It returns an error only for the
// Failed terminal state (the invocation broke before any telemetry was
// captured) or when the record cannot be written; a timed-out or
// unsuccessful transaction still yields a record.
func Run(ctx context.Context, opts *RunOpts) (*result.RunRecord, error) {
	runPath := result.RunPath(opts.RunDir, string(opts.Kind), opts.RunNum)

	sampler := telemetry.NewSampler(opts.Querier, opts.Interval)
	sampler.Start(ctx)

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	start := time.Now()
	outcome, err := scenario.Execute(runCtx, opts.Kind, opts.Caller, opts.Params)
	end := time.Now()

	// Drain before the record is considered complete so no late sample
	// is dropped.
	samples := sampler.Stop()

	// The script's own error decides forced termination: every script
	// returns ctx.Err() when cut off. runCtx may expire while a final
	// GPU query holds the drain, after a script already completed.
	timedOut := errors.Is(err, context.DeadlineExceeded)
	status := StatusOf(err, timedOut)

	if status == result.StatusFailed && len(samples) == 0 {
		return nil, fmt.Errorf("agent invocation failed before any telemetry was captured: %w", err)
	}

	rec := &result.RunRecord{
		Scenario:  string(opts.Kind),
		Run:       opts.RunNum,
		StartTime: start,
		EndTime:   end,
		DurationS: end.Sub(start).Seconds(),
		Status:    status,
		Samples:   samples,
	}
	if outcome != nil {
		rec.Steps = outcome.Steps
		rec.Success = status == result.StatusCompleted && outcome.Completed
		rec.ErrMessage = outcome.Err
	}
	if err != nil && rec.ErrMessage == "" {
		rec.ErrMessage = err.Error()
	}

	if werr := result.WriteRunRecord(runPath, rec); werr != nil {
		return nil, fmt.Errorf("persisting run %s/%d: %w", opts.Kind, opts.RunNum, werr)
	}
	return rec, nil
}

// Classify applies the detector to a stored record and updates it in
// place on disk. Failed runs are left unclassified.
func Classify(runPath string, clf detect.Classifier) (*result.RunRecord, error) {
	rec, err := result.ReadRunRecord(filepath.Join(runPath, "record.json"))
	if err != nil {
		return nil, fmt.Errorf("reading run record: %w", err)
	}
	if rec.Status == result.StatusFailed {
		logrus.WithFields(logrus.Fields{"scenario": rec.Scenario, "run": rec.Run}).
			Warn("skipping classification of failed run")
		return rec, nil
	}
	det := clf.Classify(rec)
	rec.Detection = &det
	if err := result.WriteRunRecord(runPath, rec); err != nil {
		return nil, fmt.Errorf("updating run record: %w", err)
	}
	return rec, nil
}
