package result

import (
	"time"

	"github.com/probelab/agentprobe/internal/telemetry"
)

// Run statuses. TimedOut is a first-class outcome, not an error: forced
// termination is itself a detection signal.
const (
	StatusCompleted = "completed"
	StatusTimedOut  = "timed_out"
	StatusFailed    = "failed"
)

// RunRecord captures one scenario execution and its telemetry. The
// scenario label is fixed at creation and never mutated; Samples are
// strictly time-ordered.
type RunRecord struct {
	Scenario   string             `json:"scenario"`
	Run        int                `json:"run"`
	StartTime  time.Time          `json:"start_time"`
	EndTime    time.Time          `json:"end_time"`
	DurationS  float64            `json:"duration_s"`
	Status     string             `json:"status"`
	Success    bool               `json:"success"`
	Steps      int                `json:"steps"`
	ErrMessage string             `json:"error_message,omitempty"`
	Samples    []telemetry.Sample `json:"samples"`
	Detection  *Detection         `json:"detection,omitempty"`
}

// Detection is the classifier's verdict for a run, scored against the
// record's ground-truth scenario label.
type Detection struct {
	Predicted string  `json:"predicted"`
	Score     float64 `json:"score"`
	Correct   bool    `json:"correct"`
	LatencyS  float64 `json:"latency_s"`
}
