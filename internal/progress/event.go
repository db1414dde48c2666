// Package progress defines the job lifecycle events emitted by the fallback
// executor and the hub that fans them out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/mvalko/scrape-orchestrator/internal/orchestrator"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported lifecycle stages.
const (
	StageJobStart    Stage = "JOB_START"
	StageGateDenied  Stage = "GATE_DENIED"
	StageAttemptDone Stage = "ATTEMPT_DONE"
	StageJobDone     Stage = "JOB_DONE"
)

// Gate labels carried by GATE_DENIED events.
const (
	GateRate   = "rate"
	GateBudget = "budget"
)

// Event captures one milestone of a job moving through its fallback chain.
// Attempt events mirror the job's attempt log; gate-denial events cover the
// candidates that were skipped and therefore never reach that log.
type Event struct {
	// JobID identifies the job run.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Backend scopes attempt and gate events to one candidate.
	Backend orchestrator.BackendID
	// Gate names the denying gate for GATE_DENIED events.
	Gate string
	// Success reports the attempt outcome for ATTEMPT_DONE events.
	Success bool
	// Cost is the charge incurred by the attempt.
	Cost float64
	// Dur is the attempt latency, or total job latency for JOB_DONE.
	Dur time.Duration
	// State is the terminal state for JOB_DONE events.
	State orchestrator.JobState
	// Note attaches low-volume context such as error text.
	Note string
}

// Validate performs coarse validation so malformed events are dropped at the
// hub boundary instead of confusing sinks.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart:
	case StageGateDenied:
		if e.Backend == "" {
			return errors.New("gate denial requires backend")
		}
		if e.Gate == "" {
			return errors.New("gate denial requires gate")
		}
	case StageAttemptDone:
		if e.Backend == "" {
			return errors.New("attempt requires backend")
		}
	case StageJobDone:
		if e.State == "" {
			return errors.New("job done requires terminal state")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
