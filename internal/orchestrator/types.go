package orchestrator

import (
	"time"
)

// BackendID identifies one registered execution strategy.
type BackendID string

// Outcome is the result of a single collaborator attempt. The orchestrator
// never inspects Payload; it only accounts for Success, Cost and Duration.
type Outcome struct {
	Success  bool
	Cost     float64
	Duration time.Duration
	Payload  []byte
	Err      error
}

// BackendProfile holds the static and observed metadata for one backend.
// Counters are mutated exclusively through ProfileStore.RecordOutcome;
// SuccessRate and AvgDuration are derived, never set directly.
type BackendProfile struct {
	ID                 BackendID
	UnitCost           float64
	InitialSuccessRate float64
	TotalAttempts      int64
	TotalSuccesses     int64
	AvgDuration        time.Duration
	LastUsedAt         time.Time

	// Order is the registration index, used as the final ranking tie-break.
	Order int
}

// SuccessRate returns the observed success ratio, or the optimistic initial
// rate while the backend is still untried so new backends are not starved.
func (p BackendProfile) SuccessRate() float64 {
	if p.TotalAttempts == 0 {
		return p.InitialSuccessRate
	}
	return float64(p.TotalSuccesses) / float64(p.TotalAttempts)
}

// AttemptRecord is one entry in a job's append-only attempt log.
type AttemptRecord struct {
	Backend  BackendID     `json:"backend"`
	Success  bool          `json:"success"`
	Cost     float64       `json:"cost"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Job is one unit of work submitted to the dispatcher. It is mutated only by
// appending attempt records and is immutable once terminal.
type Job struct {
	ID      string          `json:"id"`
	Target  string          `json:"target"`
	Log     []AttemptRecord `json:"attempt_log,omitempty"`
	Created time.Time       `json:"created_at"`
}

// JobState is the terminal state of an executed job. Every job ends in
// exactly one of these; there is no other exit from the fallback chain.
type JobState string

const (
	StateSucceeded         JobState = "succeeded"
	StateExhaustedBudget   JobState = "exhausted_budget"
	StateExhaustedBackends JobState = "exhausted_all_backends"
)

// Exhaustion reasons surfaced in Result.Reason.
const (
	ReasonBudgetExceeded    = "budget exceeded"
	ReasonAllBackendsFailed = "all backends failed"
	ReasonNoAdmission       = "no eligible backend passed admission control"
	ReasonCanceled          = "canceled before completion"
)

// Result is the terminal record for one job.
type Result struct {
	JobID     string          `json:"job_id"`
	Target    string          `json:"target"`
	State     JobState        `json:"state"`
	Backend   BackendID       `json:"backend,omitempty"`
	TotalCost float64         `json:"total_cost"`
	Attempts  []AttemptRecord `json:"attempts,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// BackendStats summarizes one backend's counters for a batch report.
type BackendStats struct {
	Attempts    int64         `json:"attempts"`
	Successes   int64         `json:"successes"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// BatchReport aggregates the outcome of one RunBatch call. Succeeded,
// ExhaustedBudget and ExhaustedAllBackends always sum to the number of
// submitted jobs.
type BatchReport struct {
	Succeeded            int                         `json:"succeeded"`
	ExhaustedBudget      int                         `json:"exhausted_budget"`
	ExhaustedAllBackends int                         `json:"exhausted_all_backends"`
	TotalCost            float64                     `json:"total_cost"`
	PerBackend           map[BackendID]BackendStats  `json:"per_backend_stats"`
	Results              []Result                    `json:"results,omitempty"`
	Started              time.Time                   `json:"started_at"`
	Finished             time.Time                   `json:"finished_at"`
}
