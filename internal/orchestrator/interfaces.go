package orchestrator

import (
	"context"
	"time"
)

// Backend performs one extraction attempt against a target. Implementations
// live outside the dispatch core (HTTP fetchers, headless browsers, scripted
// stubs) and own no shared state; each call is accounted independently.
type Backend interface {
	Attempt(ctx context.Context, target string) Outcome
}

// BackendResolver maps a backend ID to its collaborator. Resolution of an
// unknown ID is a configuration error, never a silent job failure.
type BackendResolver interface {
	Resolve(id BackendID) (Backend, error)
}

// ProfileStore owns the per-backend profiles. All returns snapshot copies in
// registration order; RecordOutcome is the only mutator.
type ProfileStore interface {
	All() []BackendProfile
	RecordOutcome(id BackendID, success bool, cost float64, duration time.Duration)
}

// RateGate admits or denies an attempt against a backend. Allow is
// non-blocking and atomically consumes the admission slot it grants.
type RateGate interface {
	Allow(id BackendID) bool
}

// BudgetGate is the process-wide spend ledger. Reserve atomically checks and
// charges the estimated cost of an attempt; Commit settles the reservation to
// the actual cost once the attempt returns; Rollback releases a reservation
// whose attempt was never issued.
type BudgetGate interface {
	Reserve(cost float64) bool
	Commit(reserved, actual float64)
	Rollback(reserved float64)
}

// Ranker orders eligible backends into a fallback chain. Implementations are
// pure: no state mutation, no I/O, deterministic for a fixed input.
type Ranker interface {
	Rank(now time.Time, eligible []BackendProfile) []BackendID
}

// ReportStore persists attempt logs and batch reports. A nil store is valid;
// persistence is an optional sink, never a gate.
type ReportStore interface {
	SaveAttempt(ctx context.Context, jobID string, rec AttemptRecord) error
	SaveReport(ctx context.Context, report BatchReport) error
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
