// Package executor drives one job through its fallback chain.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mvalko/scrape-orchestrator/internal/orchestrator"
	"github.com/mvalko/scrape-orchestrator/internal/progress"
)

// Chainer computes a job's fallback chain from the current profiles.
type Chainer interface {
	Chain(now time.Time, profiles []orchestrator.BackendProfile) []orchestrator.BackendID
}

// Config controls attempt pacing.
type Config struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// Executor runs the per-job state machine: select a chain once, then for each
// candidate pass the rate and budget gates, issue the attempt, and account
// the outcome. Gate denials are non-attempts: no cost, no stats, no log
// entry. Attempts are charged and recorded whether they succeed or fail.
type Executor struct {
	profiles orchestrator.ProfileStore
	backends orchestrator.BackendResolver
	rate     orchestrator.RateGate
	budget   orchestrator.BudgetGate
	chainer  Chainer
	clock    orchestrator.Clock
	backoff  Backoff
	cfg      Config
	events   progress.Emitter
	logger   *zap.Logger
}

// New constructs an Executor. events may be nil to disable progress emission.
func New(
	profiles orchestrator.ProfileStore,
	backends orchestrator.BackendResolver,
	rate orchestrator.RateGate,
	budget orchestrator.BudgetGate,
	chainer Chainer,
	clock orchestrator.Clock,
	cfg Config,
	events progress.Emitter,
	logger *zap.Logger,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		profiles: profiles,
		backends: backends,
		rate:     rate,
		budget:   budget,
		chainer:  chainer,
		clock:    clock,
		backoff:  NewBackoff(cfg.BaseDelay, cfg.MaxDelay),
		cfg:      cfg,
		events:   events,
		logger:   logger,
	}
}

func (e *Executor) emit(evt progress.Event) {
	if e.events == nil {
		return
	}
	e.events.Emit(evt)
}

// Execute runs the job to a terminal state. The returned error is non-nil
// only for configuration problems (no backends, unresolvable backend id);
// attempt failures are data, not errors.
func (e *Executor) Execute(ctx context.Context, job *orchestrator.Job) (orchestrator.Result, error) {
	profiles := e.profiles.All()
	if len(profiles) == 0 {
		return orchestrator.Result{}, orchestrator.ErrNoBackends
	}

	// The chain is computed once per job; re-ranking mid-chain would make
	// the attempt log unexplainable after the fact.
	chain := e.chainer.Chain(e.clock.Now(), profiles)

	unitCost := make(map[orchestrator.BackendID]float64, len(profiles))
	for _, p := range profiles {
		unitCost[p.ID] = p.UnitCost
	}
	resolved := make(map[orchestrator.BackendID]orchestrator.Backend, len(chain))
	for _, id := range chain {
		b, err := e.backends.Resolve(id)
		if err != nil {
			return orchestrator.Result{}, fmt.Errorf("resolve backend %q: %w", id, err)
		}
		resolved[id] = b
	}

	result := orchestrator.Result{
		JobID:  job.ID,
		Target: job.Target,
	}
	started := e.clock.Now()
	e.emit(progress.Event{JobID: job.ID, TS: started, Stage: progress.StageJobStart})
	var (
		budgetDenied bool
		rateDenied   bool
		canceled     bool
	)

	for i, id := range chain {
		if ctx.Err() != nil {
			canceled = true
			break
		}

		if !e.rate.Allow(id) {
			rateDenied = true
			e.emit(progress.Event{
				JobID:   job.ID,
				TS:      e.clock.Now(),
				Stage:   progress.StageGateDenied,
				Backend: id,
				Gate:    progress.GateRate,
			})
			e.logger.Debug("candidate skipped by rate limiter",
				zap.String("job_id", job.ID),
				zap.String("backend", string(id)),
			)
			continue
		}

		reserved := unitCost[id]
		if !e.budget.Reserve(reserved) {
			budgetDenied = true
			e.emit(progress.Event{
				JobID:   job.ID,
				TS:      e.clock.Now(),
				Stage:   progress.StageGateDenied,
				Backend: id,
				Gate:    progress.GateBudget,
			})
			e.logger.Debug("candidate skipped by budget ledger",
				zap.String("job_id", job.ID),
				zap.String("backend", string(id)),
				zap.Float64("unit_cost", reserved),
			)
			continue
		}
		if ctx.Err() != nil {
			e.budget.Rollback(reserved)
			canceled = true
			break
		}

		out := e.attempt(ctx, resolved[id], job.Target, reserved)
		e.profiles.RecordOutcome(id, out.Success, out.Cost, out.Duration)
		e.budget.Commit(reserved, out.Cost)

		rec := orchestrator.AttemptRecord{
			Backend:  id,
			Success:  out.Success,
			Cost:     out.Cost,
			Duration: out.Duration,
			At:       e.clock.Now(),
		}
		job.Log = append(job.Log, rec)
		result.Attempts = append(result.Attempts, rec)
		result.TotalCost += out.Cost

		attemptEvt := progress.Event{
			JobID:   job.ID,
			TS:      rec.At,
			Stage:   progress.StageAttemptDone,
			Backend: id,
			Success: out.Success,
			Cost:    out.Cost,
			Dur:     out.Duration,
		}
		if out.Err != nil {
			attemptEvt.Note = out.Err.Error()
		}
		e.emit(attemptEvt)

		if out.Success {
			result.State = orchestrator.StateSucceeded
			result.Backend = id
			e.emit(e.terminalEvent(job.ID, result, started))
			return result, nil
		}

		e.logger.Info("attempt failed, advancing chain",
			zap.String("job_id", job.ID),
			zap.String("backend", string(id)),
			zap.Error(out.Err),
		)
		if i < len(chain)-1 {
			if err := e.wait(ctx, e.backoff.Delay(len(result.Attempts)-1)); err != nil {
				canceled = true
				break
			}
		}
	}

	result.State, result.Reason = exhaustionCause(result.Attempts, budgetDenied, rateDenied, canceled)
	e.emit(e.terminalEvent(job.ID, result, started))
	return result, nil
}

func (e *Executor) terminalEvent(jobID string, result orchestrator.Result, started time.Time) progress.Event {
	now := e.clock.Now()
	return progress.Event{
		JobID: jobID,
		TS:    now,
		Stage: progress.StageJobDone,
		State: result.State,
		Cost:  result.TotalCost,
		Dur:   now.Sub(started),
		Note:  result.Reason,
	}
}

// exhaustionCause picks the terminal state for a job whose chain ran out.
// A budget denial anywhere wins: the operator remedy (raise the budget or
// wait for the window) differs from investigating backend health.
func exhaustionCause(attempts []orchestrator.AttemptRecord, budgetDenied, rateDenied, canceled bool) (orchestrator.JobState, string) {
	switch {
	case budgetDenied:
		return orchestrator.StateExhaustedBudget, orchestrator.ReasonBudgetExceeded
	case len(attempts) > 0:
		return orchestrator.StateExhaustedBackends, orchestrator.ReasonAllBackendsFailed
	case rateDenied:
		return orchestrator.StateExhaustedBackends, orchestrator.ReasonNoAdmission
	case canceled:
		return orchestrator.StateExhaustedBackends, orchestrator.ReasonCanceled
	default:
		return orchestrator.StateExhaustedBackends, orchestrator.ReasonAllBackendsFailed
	}
}

// attempt invokes the collaborator with the configured timeout. A panicking
// collaborator is treated exactly like a reported failure: the attempt may
// already have incurred cost, so the backend's unit cost is charged.
func (e *Executor) attempt(ctx context.Context, b orchestrator.Backend, target string, fallbackCost float64) (out orchestrator.Outcome) {
	if e.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("backend panicked", zap.Any("panic", r))
			out = orchestrator.Outcome{
				Success:  false,
				Cost:     fallbackCost,
				Duration: time.Since(start),
				Err:      fmt.Errorf("backend panic: %v", r),
			}
		}
	}()
	out = b.Attempt(ctx, target)
	if out.Duration == 0 {
		out.Duration = time.Since(start)
	}
	return out
}

func (e *Executor) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
