// Package dispatcher bounds concurrent job execution and aggregates batch
// reports.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mvalko/scrape-orchestrator/internal/metrics"
	"github.com/mvalko/scrape-orchestrator/internal/orchestrator"
)

// JobRunner executes one job to a terminal state.
type JobRunner interface {
	Execute(ctx context.Context, job *orchestrator.Job) (orchestrator.Result, error)
}

// StatsSource exposes per-backend counters for report aggregation.
type StatsSource interface {
	Stats() map[orchestrator.BackendID]orchestrator.BackendStats
}

// Dispatcher fans a batch of jobs out to the fallback executor, bounded by a
// worker semaphore. It never retries at the batch level; retries belong to
// the executor's chain.
type Dispatcher struct {
	runner JobRunner
	stats  StatsSource
	store  orchestrator.ReportStore
	clock  orchestrator.Clock
	logger *zap.Logger
}

// New constructs a Dispatcher. store may be nil for in-memory operation.
func New(runner JobRunner, stats StatsSource, store orchestrator.ReportStore, clock orchestrator.Clock, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		runner: runner,
		stats:  stats,
		store:  store,
		clock:  clock,
		logger: logger,
	}
}

// RunBatch executes the jobs with at most maxConcurrency in flight and
// returns the aggregated report. On cancellation no new attempts are issued;
// in-flight attempts finish and are accounted. Every submitted job lands in
// exactly one report bucket. The returned error is non-nil only for
// configuration failures, which abort the remainder of the batch.
func (d *Dispatcher) RunBatch(ctx context.Context, jobs []*orchestrator.Job, maxConcurrency int) (orchestrator.BatchReport, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	report := orchestrator.BatchReport{
		Started:    d.clock.Now(),
		PerBackend: map[orchestrator.BackendID]orchestrator.BackendStats{},
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]orchestrator.Result, 0, len(jobs))
		fatal   error
	)
	sem := make(chan struct{}, maxConcurrency)

	for _, job := range jobs {
		mu.Lock()
		aborted := fatal != nil
		mu.Unlock()
		if aborted {
			break
		}
		if ctx.Err() != nil {
			// Jobs never started still get a terminal bucket; the report
			// must not drop them.
			mu.Lock()
			results = append(results, orchestrator.Result{
				JobID:  job.ID,
				Target: job.Target,
				State:  orchestrator.StateExhaustedBackends,
				Reason: orchestrator.ReasonCanceled,
			})
			mu.Unlock()
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			mu.Lock()
			results = append(results, orchestrator.Result{
				JobID:  job.ID,
				Target: job.Target,
				State:  orchestrator.StateExhaustedBackends,
				Reason: orchestrator.ReasonCanceled,
			})
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(job *orchestrator.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			metrics.IncInFlightJobs()
			defer metrics.DecInFlightJobs()

			res, err := d.runner.Execute(ctx, job)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if fatal == nil {
					fatal = err
				}
				return
			}
			results = append(results, res)
		}(job)
	}
	wg.Wait()

	if fatal != nil {
		return orchestrator.BatchReport{}, fatal
	}

	for _, res := range results {
		switch res.State {
		case orchestrator.StateSucceeded:
			report.Succeeded++
		case orchestrator.StateExhaustedBudget:
			report.ExhaustedBudget++
		default:
			report.ExhaustedAllBackends++
		}
		report.TotalCost += res.TotalCost
	}
	report.Results = results
	if d.stats != nil {
		report.PerBackend = d.stats.Stats()
	}
	report.Finished = d.clock.Now()

	d.persist(ctx, report)
	return report, nil
}

// persist writes the report and attempt logs to the optional store. Storage
// failures are logged, never surfaced: persistence is a sink, not a gate.
func (d *Dispatcher) persist(ctx context.Context, report orchestrator.BatchReport) {
	if d.store == nil {
		return
	}
	for _, res := range report.Results {
		for _, rec := range res.Attempts {
			if err := d.store.SaveAttempt(ctx, res.JobID, rec); err != nil {
				d.logger.Warn("save attempt failed",
					zap.String("job_id", res.JobID),
					zap.Error(err),
				)
			}
		}
	}
	if err := d.store.SaveReport(ctx, report); err != nil {
		d.logger.Warn("save batch report failed", zap.Error(err))
	}
}
