// Package app wires the orchestrator subsystems into the public API surface:
// backend registration, job submission, and batch execution.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mvalko/scrape-orchestrator/internal/backend"
	"github.com/mvalko/scrape-orchestrator/internal/backend/headless"
	"github.com/mvalko/scrape-orchestrator/internal/backend/httpfetch"
	"github.com/mvalko/scrape-orchestrator/internal/backend/scripted"
	"github.com/mvalko/scrape-orchestrator/internal/budget"
	"github.com/mvalko/scrape-orchestrator/internal/config"
	"github.com/mvalko/scrape-orchestrator/internal/dispatcher"
	"github.com/mvalko/scrape-orchestrator/internal/executor"
	"github.com/mvalko/scrape-orchestrator/internal/metrics"
	"github.com/mvalko/scrape-orchestrator/internal/orchestrator"
	"github.com/mvalko/scrape-orchestrator/internal/policy"
	"github.com/mvalko/scrape-orchestrator/internal/profile"
	"github.com/mvalko/scrape-orchestrator/internal/progress"
	"github.com/mvalko/scrape-orchestrator/internal/progress/sinks"
	"github.com/mvalko/scrape-orchestrator/internal/ratelimit"
	"github.com/mvalko/scrape-orchestrator/internal/store"
)

// App owns the assembled orchestrator.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    orchestrator.Clock
	ids      orchestrator.IDGenerator
	profiles *profile.Store
	registry *backend.Registry
	limiter  *ratelimit.Limiter
	ledger   *budget.Ledger
	hub      *progress.Hub
	disp     *dispatcher.Dispatcher
	db       *store.Store
}

// New assembles the orchestrator from configuration. Backends declared in
// the config are registered before the app is returned, so configuration
// errors surface at startup rather than at submission time.
func New(ctx context.Context, cfg config.Config, clock orchestrator.Clock, ids orchestrator.IDGenerator, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{
		cfg:      cfg,
		logger:   logger,
		clock:    clock,
		ids:      ids,
		profiles: profile.New(clock),
		registry: backend.NewRegistry(),
		limiter:  ratelimit.New(),
		ledger: budget.New(budget.Config{
			MaxSpend: cfg.Budget.MaxSpend,
			MaxCount: cfg.Budget.MaxCount,
			Window:   cfg.BudgetWindow(),
		}, clock),
	}

	a.hub = progress.NewHub(
		progress.Config{Logger: logger},
		sinks.NewLogSink(logger),
		sinks.NewPrometheusSink(),
	)

	pol := policy.New(policy.Options{
		CostWeight:     cfg.Policy.CostWeight,
		SuccessWeight:  cfg.Policy.SuccessWeight,
		RecencyWeight:  cfg.Policy.RecencyWeight,
		Epsilon:        cfg.Policy.Epsilon,
		MinSuccessRate: cfg.Policy.MinSuccessRate,
	})
	exec := executor.New(
		a.profiles,
		a.registry,
		a.limiter,
		a.ledger,
		pol,
		clock,
		executor.Config{
			BaseDelay:      cfg.BackoffBase(),
			MaxDelay:       cfg.BackoffMax(),
			AttemptTimeout: cfg.AttemptTimeout(),
		},
		a.hub,
		logger,
	)

	var reportStore orchestrator.ReportStore
	if cfg.DB.DSN != "" {
		db, err := store.New(ctx, store.Config{
			DSN:           cfg.DB.DSN,
			AttemptsTable: cfg.DB.AttemptsTable,
			ReportsTable:  cfg.DB.ReportsTable,
			MaxConns:      cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init report store: %w", err)
		}
		a.db = db
		reportStore = db
	}
	a.disp = dispatcher.New(exec, a.profiles, reportStore, clock, logger)

	for _, bc := range cfg.Backends {
		collab, err := buildCollaborator(bc)
		if err != nil {
			return nil, err
		}
		if err := a.RegisterBackend(orchestrator.BackendID(bc.ID), bc.UnitCost, bc.InitialSuccessRate, ratelimit.Settings{
			MinInterval: bc.MinInterval(),
			RPS:         bc.RPS,
			Burst:       bc.Burst,
		}, collab); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// RegisterBackend installs one execution strategy: its profile, its rate
// bucket, and its collaborator.
func (a *App) RegisterBackend(id orchestrator.BackendID, unitCost, initialSuccessRate float64, rl ratelimit.Settings, collab orchestrator.Backend) error {
	if err := a.profiles.Register(id, unitCost, initialSuccessRate); err != nil {
		return fmt.Errorf("register backend: %w", err)
	}
	if err := a.registry.Register(id, collab); err != nil {
		return fmt.Errorf("register backend: %w", err)
	}
	a.limiter.Configure(id, rl)
	a.logger.Info("backend registered",
		zap.String("backend", string(id)),
		zap.Float64("unit_cost", unitCost),
	)
	return nil
}

// SubmitJob creates a job for one target. Submission with zero registered
// backends is a configuration error.
func (a *App) SubmitJob(target string) (*orchestrator.Job, error) {
	if target == "" {
		return nil, fmt.Errorf("target is required")
	}
	if a.registry.Len() == 0 {
		return nil, orchestrator.ErrNoBackends
	}
	id, err := a.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	return &orchestrator.Job{
		ID:      id,
		Target:  target,
		Created: a.clock.Now(),
	}, nil
}

// RunBatch submits one job per target and executes them with the given
// concurrency bound (0 means the configured default).
func (a *App) RunBatch(ctx context.Context, targets []string, maxConcurrency int) (orchestrator.BatchReport, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = a.cfg.Dispatcher.MaxConcurrency
	}
	jobs := make([]*orchestrator.Job, 0, len(targets))
	for _, target := range targets {
		job, err := a.SubmitJob(target)
		if err != nil {
			return orchestrator.BatchReport{}, err
		}
		jobs = append(jobs, job)
	}
	return a.disp.RunBatch(ctx, jobs, maxConcurrency)
}

// Ledger exposes the budget ledger for observability endpoints.
func (a *App) Ledger() *budget.Ledger {
	return a.ledger
}

// Close flushes the progress hub and releases held resources.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("progress hub close failed", zap.Error(err))
	}
	if a.db != nil {
		a.db.Close()
	}
}

func buildCollaborator(bc config.BackendConfig) (orchestrator.Backend, error) {
	switch bc.Kind {
	case config.KindHTTP:
		return httpfetch.New(httpfetch.Config{
			UserAgent: bc.UserAgent,
			UnitCost:  bc.UnitCost,
			Timeout:   bc.Timeout(),
		}), nil
	case config.KindHeadless:
		b, err := headless.New(headless.Config{
			UserAgent:         bc.UserAgent,
			UnitCost:          bc.UnitCost,
			MaxParallel:       bc.MaxParallel,
			NavigationTimeout: bc.Timeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", bc.ID, err)
		}
		return b, nil
	case config.KindScripted:
		return scripted.Constant(true, bc.UnitCost, 0), nil
	default:
		return nil, fmt.Errorf("backend %q: unknown kind %q", bc.ID, bc.Kind)
	}
}
