// Package store provides Postgres-backed persistence for attempt logs and
// batch reports.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mvalko/scrape-orchestrator/internal/orchestrator"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	AttemptsTable   string
	ReportsTable    string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes attempt and report rows into Postgres. It implements
// orchestrator.ReportStore.
type Store struct {
	pool          execCloser
	attemptsTable string
	reportsTable  string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	attempts, reports, err := tableNames(cfg.AttemptsTable, cfg.ReportsTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{
		pool:          pool,
		attemptsTable: attempts,
		reportsTable:  reports,
	}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(pool execCloser, attemptsTable, reportsTable string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	attempts, reports, err := tableNames(attemptsTable, reportsTable)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, attemptsTable: attempts, reportsTable: reports}, nil
}

func tableNames(attempts, reports string) (string, string, error) {
	if attempts == "" {
		attempts = "attempts"
	}
	if reports == "" {
		reports = "batch_reports"
	}
	for _, t := range []string{attempts, reports} {
		if !validTableName.MatchString(t) {
			return "", "", fmt.Errorf("invalid table name %q", t)
		}
	}
	return attempts, reports, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveAttempt inserts one attempt-log row.
func (s *Store) SaveAttempt(ctx context.Context, jobID string, rec orchestrator.AttemptRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("store is not configured")
	}
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	backend,
	success,
	cost,
	duration_ms,
	attempted_at
) VALUES (
	$1,$2,$3,$4,$5,$6
)`, s.attemptsTable)

	if _, err := s.pool.Exec(ctx, query,
		jobID,
		string(rec.Backend),
		rec.Success,
		rec.Cost,
		rec.Duration.Milliseconds(),
		rec.At,
	); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// SaveReport inserts one batch-report row. Per-backend stats are stored as a
// JSONB document since the backend set varies per deployment.
func (s *Store) SaveReport(ctx context.Context, report orchestrator.BatchReport) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("store is not configured")
	}
	statsJSON, err := json.Marshal(report.PerBackend)
	if err != nil {
		return fmt.Errorf("marshal per-backend stats: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	succeeded,
	exhausted_budget,
	exhausted_all_backends,
	total_cost,
	per_backend_stats,
	started_at,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, s.reportsTable)

	if _, err := s.pool.Exec(ctx, query,
		report.Succeeded,
		report.ExhaustedBudget,
		report.ExhaustedAllBackends,
		report.TotalCost,
		statsJSON,
		report.Started,
		report.Finished,
	); err != nil {
		return fmt.Errorf("insert batch report: %w", err)
	}
	return nil
}
