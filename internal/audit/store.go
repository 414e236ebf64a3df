// Package audit persists provisioning run history to PostgreSQL. The
// store is optional: without a configured database the server simply runs
// without history, so every recorder method here is best-effort and logs
// failures instead of propagating them into the run.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ArgonautCreations/depotforge/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS provisioning_runs (
	id          UUID PRIMARY KEY,
	template    TEXT NOT NULL,
	roster_rows INT NOT NULL,
	user_count  INT NOT NULL,
	depot_count INT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT NOT NULL DEFAULT '',
	undo_log    TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS provisioning_run_stages (
	run_id      UUID NOT NULL REFERENCES provisioning_runs(id) ON DELETE CASCADE,
	stage       TEXT NOT NULL,
	items       INT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	finished_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, stage)
);

CREATE INDEX IF NOT EXISTS idx_provisioning_runs_started_at
	ON provisioning_runs (started_at DESC);
`

// RunRecord is one row of run history.
type RunRecord struct {
	ID         string     `json:"id"`
	Template   string     `json:"template"`
	RosterRows int        `json:"rosterRows"`
	UserCount  int        `json:"userCount"`
	DepotCount int        `json:"depotCount"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	UndoLog    []string   `json:"undoLog,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// StageRecord is one completed stage of a run.
type StageRecord struct {
	Stage      string    `json:"stage"`
	Items      int       `json:"items"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Store records run history in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore wraps a connection pool. Call EnsureSchema before first use.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// EnsureSchema creates the history tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

// RunStarted inserts the run row. Part of core.RunRecorder.
func (s *Store) RunStarted(ctx context.Context, runID string, plan *core.Plan) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provisioning_runs (id, template, roster_rows, user_count, depot_count)
		 VALUES ($1, $2, $3, $4, $5)`,
		runID, plan.Template.Name, len(plan.Records), len(plan.UsersToCreate), len(plan.DepotsToCreate))
	if err != nil {
		s.logger.Error("record run start failed", "run_id", runID, "error", err)
	}
}

// StageFinished inserts one stage row. Part of core.RunRecorder.
func (s *Store) StageFinished(ctx context.Context, runID, stage string, items int, stageErr error) {
	errText := ""
	if stageErr != nil {
		errText = stageErr.Error()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provisioning_run_stages (run_id, stage, items, error)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id, stage) DO UPDATE SET items = $3, error = $4, finished_at = now()`,
		runID, stage, items, errText)
	if err != nil {
		s.logger.Error("record stage failed", "run_id", runID, "stage", stage, "error", err)
	}
}

// RunFinished closes out the run row. Part of core.RunRecorder.
func (s *Store) RunFinished(ctx context.Context, runID string, status core.RunStatus, runErr string, undo []string) {
	_, err := s.pool.Exec(ctx,
		`UPDATE provisioning_runs
		 SET status = $2, error = $3, undo_log = $4, finished_at = now()
		 WHERE id = $1`,
		runID, string(status), runErr, strings.Join(undo, "\n"))
	if err != nil {
		s.logger.Error("record run finish failed", "run_id", runID, "error", err)
	}
}

// ListRuns returns up to limit runs, most recent first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, template, roster_rows, user_count, depot_count, status, error, undo_log, started_at, finished_at
		 FROM provisioning_runs
		 ORDER BY started_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetRun returns one run with its stage rows.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, []StageRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, template, roster_rows, user_count, depot_count, status, error, undo_log, started_at, finished_at
		 FROM provisioning_runs WHERE id = $1`, runID)
	rec, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RunRecord{}, nil, fmt.Errorf("run not found: %s", runID)
		}
		return RunRecord{}, nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT stage, items, error, finished_at
		 FROM provisioning_run_stages WHERE run_id = $1
		 ORDER BY finished_at`, runID)
	if err != nil {
		return RunRecord{}, nil, fmt.Errorf("get run stages: %w", err)
	}
	defer rows.Close()

	var stages []StageRecord
	for rows.Next() {
		var st StageRecord
		if err := rows.Scan(&st.Stage, &st.Items, &st.Error, &st.FinishedAt); err != nil {
			return RunRecord{}, nil, fmt.Errorf("scan stage: %w", err)
		}
		stages = append(stages, st)
	}
	return rec, stages, rows.Err()
}

func scanRun(row pgx.Row) (RunRecord, error) {
	var rec RunRecord
	var undoLog string
	if err := row.Scan(&rec.ID, &rec.Template, &rec.RosterRows, &rec.UserCount, &rec.DepotCount,
		&rec.Status, &rec.Error, &undoLog, &rec.StartedAt, &rec.FinishedAt); err != nil {
		return RunRecord{}, err
	}
	if undoLog != "" {
		rec.UndoLog = strings.Split(undoLog, "\n")
	}
	return rec, nil
}

var _ core.RunRecorder = (*Store)(nil)
