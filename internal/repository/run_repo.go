// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beleidsscan/workflow-engine/internal/domain"
)

const runColumns = `id, workflow_id, status, params, completed_steps, pause_requested, start_time, end_time, error, webhook_url, created_at, updated_at`

type RunRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewRunRepository(pool *pgxpool.Pool, logger *slog.Logger) *RunRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &RunRepository{
		pool:   pool,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var status string
	if err := row.Scan(
		&run.ID,
		&run.WorkflowID,
		&status,
		&run.Params,
		&run.CompletedSteps,
		&run.PauseRequested,
		&run.StartTime,
		&run.EndTime,
		&run.Error,
		&run.WebhookURL,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	if run.Params == nil {
		run.Params = map[string]any{}
	}
	if run.CompletedSteps == nil {
		run.CompletedSteps = []string{}
	}
	return &run, nil
}

func (r *RunRepository) InsertRun(ctx context.Context, run domain.Run) error {
	params := run.Params
	if params == nil {
		params = map[string]any{}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO runs (id, workflow_id, status, params, pause_requested, start_time, webhook_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`,
		run.ID,
		run.WorkflowID,
		string(run.Status),
		params,
		run.PauseRequested,
		run.StartTime,
		run.WebhookURL,
		run.CreatedAt,
	)
	if err != nil {
		r.logger.Error("insert run failed", "run_id", run.ID, "error", err)
		return err
	}

	r.logger.Info("run created", "run_id", run.ID, "workflow_id", run.WorkflowID)
	return nil
}

func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	run, err := scanRun(r.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id=$1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		r.logger.Error("get run failed", "run_id", id, "error", err)
		return nil, err
	}
	return run, nil
}

func (r *RunRepository) ReplaceParams(ctx context.Context, id uuid.UUID, params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}

	cmd, err := r.pool.Exec(ctx,
		`UPDATE runs SET params=$2, updated_at=NOW() WHERE id=$1`,
		id, params,
	)
	if err != nil {
		r.logger.Error("update run params failed", "run_id", id, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (r *RunRepository) SaveProgress(ctx context.Context, id uuid.UUID, params map[string]any, completed []string) error {
	if params == nil {
		params = map[string]any{}
	}
	if completed == nil {
		completed = []string{}
	}

	cmd, err := r.pool.Exec(ctx,
		`UPDATE runs SET params=$2, completed_steps=$3, updated_at=NOW() WHERE id=$1`,
		id, params, completed,
	)
	if err != nil {
		r.logger.Error("save run progress failed", "run_id", id, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (r *RunRepository) TransitionStatus(ctx context.Context, id uuid.UUID, upd domain.StatusUpdate) (*domain.Run, bool, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, `
		UPDATE runs
		SET status=$2,
		    error=$3,
		    end_time=COALESCE($4, end_time),
		    pause_requested=CASE WHEN $5 THEN FALSE ELSE pause_requested END,
		    updated_at=NOW()
		WHERE id=$1
		  AND status = ANY($6)
		RETURNING `+runColumns,
		id,
		string(upd.To),
		upd.Error,
		upd.EndTime,
		upd.ClearPause,
		statusStrings(upd.From),
	))
	if err == nil {
		r.logger.Info("run status updated", "run_id", id, "status", upd.To)
		return run, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("update run status failed", "run_id", id, "status", upd.To, "error", err)
		return nil, false, err
	}

	current, err := r.GetRun(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (r *RunRepository) SetPauseRequested(ctx context.Context, id uuid.UUID, requested bool, when domain.RunStatus) (bool, error) {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE runs
		SET pause_requested=$2, updated_at=NOW()
		WHERE id=$1 AND status=$3
	`, id, requested, string(when))
	if err != nil {
		r.logger.Error("set pause request failed", "run_id", id, "error", err)
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *RunRepository) ListRunsByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE status=$1
		ORDER BY created_at ASC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		r.logger.Error("list runs query failed", "status", status, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			r.logger.Error("scan run row failed", "status", status, "error", err)
			return nil, err
		}
		out = append(out, *run)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("runs rows iteration failed", "status", status, "error", err)
		return nil, err
	}

	return out, nil
}
