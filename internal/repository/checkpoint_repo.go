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

type CheckpointRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewCheckpointRepository(pool *pgxpool.Pool, logger *slog.Logger) *CheckpointRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &CheckpointRepository{
		pool:   pool,
		logger: logger,
	}
}

func (s *CheckpointRepository) SaveCheckpoint(ctx context.Context, cp domain.StepCheckpoint) error {
	snapshot := cp.Context
	if snapshot == nil {
		snapshot = map[string]any{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO step_checkpoints (run_id, step_id, context, taken_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, step_id)
		DO UPDATE SET context=EXCLUDED.context, taken_at=EXCLUDED.taken_at
	`,
		cp.RunID,
		cp.StepID,
		snapshot,
		cp.Timestamp,
	)
	if err != nil {
		s.logger.Error("save checkpoint failed",
			"run_id", cp.RunID,
			"step_id", cp.StepID,
			"error", err,
		)
		return err
	}
	return nil
}

func (s *CheckpointRepository) GetCheckpoint(ctx context.Context, runID uuid.UUID, stepID string) (*domain.StepCheckpoint, error) {
	cp := domain.StepCheckpoint{RunID: runID, StepID: stepID}
	err := s.pool.QueryRow(ctx, `
		SELECT context, taken_at
		FROM step_checkpoints
		WHERE run_id=$1 AND step_id=$2
	`, runID, stepID).Scan(&cp.Context, &cp.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("get checkpoint failed",
			"run_id", runID,
			"step_id", stepID,
			"error", err,
		)
		return nil, err
	}
	if cp.Context == nil {
		cp.Context = map[string]any{}
	}
	return &cp, nil
}
