// SPDX-License-Identifier: Apache-2.0

// Package checkpoint snapshots a run's context before each step.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/domain"
	"github.com/beleidsscan/workflow-engine/internal/repository"
	"github.com/beleidsscan/workflow-engine/internal/runctx"
)

type Service struct {
	store  repository.CheckpointStore
	logger *slog.Logger
	now    func() time.Time
}

func New(store repository.CheckpointStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateStepCheckpoint stores a deep copy of snapshot for (runID, stepID),
// replacing an earlier checkpoint of the same step.
func (s *Service) CreateStepCheckpoint(ctx context.Context, runID uuid.UUID, stepID string, snapshot map[string]any) (*domain.StepCheckpoint, error) {
	cp := domain.StepCheckpoint{
		RunID:     runID,
		StepID:    stepID,
		Context:   runctx.Clone(snapshot),
		Timestamp: s.now(),
	}
	if err := s.store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, fmt.Errorf("save checkpoint for step %s: %w", stepID, err)
	}

	s.logger.Debug("checkpoint saved", "run_id", runID, "step_id", stepID, "keys", len(cp.Context))
	cp.Context = runctx.Clone(cp.Context)
	return &cp, nil
}

// GetStepCheckpoint returns (nil, nil) when the step has no checkpoint.
func (s *Service) GetStepCheckpoint(ctx context.Context, runID uuid.UUID, stepID string) (*domain.StepCheckpoint, error) {
	cp, err := s.store.GetCheckpoint(ctx, runID, stepID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for step %s: %w", stepID, err)
	}
	if cp == nil {
		return nil, nil
	}
	cp.Context = runctx.Clone(cp.Context)
	return cp, nil
}
