// SPDX-License-Identifier: Apache-2.0

// Package repository is the persistence boundary for runs, run logs and
// step checkpoints. The Postgres implementation lives here; the memory and
// mongo subpackages implement the same Store.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/domain"
)

type RunStore interface {
	InsertRun(ctx context.Context, run domain.Run) error
	// GetRun returns domain.ErrRunNotFound when the run does not exist.
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	ReplaceParams(ctx context.Context, id uuid.UUID, params map[string]any) error
	// SaveProgress replaces the context and the completed step list in one
	// write.
	SaveProgress(ctx context.Context, id uuid.UUID, params map[string]any, completed []string) error
	// TransitionStatus applies upd only when the stored status matches
	// upd.From. It returns the run as stored afterwards and whether the
	// update was applied.
	TransitionStatus(ctx context.Context, id uuid.UUID, upd domain.StatusUpdate) (*domain.Run, bool, error)
	// SetPauseRequested sets the flag only while the run is in status when.
	SetPauseRequested(ctx context.Context, id uuid.UUID, requested bool, when domain.RunStatus) (bool, error)
	ListRunsByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]domain.Run, error)
}

type LogStore interface {
	AppendLog(ctx context.Context, entry domain.LogEntry) (int64, error)
	ListLogs(ctx context.Context, runID uuid.UUID, afterSeq int64) ([]domain.LogEntry, error)
}

type CheckpointStore interface {
	// SaveCheckpoint replaces any checkpoint stored for the same run and step.
	SaveCheckpoint(ctx context.Context, cp domain.StepCheckpoint) error
	// GetCheckpoint returns (nil, nil) when there is none.
	GetCheckpoint(ctx context.Context, runID uuid.UUID, stepID string) (*domain.StepCheckpoint, error)
}

type Store interface {
	RunStore
	LogStore
	CheckpointStore
}

func statusStrings(in []domain.RunStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
