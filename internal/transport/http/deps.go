// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/domain"
	"github.com/beleidsscan/workflow-engine/internal/rollback"
	"github.com/beleidsscan/workflow-engine/internal/workflow"
)

type RunService interface {
	CreateRun(ctx context.Context, params domain.CreateRunParams) (*domain.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	ListLogs(ctx context.Context, id uuid.UUID, afterSeq int64) ([]domain.LogEntry, error)
	PauseRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	CancelRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
}

type CheckpointReader interface {
	GetStepCheckpoint(ctx context.Context, runID uuid.UUID, stepID string) (*domain.StepCheckpoint, error)
}

type StepRollbacker interface {
	RollbackStep(ctx context.Context, runID uuid.UUID, stepID string) rollback.Result
}

type WorkflowCatalog interface {
	Get(id string) (*workflow.Definition, bool)
	List() []workflow.Definition
}

// Launcher executes runs outside the request that created or resumed them.
type Launcher interface {
	Launch(runID uuid.UUID, workflowID string, params map[string]any) error
	Resume(runID uuid.UUID) error
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
