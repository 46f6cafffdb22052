// SPDX-License-Identifier: Apache-2.0

// Package rollback restores a run's context to a step checkpoint and
// removes step-scoped partial results. Nothing here fails the caller:
// problems are reported in Result and written to the run log.
package rollback

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/domain"
	"github.com/beleidsscan/workflow-engine/internal/metrics"
	"github.com/beleidsscan/workflow-engine/internal/runctx"
)

// Runs is the slice of the run manager rollback needs.
type Runs interface {
	GetRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error)
	UpdateRunParams(ctx context.Context, runID uuid.UUID, params map[string]any) error
	SaveProgress(ctx context.Context, runID uuid.UUID, params map[string]any, completed []string) error
	Log(ctx context.Context, runID uuid.UUID, message string, level domain.LogLevel, detail map[string]any)
}

type Checkpoints interface {
	GetStepCheckpoint(ctx context.Context, runID uuid.UUID, stepID string) (*domain.StepCheckpoint, error)
}

type Result struct {
	StepID          string         `json:"step_id"`
	Success         bool           `json:"success"`
	RestoredContext map[string]any `json:"restored_context,omitempty"`
	// RewoundSteps are the steps marked as not executed again: stepID and
	// everything completed after it.
	RewoundSteps []string `json:"rewound_steps,omitempty"`
	Error        string   `json:"error,omitempty"`
}

type Service struct {
	runs        Runs
	checkpoints Checkpoints
	logger      *slog.Logger
}

func New(runs Runs, checkpoints Checkpoints, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{runs: runs, checkpoints: checkpoints, logger: logger}
}

// RollbackStep restores the context saved before stepID ran and marks stepID
// and every later step as not executed, so a resume runs them again.
// Bookkeeping keys keep their current values.
func (s *Service) RollbackStep(ctx context.Context, runID uuid.UUID, stepID string) Result {
	res := s.rollbackStep(ctx, runID, stepID)
	metrics.IncRollback(res.Success)

	if res.Success {
		s.runs.Log(ctx, runID, "step rolled back", domain.LogInfo, map[string]any{
			"stepId":       stepID,
			"rewoundSteps": res.RewoundSteps,
		})
	} else {
		s.logger.Warn("rollback failed", "run_id", runID, "step_id", stepID, "error", res.Error)
		s.runs.Log(ctx, runID, "step rollback failed", domain.LogWarn, map[string]any{
			"stepId": stepID,
			"error":  res.Error,
		})
	}
	return res
}

func (s *Service) rollbackStep(ctx context.Context, runID uuid.UUID, stepID string) Result {
	res := Result{StepID: stepID}

	cp, err := s.checkpoints.GetStepCheckpoint(ctx, runID, stepID)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if cp == nil {
		res.Error = fmt.Sprintf("No checkpoint found for step %s", stepID)
		return res
	}

	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if run == nil {
		res.Error = domain.ErrRunNotFound.Error()
		return res
	}

	restored := runctx.Restore(run.Params, cp.Context)
	completed, rewound := domain.RewindSteps(run.CompletedSteps, stepID)
	if err := s.runs.SaveProgress(ctx, runID, restored, completed); err != nil {
		res.Error = fmt.Sprintf("persist restored context: %v", err)
		return res
	}

	res.Success = true
	res.RestoredContext = restored
	res.RewoundSteps = rewound
	return res
}

// RollbackSteps rolls back stepIDs last to first.
func (s *Service) RollbackSteps(ctx context.Context, runID uuid.UUID, stepIDs []string) []Result {
	out := make([]Result, 0, len(stepIDs))
	for i := len(stepIDs) - 1; i >= 0; i-- {
		out = append(out, s.RollbackStep(ctx, runID, stepIDs[i]))
	}
	return out
}

// CleanupPartialResults removes context keys scoped to stepID: keys that
// contain the step id or start with "step_<stepID>_", plus the keys of
// partialResults. It returns the removed keys; failures are only logged.
func (s *Service) CleanupPartialResults(ctx context.Context, runID uuid.UUID, stepID string, partialResults map[string]any) []string {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil || run == nil {
		s.logger.Warn("cleanup skipped: run unavailable", "run_id", runID, "step_id", stepID, "error", err)
		return nil
	}

	candidates := PartialResultKeys(run.Params, stepID, partialResults)
	if len(candidates) == 0 {
		return nil
	}

	params := runctx.Clone(run.Params)
	removed := runctx.RemoveKeys(params, candidates)
	if len(removed) == 0 {
		return nil
	}

	if err := s.runs.UpdateRunParams(ctx, runID, params); err != nil {
		s.logger.Warn("cleanup failed", "run_id", runID, "step_id", stepID, "error", err)
		s.runs.Log(ctx, runID, "partial result cleanup failed", domain.LogWarn, map[string]any{
			"stepId": stepID,
			"error":  err.Error(),
		})
		return nil
	}

	s.runs.Log(ctx, runID, "partial results removed", domain.LogInfo, map[string]any{
		"stepId": stepID,
		"keys":   removed,
	})
	return removed
}

// PartialResultKeys lists the non-bookkeeping keys of params that cleanup
// would remove for stepID.
func PartialResultKeys(params map[string]any, stepID string, partialResults map[string]any) []string {
	prefix := "step_" + stepID + "_"
	seen := map[string]struct{}{}

	for key := range params {
		if runctx.IsInternal(key) {
			continue
		}
		if stepID != "" && (strings.Contains(key, stepID) || strings.HasPrefix(key, prefix)) {
			seen[key] = struct{}{}
		}
	}
	for key := range partialResults {
		if _, ok := params[key]; ok && !runctx.IsInternal(key) {
			seen[key] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
