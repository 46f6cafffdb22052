// SPDX-License-Identifier: Apache-2.0

// Package runmanager is the system of record for run lifecycle: status,
// context and the append-only run log.
package runmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/domain"
	"github.com/beleidsscan/workflow-engine/internal/metrics"
	"github.com/beleidsscan/workflow-engine/internal/repository"
	"github.com/beleidsscan/workflow-engine/internal/runctx"
)

// transitionAttempts bounds the read-then-conditional-update loops that
// race with the engine or other control calls.
const transitionAttempts = 3

type Manager struct {
	store        repository.Store
	logger       *slog.Logger
	now          func() time.Time
	onIdleCancel func(ctx context.Context, run *domain.Run)
}

func New(store repository.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) CreateRun(ctx context.Context, p domain.CreateRunParams) (*domain.Run, error) {
	if p.WorkflowID == "" {
		return nil, errors.New("workflow id is required")
	}

	now := m.now()
	run := domain.Run{
		ID:         uuid.New(),
		WorkflowID: p.WorkflowID,
		Status:     domain.RunPending,
		Params:     runctx.WithoutInternal(p.Params),
		StartTime:  now,
		WebhookURL: p.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.store.InsertRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	metrics.IncRunStatus(domain.RunPending)
	m.Log(ctx, run.ID, "run created", domain.LogInfo, map[string]any{"workflowId": run.WorkflowID})
	return &run, nil
}

// GetRun returns (nil, nil) when the run does not exist.
func (m *Manager) GetRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	run, err := m.store.GetRun(ctx, runID)
	if errors.Is(err, domain.ErrRunNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Log appends to the run log. Store failures go to the process logger and
// are not returned.
func (m *Manager) Log(ctx context.Context, runID uuid.UUID, message string, level domain.LogLevel, detail map[string]any) {
	if level == "" {
		level = domain.LogInfo
	}

	_, err := m.store.AppendLog(ctx, domain.LogEntry{
		RunID:     runID,
		Timestamp: m.now(),
		Level:     level,
		Message:   message,
		Detail:    detail,
	})
	if err != nil {
		m.logger.Error("append run log failed",
			"run_id", runID,
			"message", message,
			"error", err,
		)
	}
}

func (m *Manager) ListLogs(ctx context.Context, runID uuid.UUID, afterSeq int64) ([]domain.LogEntry, error) {
	if _, err := m.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return m.store.ListLogs(ctx, runID, afterSeq)
}

// SaveProgress replaces the run context together with the list of
// executed steps.
func (m *Manager) SaveProgress(ctx context.Context, runID uuid.UUID, params map[string]any, completed []string) error {
	if err := m.store.SaveProgress(ctx, runID, params, completed); err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			return err
		}
		return fmt.Errorf("save run progress: %w", err)
	}
	return nil
}

// UpdateRunParams replaces the run context.
func (m *Manager) UpdateRunParams(ctx context.Context, runID uuid.UUID, params map[string]any) error {
	if err := m.store.ReplaceParams(ctx, runID, params); err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			return err
		}
		return fmt.Errorf("update run params: %w", err)
	}
	return nil
}

// UpdateStatus moves a run to status. Moving to the current status is a
// no-op; transitions not allowed by domain.CanTransition fail with
// domain.ErrInvalidTransition. errMsg is only stored for failed runs.
func (m *Manager) UpdateStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, status)
	}

	for attempt := 0; attempt < transitionAttempts; attempt++ {
		run, err := m.store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status == status {
			return nil
		}
		if !domain.CanTransition(run.Status, status) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, run.Status, status)
		}

		upd := domain.StatusUpdate{
			From: []domain.RunStatus{run.Status},
			To:   status,
		}
		if status == domain.RunFailed {
			upd.Error = errMsg
		}
		if status.Terminal() {
			end := m.now()
			upd.EndTime = &end
			upd.ClearPause = true
		}
		if status == domain.RunPaused {
			upd.ClearPause = true
		}

		_, applied, err := m.store.TransitionStatus(ctx, runID, upd)
		if err != nil {
			return err
		}
		if applied {
			m.afterTransition(ctx, runID, run.Status, status, errMsg)
			return nil
		}
	}
	return fmt.Errorf("%w: run %s changed concurrently", domain.ErrInvalidTransition, runID)
}

func (m *Manager) afterTransition(ctx context.Context, runID uuid.UUID, from, to domain.RunStatus, errMsg string) {
	metrics.IncRunStatus(to)
	m.logger.Info("run status changed", "run_id", runID, "from", from, "to", to)

	if to == domain.RunFailed {
		m.Log(ctx, runID, "run failed", domain.LogError, map[string]any{"error": errMsg})
	}
}

// StartRun claims a pending run, or a paused run without an outstanding
// pause request, for execution. Two callers cannot both start one run.
func (m *Manager) StartRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == domain.RunPaused && run.PauseRequested {
		return nil, fmt.Errorf("%w: run %s has an outstanding pause request", domain.ErrRunNotRunnable, runID)
	}

	started, applied, err := m.store.TransitionStatus(ctx, runID, domain.StatusUpdate{
		From:       []domain.RunStatus{domain.RunPending, domain.RunPaused},
		To:         domain.RunRunning,
		ClearPause: true,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("%w: run %s is %s", domain.ErrRunNotRunnable, runID, started.Status)
	}

	m.afterTransition(ctx, runID, run.Status, domain.RunRunning, "")
	return started, nil
}

// PauseRun pauses a pending run directly and asks a running run to pause
// at its next step boundary. Paused and terminal runs are left unchanged.
func (m *Manager) PauseRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	for attempt := 0; attempt < transitionAttempts; attempt++ {
		run, err := m.store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}

		switch run.Status {
		case domain.RunPending:
			paused, applied, err := m.store.TransitionStatus(ctx, runID, domain.StatusUpdate{
				From: []domain.RunStatus{domain.RunPending},
				To:   domain.RunPaused,
			})
			if err != nil {
				return nil, err
			}
			if applied {
				m.afterTransition(ctx, runID, domain.RunPending, domain.RunPaused, "")
				m.Log(ctx, runID, "run paused", domain.LogInfo, nil)
				return paused, nil
			}
		case domain.RunRunning:
			if run.PauseRequested {
				return run, nil
			}
			ok, err := m.store.SetPauseRequested(ctx, runID, true, domain.RunRunning)
			if err != nil {
				return nil, err
			}
			if ok {
				m.Log(ctx, runID, "pause requested", domain.LogInfo, nil)
				run.PauseRequested = true
				return run, nil
			}
		default:
			if run.Status.Terminal() {
				m.logger.Info("pause skipped (terminal)", "run_id", runID, "status", run.Status)
			}
			return run, nil
		}
	}
	return m.store.GetRun(ctx, runID)
}

// ResumeRun withdraws a pending pause request, or makes a paused run
// runnable again. The caller then executes the run.
func (m *Manager) ResumeRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	switch run.Status {
	case domain.RunPaused, domain.RunRunning:
		if !run.PauseRequested {
			if run.Status == domain.RunPaused {
				m.Log(ctx, runID, "run resumed", domain.LogInfo, nil)
			}
			return run, nil
		}
		ok, err := m.store.SetPauseRequested(ctx, runID, false, run.Status)
		if err != nil {
			return nil, err
		}
		if ok {
			m.Log(ctx, runID, "pause request withdrawn", domain.LogInfo, nil)
		}
		return m.store.GetRun(ctx, runID)
	default:
		return run, nil
	}
}

// CancelRun moves any non-terminal run to cancelled. A running run stops at
// its next step boundary.
func (m *Manager) CancelRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		m.logger.Info("cancel skipped (terminal)", "run_id", runID, "status", run.Status)
		return run, nil
	}

	end := m.now()
	// The run can move between running and paused while we cancel it, so
	// each transition names exactly the statuses it expects.
	for range cancelRounds {
		cancelled, applied, err := m.cancelFrom(ctx, runID, run.Status, end, domain.RunPending, domain.RunPaused)
		if err != nil {
			return nil, err
		}
		if applied {
			// No executor holds the run, so nothing else reports its end.
			if m.onIdleCancel != nil {
				m.onIdleCancel(ctx, cancelled)
			}
			return cancelled, nil
		}
		if cancelled.Status.Terminal() {
			return cancelled, nil
		}

		cancelled, applied, err = m.cancelFrom(ctx, runID, domain.RunRunning, end, domain.RunRunning)
		if err != nil {
			return nil, err
		}
		if applied || cancelled.Status.Terminal() {
			return cancelled, nil
		}
		run = cancelled
	}
	return run, nil
}

const cancelRounds = 3

func (m *Manager) cancelFrom(ctx context.Context, runID uuid.UUID, prev domain.RunStatus, end time.Time, from ...domain.RunStatus) (*domain.Run, bool, error) {
	cancelled, applied, err := m.store.TransitionStatus(ctx, runID, domain.StatusUpdate{
		From:       from,
		To:         domain.RunCancelled,
		EndTime:    &end,
		ClearPause: true,
	})
	if err != nil || !applied {
		return cancelled, applied, err
	}
	m.afterTransition(ctx, runID, prev, domain.RunCancelled, "")
	m.Log(ctx, runID, "run cancelled", domain.LogInfo, nil)
	return cancelled, true, nil
}

// OnIdleCancel registers fn to be called when a pending or paused run is
// cancelled. No executor observes those runs ending, so fn is where their
// terminal notification happens. Call before serving requests.
func (m *Manager) OnIdleCancel(fn func(ctx context.Context, run *domain.Run)) {
	m.onIdleCancel = fn
}
