// SPDX-License-Identifier: Apache-2.0

// Package engine executes workflow runs: it walks a definition's steps in
// order, checkpoints the context before each step, invokes the registered
// action, merges its result and persists the context. Pause and cancel are
// observed at step boundaries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/action"
	"github.com/beleidsscan/workflow-engine/internal/backoff"
	"github.com/beleidsscan/workflow-engine/internal/domain"
	"github.com/beleidsscan/workflow-engine/internal/logging"
	"github.com/beleidsscan/workflow-engine/internal/rollback"
	"github.com/beleidsscan/workflow-engine/internal/runctx"
	"github.com/beleidsscan/workflow-engine/internal/workflow"
)

const defaultStepTimeout = 5 * time.Minute

// Runs is the run manager surface the engine drives.
type Runs interface {
	GetRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error)
	StartRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error)
	ResumeRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error)
	UpdateRunParams(ctx context.Context, runID uuid.UUID, params map[string]any) error
	SaveProgress(ctx context.Context, runID uuid.UUID, params map[string]any, completed []string) error
	UpdateStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus, errMsg string) error
	Log(ctx context.Context, runID uuid.UUID, message string, level domain.LogLevel, detail map[string]any)
}

type Checkpoints interface {
	CreateStepCheckpoint(ctx context.Context, runID uuid.UUID, stepID string, snapshot map[string]any) (*domain.StepCheckpoint, error)
}

type Rollback interface {
	RollbackStep(ctx context.Context, runID uuid.UUID, stepID string) rollback.Result
	CleanupPartialResults(ctx context.Context, runID uuid.UUID, stepID string, partialResults map[string]any) []string
}

type Deps struct {
	Registry           *action.Registry
	Runs               Runs
	Checkpoints        Checkpoints
	Rollback           Rollback
	Workflows          *workflow.Registry
	Logger             *slog.Logger
	DefaultStepTimeout time.Duration
	Backoff            backoff.Strategy
}

type Engine struct {
	registry    *action.Registry
	runs        Runs
	checkpoints Checkpoints
	rollback    Rollback
	workflows   *workflow.Registry
	logger      *slog.Logger
	stepTimeout time.Duration
	backoff     backoff.Strategy
}

func New(deps Deps) *Engine {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	reg := deps.Registry
	if reg == nil {
		reg = action.NewRegistry()
	}

	wfs := deps.Workflows
	if wfs == nil {
		wfs = workflow.NewDefaultRegistry()
	}

	timeout := deps.DefaultStepTimeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}

	bo := deps.Backoff
	if bo == nil {
		bo = backoff.Default()
	}

	return &Engine{
		registry:    reg,
		runs:        deps.Runs,
		checkpoints: deps.Checkpoints,
		rollback:    deps.Rollback,
		workflows:   wfs,
		logger:      l,
		stepTimeout: timeout,
		backoff:     bo,
	}
}

// RegisterAction adds a handler to the engine's action registry. A duplicate
// id fails with action.ErrDuplicateAction and keeps the first handler.
func (e *Engine) RegisterAction(actionID string, h action.Handler, opts ...action.Option) error {
	return e.registry.Register(actionID, h, opts...)
}

func (e *Engine) Actions() *action.Registry { return e.registry }

func (e *Engine) Workflows() *workflow.Registry { return e.workflows }

// WorkflowRef selects the definition a run executes.
type WorkflowRef struct {
	id  string
	def *workflow.Definition
}

func ByID(id string) WorkflowRef { return WorkflowRef{id: id} }

func ByDefinition(def *workflow.Definition) WorkflowRef { return WorkflowRef{def: def} }

func (e *Engine) resolve(ref WorkflowRef) (*workflow.Definition, error) {
	if ref.def != nil {
		if err := ref.def.Validate(); err != nil {
			return nil, err
		}
		def := ref.def.Normalized()
		return &def, nil
	}
	def, ok := e.workflows.Get(ref.id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, ref.id)
	}
	return def, nil
}

// Resume makes a paused run runnable again and executes its remaining
// steps. A running run with a pending pause request only has the request
// withdrawn; its executor carries on.
func (e *Engine) Resume(ctx context.Context, runID uuid.UUID) (domain.RunStatus, error) {
	run, err := e.runs.ResumeRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if run == nil {
		return "", domain.ErrRunNotFound
	}

	switch run.Status {
	case domain.RunPaused, domain.RunPending:
		return e.Execute(ctx, ByID(run.WorkflowID), nil, runID)
	case domain.RunRunning:
		return run.Status, nil
	default:
		return run.Status, fmt.Errorf("%w: run %s is %s", domain.ErrRunNotRunnable, runID, run.Status)
	}
}

// execution is the state of one Execute call.
type execution struct {
	runID     uuid.UUID
	def       *workflow.Definition
	log       *slog.Logger
	params    map[string]any
	completed []string
}

func (x *execution) done(stepID string) bool {
	for _, id := range x.completed {
		if id == stepID {
			return true
		}
	}
	return false
}

// Execute runs the workflow for runID until it completes, fails, is paused
// or is cancelled, and returns the run's final status. Steps recorded as
// completed on the run are skipped.
func (e *Engine) Execute(ctx context.Context, ref WorkflowRef, initialParams map[string]any, runID uuid.UUID) (domain.RunStatus, error) {
	def, err := e.resolve(ref)
	if err != nil {
		return "", err
	}

	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if run == nil {
		return "", fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	prior := run.Status

	started, err := e.runs.StartRun(ctx, runID)
	if err != nil {
		return run.Status, err
	}

	x := &execution{
		runID:     runID,
		def:       def,
		log:       logging.ForRun(e.logger, runID, def.ID),
		params:    seedContext(prior, started.Params, initialParams),
		completed: append([]string(nil), started.CompletedSteps...),
	}
	x.params[runctx.KeyWorkflowID] = def.ID

	x.log.Info("run started", "prev_status", prior, "steps", len(def.Steps), "completed", len(x.completed))
	msg := "run started"
	if prior == domain.RunPaused {
		msg = "run resumed"
	}
	e.runs.Log(ctx, runID, msg, domain.LogInfo, map[string]any{
		"workflowId":     def.ID,
		"completedSteps": x.completed,
	})

	if err := e.runs.UpdateRunParams(ctx, runID, x.params); err != nil {
		return e.fail(ctx, x, fmt.Sprintf("persist run context: %v", err), err)
	}

	for i := range def.Steps {
		step := def.Steps[i]

		if x.done(step.ID) {
			e.stepSkipped(ctx, x, step)
			continue
		}

		if status, halt, err := e.checkBoundary(ctx, x); halt {
			return status, err
		}

		if status, halt, err := e.runStep(ctx, x, step); halt {
			return status, err
		}
	}

	return e.complete(ctx, x)
}

// seedContext overlays initial params on a fresh run's stored context. A
// paused run keeps its stored values and only gains missing keys.
func seedContext(prior domain.RunStatus, stored, initial map[string]any) map[string]any {
	params := runctx.Clone(stored)
	for k, v := range initial {
		if runctx.IsInternal(k) {
			continue
		}
		if _, exists := params[k]; exists && prior == domain.RunPaused {
			continue
		}
		params[k] = runctx.CloneValue(v)
	}
	return params
}

// checkBoundary reloads the run between steps. It halts on cancellation,
// honours a pause request and pauses runs whose context was cancelled.
func (e *Engine) checkBoundary(ctx context.Context, x *execution) (domain.RunStatus, bool, error) {
	if ctx.Err() != nil {
		return e.interrupt(ctx, x)
	}

	run, err := e.runs.GetRun(ctx, x.runID)
	if err != nil {
		return "", true, err
	}
	if run == nil {
		return "", true, fmt.Errorf("%w: %s", domain.ErrRunNotFound, x.runID)
	}

	if run.Status.Terminal() {
		x.log.Info("run halted", "status", run.Status)
		return run.Status, true, nil
	}

	if run.PauseRequested {
		if err := e.runs.UpdateStatus(ctx, x.runID, domain.RunPaused, ""); err != nil {
			return e.currentStatus(ctx, x.runID, err)
		}
		e.runs.Log(ctx, x.runID, "run paused", domain.LogInfo, map[string]any{"reason": "pause requested"})
		x.log.Info("run paused")
		return domain.RunPaused, true, nil
	}

	return run.Status, false, nil
}

// interrupt pauses a run whose executor is shutting down so that it can be
// resumed later.
func (e *Engine) interrupt(ctx context.Context, x *execution) (domain.RunStatus, bool, error) {
	cause := ctx.Err()
	bg := context.WithoutCancel(ctx)

	if err := e.runs.UpdateStatus(bg, x.runID, domain.RunPaused, ""); err != nil {
		st, _, _ := e.currentStatus(bg, x.runID, err)
		return st, true, cause
	}
	e.runs.Log(bg, x.runID, "run paused", domain.LogWarn, map[string]any{"reason": "executor interrupted"})
	x.log.Warn("run interrupted", "error", cause)
	return domain.RunPaused, true, cause
}

// currentStatus resolves a status update that lost a race: an invalid
// transition means someone else moved the run, so report where it is now.
func (e *Engine) currentStatus(ctx context.Context, runID uuid.UUID, cause error) (domain.RunStatus, bool, error) {
	if !errors.Is(cause, domain.ErrInvalidTransition) {
		return "", true, cause
	}
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil || run == nil {
		return "", true, cause
	}
	return run.Status, true, nil
}

func (e *Engine) complete(ctx context.Context, x *execution) (domain.RunStatus, error) {
	if err := e.runs.UpdateStatus(ctx, x.runID, domain.RunCompleted, ""); err != nil {
		st, _, err := e.currentStatus(ctx, x.runID, err)
		if err == nil {
			x.log.Info("run finished without completing", "status", st)
		}
		return st, err
	}

	e.runs.Log(ctx, x.runID, "run completed", domain.LogInfo, map[string]any{"workflowId": x.def.ID})
	x.log.Info("run completed")
	return domain.RunCompleted, nil
}

// fail marks the run failed with msg. cause is returned to the caller when
// the run could not be moved to failed.
func (e *Engine) fail(ctx context.Context, x *execution, msg string, cause error) (domain.RunStatus, error) {
	if err := e.runs.UpdateStatus(ctx, x.runID, domain.RunFailed, msg); err != nil {
		st, _, err := e.currentStatus(ctx, x.runID, err)
		if err != nil {
			x.log.Error("mark run failed failed", "error", err, "cause", cause)
			return domain.RunFailed, errors.Join(cause, err)
		}
		return st, nil
	}

	x.log.Error("run failed", "error", msg)
	return domain.RunFailed, nil
}
