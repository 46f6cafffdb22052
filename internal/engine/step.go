// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/action"
	"github.com/beleidsscan/workflow-engine/internal/backoff"
	"github.com/beleidsscan/workflow-engine/internal/domain"
	"github.com/beleidsscan/workflow-engine/internal/metrics"
	"github.com/beleidsscan/workflow-engine/internal/runctx"
	"github.com/beleidsscan/workflow-engine/internal/workflow"
)

// StepTimeoutError is returned for a step that outlived its timeout.
type StepTimeoutError struct {
	StepID  string
	Timeout time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %s timed out after %s", e.StepID, e.Timeout)
}

// PanicError wraps a panic recovered from an action handler.
type PanicError struct {
	ActionID string
	Value    any
	Stack    string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("action %s panicked: %v", e.ActionID, e.Value)
}

func retryable(err error) bool {
	return err != nil && !action.IsPermanent(err)
}

// runStep executes one step against x.params. halt is true when the run
// must stop, with the status to report.
func (e *Engine) runStep(ctx context.Context, x *execution, step workflow.StepSpec) (domain.RunStatus, bool, error) {
	x.params[runctx.KeyCurrentStep] = step.ID
	log := x.log.With("step_id", step.ID, "action", step.Action)

	handler, ok := e.registry.Lookup(step.Action)
	if !ok {
		err := &action.UnknownActionError{ActionID: step.Action}
		metrics.IncStepOutcome(metrics.StepFailed)
		e.runs.Log(ctx, x.runID, "step failed", domain.LogError, map[string]any{
			"stepId": step.ID,
			"action": step.Action,
			"error":  err.Error(),
		})
		status, ferr := e.fail(ctx, x, stepFailure(step, err), err)
		return status, true, ferr
	}

	log.Info("step started")
	e.runs.Log(ctx, x.runID, "step started", domain.LogInfo, map[string]any{
		"stepId": step.ID,
		"action": step.Action,
	})

	start := time.Now()
	res, attempts := e.attempt(ctx, x, step, handler, log)
	metrics.ObserveStepDuration(step.Action, time.Since(start))

	if res.Failed() {
		return e.handleFailure(ctx, x, step, res, attempts, log)
	}

	if res.Kind == action.KindEmpty {
		metrics.IncStepOutcome(metrics.StepEmpty)
		e.runs.Log(ctx, x.runID, "step returned no results", domain.LogInfo, map[string]any{
			"stepId": step.ID,
			"reason": res.Reason,
		})
	} else {
		metrics.IncStepOutcome(metrics.StepCompleted)
	}

	merged := runctx.Merge(x.params, step.Action, e.registry.OwnedKeys(step.Action), res.Data)
	if len(merged.Conflicts) > 0 {
		metrics.IncContextConflicts(len(merged.Conflicts))
		refused := make([]string, 0, len(merged.Conflicts))
		for _, c := range merged.Conflicts {
			refused = append(refused, c.String())
		}
		log.Warn("context write refused", "keys", refused)
		e.runs.Log(ctx, x.runID, "context write refused", domain.LogWarn, map[string]any{
			"stepId":    step.ID,
			"action":    step.Action,
			"conflicts": refused,
		})
	}

	if status, halt, err := e.markDone(ctx, x, step); halt {
		return status, true, err
	}

	e.runs.Log(ctx, x.runID, "step completed", domain.LogInfo, map[string]any{
		"stepId":   step.ID,
		"action":   step.Action,
		"attempts": attempts,
		"keys":     merged.Written,
	})
	log.Info("step completed", "attempts", attempts)
	return "", false, nil
}

// markDone records step as executed and persists the context with it.
func (e *Engine) markDone(ctx context.Context, x *execution, step workflow.StepSpec) (domain.RunStatus, bool, error) {
	completed := append(append([]string(nil), x.completed...), step.ID)
	if err := e.runs.SaveProgress(ctx, x.runID, x.params, completed); err != nil {
		status, ferr := e.fail(ctx, x, fmt.Sprintf("persist context after step %s: %v", step.ID, err), err)
		return status, true, ferr
	}
	x.completed = completed
	return "", false, nil
}

// attempt builds the parameters, checkpoints and invokes the handler, retrying
// retryable failures up to the step's attempt budget.
func (e *Engine) attempt(ctx context.Context, x *execution, step workflow.StepSpec, h action.Handler, log *slog.Logger) (action.Result, int) {
	stepParams, err := workflow.BuildParams(step, x.params)
	if err != nil {
		return action.Fatal(err), 1
	}

	maxAttempts := step.Attempts()
	for n := 1; ; n++ {
		if _, err := e.checkpoints.CreateStepCheckpoint(ctx, x.runID, step.ID, x.params); err != nil {
			return action.Fatal(fmt.Errorf("checkpoint step %s: %w", step.ID, err)), n
		}

		res := e.invoke(ctx, x.runID, step, h, runctx.Clone(stepParams), log)
		if !res.Failed() || n >= maxAttempts || !retryable(res.Err) {
			return res, n
		}

		metrics.IncStepRetries()
		log.Warn("step attempt failed", "attempt", n, "error", res.Err)
		e.runs.Log(ctx, x.runID, "step attempt failed, retrying", domain.LogWarn, map[string]any{
			"stepId":      step.ID,
			"attempt":     n,
			"maxAttempts": maxAttempts,
			"error":       res.Err.Error(),
		})

		if err := backoff.Wait(ctx, e.backoff, n); err != nil {
			return action.Fatal(err), n
		}
	}
}

// invoke calls the handler under the step timeout. Panics become Fatal
// results. A handler that ignores its context is abandoned at the deadline.
func (e *Engine) invoke(ctx context.Context, runID uuid.UUID, step workflow.StepSpec, h action.Handler, params map[string]any, log *slog.Logger) action.Result {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.stepTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan action.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("action panicked", "panic", r)
				done <- action.Fatal(&PanicError{ActionID: step.Action, Value: r, Stack: string(debug.Stack())})
			}
		}()
		done <- h(sctx, params, runID)
	}()

	select {
	case res := <-done:
		return finishResult(ctx, step, timeout, res)
	case <-sctx.Done():
		// A handler that returned right at the deadline still wins.
		select {
		case res := <-done:
			return finishResult(ctx, step, timeout, res)
		default:
		}
		if ctx.Err() != nil {
			return action.Fatal(ctx.Err())
		}
		return action.Fatal(&StepTimeoutError{StepID: step.ID, Timeout: timeout})
	}
}

func finishResult(ctx context.Context, step workflow.StepSpec, timeout time.Duration, res action.Result) action.Result {
	if !res.Failed() {
		return res
	}
	if res.Err == nil {
		res.Err = fmt.Errorf("action %s failed", step.Action)
	}
	if errors.Is(res.Err, context.DeadlineExceeded) && ctx.Err() == nil {
		res.Err = &StepTimeoutError{StepID: step.ID, Timeout: timeout}
	}
	return res
}

func (e *Engine) handleFailure(ctx context.Context, x *execution, step workflow.StepSpec, res action.Result, attempts int, log *slog.Logger) (domain.RunStatus, bool, error) {
	log.Error("step failed", "attempts", attempts, "error", res.Err)
	e.runs.Log(ctx, x.runID, "step failed", domain.LogError, map[string]any{
		"stepId":   step.ID,
		"action":   step.Action,
		"attempts": attempts,
		"error":    res.Err.Error(),
	})

	if step.RollbackOnFailure || step.BestEffort {
		e.undo(ctx, x, step, res, log)
	}

	if step.BestEffort && ctx.Err() == nil {
		metrics.IncStepOutcome(metrics.StepBestEffort)
		if status, halt, err := e.markDone(ctx, x, step); halt {
			return status, true, err
		}
		e.runs.Log(ctx, x.runID, "best-effort step failed, continuing", domain.LogWarn, map[string]any{
			"stepId": step.ID,
			"error":  res.Err.Error(),
		})
		return "", false, nil
	}

	metrics.IncStepOutcome(metrics.StepFailed)
	if ctx.Err() != nil {
		return e.interrupt(ctx, x)
	}
	status, err := e.fail(ctx, x, stepFailure(step, res.Err), res.Err)
	return status, true, err
}

// undo rolls the context back to the step checkpoint and removes partial
// results the failing action left behind, then reloads x from the run.
func (e *Engine) undo(ctx context.Context, x *execution, step workflow.StepSpec, res action.Result, log *slog.Logger) {
	rb := e.rollback.RollbackStep(ctx, x.runID, step.ID)
	if !rb.Success {
		log.Warn("rollback unsuccessful", "error", rb.Error)
	}

	e.rollback.CleanupPartialResults(ctx, x.runID, step.ID, ownPartials(x.params, step.Action, res.Data))

	run, err := e.runs.GetRun(ctx, x.runID)
	if err != nil || run == nil {
		return
	}
	x.params = runctx.Clone(run.Params)
	x.params[runctx.KeyCurrentStep] = step.ID
	x.completed = append([]string(nil), run.CompletedSteps...)
}

// ownPartials keeps the keys of a failed result that the same action wrote
// earlier. Keys owned by other actions are never cleaned up.
func ownPartials(ctx map[string]any, actionID string, data map[string]any) map[string]any {
	if len(data) == 0 {
		return nil
	}
	owners := runctx.Owners(ctx)
	out := map[string]any{}
	for k, v := range data {
		if owners[k] == actionID {
			out[k] = v
		}
	}
	return out
}

func (e *Engine) stepSkipped(ctx context.Context, x *execution, step workflow.StepSpec) {
	metrics.IncStepOutcome(metrics.StepSkipped)
	x.log.Debug("skipping completed step", "step_id", step.ID)
	e.runs.Log(ctx, x.runID, "step skipped (already completed)", domain.LogDebug, map[string]any{"stepId": step.ID})
}

func stepFailure(step workflow.StepSpec, err error) string {
	return fmt.Sprintf("step %s (%s) failed: %v", step.ID, step.Action, err)
}
