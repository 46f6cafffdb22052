// SPDX-License-Identifier: Apache-2.0

// Package action defines the contract between the engine and the units of
// work it invokes for each workflow step.
package action

import (
	"context"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/domain"
)

// Handler runs one step. params is the step's mapped input; the returned
// Result data is merged into the run context.
type Handler func(ctx context.Context, params map[string]any, runID uuid.UUID) Result

// RunLogger appends entries to a run's log. Implementations never fail the
// caller.
type RunLogger interface {
	Log(ctx context.Context, runID uuid.UUID, message string, level domain.LogLevel, detail map[string]any)
}

// Kind tells the engine how to treat a step result.
type Kind int

const (
	KindOk Kind = iota
	// KindEmpty is a successful step that found nothing. The data is
	// still merged and Reason is logged.
	KindEmpty
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindOk:
		return "ok"
	case KindEmpty:
		return "empty"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type Result struct {
	Kind   Kind
	Data   map[string]any
	Reason string
	Err    error
}

func Ok(data map[string]any) Result {
	return Result{Kind: KindOk, Data: data}
}

func Empty(reason string, data map[string]any) Result {
	return Result{Kind: KindEmpty, Data: data, Reason: reason}
}

func Fatal(err error) Result {
	return Result{Kind: KindFatal, Err: err}
}

func (r Result) Failed() bool { return r.Kind == KindFatal }
