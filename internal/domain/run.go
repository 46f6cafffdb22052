// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// AllRunStatuses lists every status in lifecycle order.
var AllRunStatuses = []RunStatus{
	RunPending,
	RunRunning,
	RunPaused,
	RunCompleted,
	RunFailed,
	RunCancelled,
}

// Terminal reports whether no further status change is allowed.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

func (s RunStatus) Valid() bool {
	for _, st := range AllRunStatuses {
		if st == s {
			return true
		}
	}
	return false
}

var allowedTransitions = map[RunStatus][]RunStatus{
	RunPending: {RunRunning, RunPaused, RunCancelled, RunFailed},
	RunRunning: {RunPaused, RunCompleted, RunFailed, RunCancelled},
	RunPaused:  {RunRunning, RunCancelled, RunFailed},
}

// CanTransition reports whether a run may move from one status to another.
// Status only moves forward, except for the running/paused cycle.
func CanTransition(from, to RunStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Run is one execution of a workflow definition.
type Run struct {
	ID             uuid.UUID      `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	Status         RunStatus      `json:"status"`
	Params         map[string]any `json:"params"`
	// CompletedSteps lists executed step ids in execution order. It is kept
	// out of Params so that restoring a checkpoint cannot touch it.
	CompletedSteps []string       `json:"completed_steps"`
	PauseRequested bool           `json:"pause_requested"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
	Error          string         `json:"error,omitempty"`
	WebhookURL     string         `json:"webhook_url,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// StepDone reports whether stepID is recorded as executed.
func (r *Run) StepDone(stepID string) bool {
	for _, id := range r.CompletedSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// RewindSteps removes stepID and every step recorded after it from
// completed. It returns the steps that remain and the ones removed; when
// stepID was never completed nothing is removed.
func RewindSteps(completed []string, stepID string) (kept, removed []string) {
	for i, id := range completed {
		if id == stepID {
			return append([]string(nil), completed[:i]...), append([]string(nil), completed[i:]...)
		}
	}
	return append([]string(nil), completed...), nil
}

type CreateRunParams struct {
	WorkflowID string
	Params     map[string]any
	WebhookURL string
}

// StatusUpdate is a conditional status change. The update applies only
// when the stored status is one of From.
type StatusUpdate struct {
	From    []RunStatus
	To      RunStatus
	Error   string
	EndTime *time.Time
	// ClearPause resets PauseRequested together with the status change.
	ClearPause bool
}

func (u StatusUpdate) Matches(current RunStatus) bool {
	for _, st := range u.From {
		if st == current {
			return true
		}
	}
	return false
}
