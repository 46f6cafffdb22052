// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepCheckpoint is the run context captured immediately before a step ran.
type StepCheckpoint struct {
	RunID     uuid.UUID      `json:"run_id"`
	StepID    string         `json:"step_id"`
	Context   map[string]any `json:"context"`
	Timestamp time.Time      `json:"timestamp"`
}
