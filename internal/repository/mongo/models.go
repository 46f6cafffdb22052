// SPDX-License-Identifier: Apache-2.0

package mongo

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/domain"
)

type runModel struct {
	ID             string     `bson:"_id"`
	WorkflowID     string     `bson:"workflow_id"`
	Status         string     `bson:"status"`
	Params         []byte     `bson:"params"`
	CompletedSteps []string   `bson:"completed_steps"`
	PauseRequested bool       `bson:"pause_requested"`
	StartTime      time.Time  `bson:"start_time"`
	EndTime        *time.Time `bson:"end_time,omitempty"`
	Error          string     `bson:"error,omitempty"`
	WebhookURL     string     `bson:"webhook_url,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

func toRunModel(r domain.Run) (*runModel, error) {
	params, err := encodeContext(r.Params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return &runModel{
		ID:             r.ID.String(),
		WorkflowID:     r.WorkflowID,
		Status:         string(r.Status),
		Params:         params,
		CompletedSteps: r.CompletedSteps,
		PauseRequested: r.PauseRequested,
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
		Error:          r.Error,
		WebhookURL:     r.WebhookURL,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

func fromRunModel(m *runModel) (*domain.Run, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", m.ID, err)
	}
	params, err := decodeContext(m.Params)
	if err != nil {
		return nil, fmt.Errorf("decode params of run %s: %w", m.ID, err)
	}
	run := &domain.Run{
		ID:             id,
		WorkflowID:     m.WorkflowID,
		Status:         domain.RunStatus(m.Status),
		Params:         params,
		CompletedSteps: append([]string{}, m.CompletedSteps...),
		PauseRequested: m.PauseRequested,
		StartTime:      m.StartTime.UTC(),
		Error:          m.Error,
		WebhookURL:     m.WebhookURL,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
	if m.EndTime != nil {
		end := m.EndTime.UTC()
		run.EndTime = &end
	}
	return run, nil
}

type logModel struct {
	RunID     string    `bson:"run_id"`
	Seq       int64     `bson:"seq"`
	Timestamp time.Time `bson:"timestamp"`
	Level     string    `bson:"level"`
	Message   string    `bson:"message"`
	Detail    []byte    `bson:"detail,omitempty"`
}

type checkpointModel struct {
	RunID     string    `bson:"run_id"`
	StepID    string    `bson:"step_id"`
	Context   []byte    `bson:"context"`
	Timestamp time.Time `bson:"timestamp"`
}

type counterModel struct {
	ID  string `bson:"_id"`
	Seq int64  `bson:"seq"`
}
