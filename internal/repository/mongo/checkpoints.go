// SPDX-License-Identifier: Apache-2.0

package mongo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/beleidsscan/workflow-engine/internal/domain"
)

// SaveCheckpoint upserts on (run_id, step_id) so a retried step replaces
// its previous snapshot.
func (s *Store) SaveCheckpoint(ctx context.Context, cp domain.StepCheckpoint) error {
	raw, err := encodeContext(cp.Context)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	filter := bson.M{"run_id": cp.RunID.String(), "step_id": cp.StepID}
	update := bson.M{"$set": bson.M{"context": raw, "timestamp": cp.Timestamp}}

	_, err = s.db.Collection(colCheckpoints).UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		s.logger.Error("save checkpoint failed", "run_id", cp.RunID, "step_id", cp.StepID, "error", err)
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *Store) GetCheckpoint(ctx context.Context, runID uuid.UUID, stepID string) (*domain.StepCheckpoint, error) {
	var m checkpointModel
	err := s.db.Collection(colCheckpoints).FindOne(ctx, bson.M{
		"run_id":  runID.String(),
		"step_id": stepID,
	}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		s.logger.Error("get checkpoint failed", "run_id", runID, "step_id", stepID, "error", err)
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	snapshot, err := decodeContext(m.Context)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &domain.StepCheckpoint{
		RunID:     runID,
		StepID:    m.StepID,
		Context:   snapshot,
		Timestamp: m.Timestamp.UTC(),
	}, nil
}
