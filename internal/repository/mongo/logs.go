// SPDX-License-Identifier: Apache-2.0

package mongo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/beleidsscan/workflow-engine/internal/domain"
)

// nextSeq hands out store-wide monotonic log sequence numbers.
func (s *Store) nextSeq(ctx context.Context) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var c counterModel
	err := s.db.Collection(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": logSeqCounter},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&c)
	if err != nil {
		return 0, fmt.Errorf("next log seq: %w", err)
	}
	return c.Seq, nil
}

func (s *Store) AppendLog(ctx context.Context, entry domain.LogEntry) (int64, error) {
	seq, err := s.nextSeq(ctx)
	if err != nil {
		s.logger.Error("allocate log seq failed", "run_id", entry.RunID, "error", err)
		return 0, err
	}

	m := logModel{
		RunID:     entry.RunID.String(),
		Seq:       seq,
		Timestamp: entry.Timestamp,
		Level:     string(entry.Level),
		Message:   entry.Message,
	}
	if len(entry.Detail) > 0 {
		if m.Detail, err = json.Marshal(entry.Detail); err != nil {
			return 0, fmt.Errorf("encode log detail: %w", err)
		}
	}

	if _, err := s.db.Collection(colRunLogs).InsertOne(ctx, m); err != nil {
		s.logger.Error("insert run log failed", "run_id", entry.RunID, "error", err)
		return 0, fmt.Errorf("insert run log: %w", err)
	}
	return seq, nil
}

func (s *Store) ListLogs(ctx context.Context, runID uuid.UUID, afterSeq int64) ([]domain.LogEntry, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cursor, err := s.db.Collection(colRunLogs).Find(ctx,
		bson.M{"run_id": runID.String(), "seq": bson.M{"$gt": afterSeq}},
		findOpts,
	)
	if err != nil {
		s.logger.Error("list run logs failed", "run_id", runID, "error", err)
		return nil, fmt.Errorf("list run logs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []logModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("list run logs decode: %w", err)
	}

	out := make([]domain.LogEntry, 0, len(models))
	for _, m := range models {
		entry := domain.LogEntry{
			RunID:     runID,
			Seq:       m.Seq,
			Timestamp: m.Timestamp.UTC(),
			Level:     domain.LogLevel(m.Level),
			Message:   m.Message,
		}
		if len(m.Detail) > 0 {
			if err := json.Unmarshal(m.Detail, &entry.Detail); err != nil {
				return nil, fmt.Errorf("decode log detail: %w", err)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
