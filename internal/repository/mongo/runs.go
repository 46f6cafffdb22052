// SPDX-License-Identifier: Apache-2.0

package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/beleidsscan/workflow-engine/internal/domain"
)

func (s *Store) InsertRun(ctx context.Context, run domain.Run) error {
	m, err := toRunModel(run)
	if err != nil {
		return err
	}
	if _, err := s.db.Collection(colRuns).InsertOne(ctx, m); err != nil {
		s.logger.Error("insert run failed", "run_id", run.ID, "error", err)
		return fmt.Errorf("insert run: %w", err)
	}
	s.logger.Info("run created", "run_id", run.ID, "workflow_id", run.WorkflowID)
	return nil
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	var m runModel
	err := s.db.Collection(colRuns).FindOne(ctx, bson.M{"_id": id.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrRunNotFound
		}
		s.logger.Error("get run failed", "run_id", id, "error", err)
		return nil, fmt.Errorf("get run: %w", err)
	}
	return fromRunModel(&m)
}

func (s *Store) ReplaceParams(ctx context.Context, id uuid.UUID, params map[string]any) error {
	raw, err := encodeContext(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	res, err := s.db.Collection(colRuns).UpdateOne(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"params": raw, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		s.logger.Error("update run params failed", "run_id", id, "error", err)
		return fmt.Errorf("update run params: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (s *Store) SaveProgress(ctx context.Context, id uuid.UUID, params map[string]any, completed []string) error {
	raw, err := encodeContext(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if completed == nil {
		completed = []string{}
	}

	res, err := s.db.Collection(colRuns).UpdateOne(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{
			"params":          raw,
			"completed_steps": completed,
			"updated_at":      time.Now().UTC(),
		}},
	)
	if err != nil {
		s.logger.Error("save run progress failed", "run_id", id, "error", err)
		return fmt.Errorf("save run progress: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (s *Store) TransitionStatus(ctx context.Context, id uuid.UUID, upd domain.StatusUpdate) (*domain.Run, bool, error) {
	set := bson.M{
		"status":     string(upd.To),
		"error":      upd.Error,
		"updated_at": time.Now().UTC(),
	}
	if upd.EndTime != nil {
		set["end_time"] = upd.EndTime.UTC()
	}
	if upd.ClearPause {
		set["pause_requested"] = false
	}

	filter := bson.M{
		"_id":    id.String(),
		"status": bson.M{"$in": statusStrings(upd.From)},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m runModel
	err := s.db.Collection(colRuns).FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&m)
	if err == nil {
		run, convErr := fromRunModel(&m)
		if convErr != nil {
			return nil, false, convErr
		}
		s.logger.Info("run status updated", "run_id", id, "status", upd.To)
		return run, true, nil
	}
	if !isNoDocuments(err) {
		s.logger.Error("update run status failed", "run_id", id, "status", upd.To, "error", err)
		return nil, false, fmt.Errorf("update run status: %w", err)
	}

	current, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *Store) SetPauseRequested(ctx context.Context, id uuid.UUID, requested bool, when domain.RunStatus) (bool, error) {
	res, err := s.db.Collection(colRuns).UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": string(when)},
		bson.M{"$set": bson.M{"pause_requested": requested, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		s.logger.Error("set pause request failed", "run_id", id, "error", err)
		return false, fmt.Errorf("set pause request: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (s *Store) ListRunsByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]domain.Run, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(colRuns).Find(ctx, bson.M{"status": string(status)}, findOpts)
	if err != nil {
		s.logger.Error("list runs failed", "status", status, "error", err)
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []runModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("list runs decode: %w", err)
	}

	out := make([]domain.Run, 0, len(models))
	for i := range models {
		run, err := fromRunModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, nil
}

func statusStrings(in []domain.RunStatus) []string {
	out := make([]string, len(in))
	for i, st := range in {
		out[i] = string(st)
	}
	return out
}
