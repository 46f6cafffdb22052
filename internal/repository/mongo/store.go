// SPDX-License-Identifier: Apache-2.0

// Package mongo stores runs, run logs and step checkpoints in MongoDB.
// Context maps are kept as JSON so that nested values read back as the
// same map[string]any / []any shapes the engine writes.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/beleidsscan/workflow-engine/internal/repository"
)

const (
	colRuns        = "runs"
	colRunLogs     = "run_logs"
	colCheckpoints = "step_checkpoints"
	colCounters    = "counters"

	logSeqCounter = "run_logs_seq"
)

var _ repository.Store = (*Store)(nil)

// Store works on a database handle owned by the caller.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

func New(db *mongod.Database, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Connect opens a client and verifies connectivity.
func Connect(ctx context.Context, uri string) (*mongod.Client, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the indexes the queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongod.IndexModel{
		colRuns: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colRunLogs: {
			{Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "seq", Value: 1}}},
		},
		colCheckpoints: {
			{
				Keys:    bson.D{{Key: "run_id", Value: 1}, {Key: "step_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}

	for col, models := range indexes {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", col, err)
		}
	}
	return nil
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

func encodeContext(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

func decodeContext(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
