// SPDX-License-Identifier: Apache-2.0

package knowledgegraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/beleidsscan/workflow-engine/internal/domain"
)

const upsertDocumentsCypher = `
UNWIND $docs AS doc
MERGE (d:PolicyDocument {id: doc.id})
SET d.title = doc.title,
    d.url = doc.url,
    d.summary = doc.summary,
    d.updatedAt = datetime()
MERGE (s:Source {name: doc.source})
MERGE (d)-[:PUBLISHED_BY]->(s)
`

type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	Database string
}

// queryFunc runs one write query. The driver-backed implementation uses
// neo4j.ExecuteQuery.
type queryFunc func(ctx context.Context, cypher string, params map[string]any) error

type Neo4j struct {
	driver neo4j.DriverWithContext
	run    queryFunc
	logger *slog.Logger
}

func NewNeo4j(ctx context.Context, cfg Neo4jConfig, logger *slog.Logger) (*Neo4j, error) {
	if cfg.URI == "" {
		return nil, errors.New("neo4j uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(pingCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}

	db := cfg.Database
	n := &Neo4j{driver: driver, logger: logger}
	n.run = func(ctx context.Context, cypher string, params map[string]any) error {
		res, err := neo4j.ExecuteQuery(ctx, driver, cypher, params,
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(db),
		)
		if err != nil {
			return err
		}
		counters := res.Summary.Counters()
		logger.Debug("neo4j upsert",
			"nodes_created", counters.NodesCreated(),
			"relationships_created", counters.RelationshipsCreated(),
		)
		return nil
	}
	return n, nil
}

func (n *Neo4j) Name() string { return BackendNeo4j }

func (n *Neo4j) UpsertDocuments(ctx context.Context, docs []domain.CanonicalDocument) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	rows := make([]any, 0, len(docs))
	for _, d := range docs {
		source := d.Source
		if source == "" {
			source = "unknown"
		}
		rows = append(rows, map[string]any{
			"id":      d.ID,
			"title":   d.Title,
			"url":     d.URL,
			"summary": d.Summary,
			"source":  source,
		})
	}
	if err := n.run(ctx, upsertDocumentsCypher, map[string]any{"docs": rows}); err != nil {
		return 0, fmt.Errorf("neo4j upsert: %w", err)
	}
	return len(docs), nil
}

func (n *Neo4j) Close(ctx context.Context) error {
	if n.driver == nil {
		return nil
	}
	return n.driver.Close(ctx)
}
