// SPDX-License-Identifier: Apache-2.0

// Package knowledgegraph upserts canonical policy documents into the
// configured graph store.
package knowledgegraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/beleidsscan/workflow-engine/internal/config"
	"github.com/beleidsscan/workflow-engine/internal/domain"
)

const (
	BackendNeo4j   = "neo4j"
	BackendGraphDB = "graphdb"
	BackendNone    = "none"
)

var ErrDisabled = errors.New("knowledge graph backend disabled")

// Backend is the capability the populate step needs from a graph store.
type Backend interface {
	Name() string
	// UpsertDocuments writes the documents and returns how many were written.
	UpsertDocuments(ctx context.Context, docs []domain.CanonicalDocument) (int, error)
	Close(ctx context.Context) error
}

// New builds the backend selected in cfg. Connections are verified eagerly
// for neo4j; graphdb is checked on first write.
func New(ctx context.Context, cfg config.KnowledgeGraphConfig, httpClient *http.Client, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendNone:
		return Disabled{}, nil
	case BackendNeo4j:
		return NewNeo4j(ctx, Neo4jConfig{
			URI:      cfg.Neo4jURI,
			User:     cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		}, logger)
	case BackendGraphDB:
		return NewGraphDB(cfg.GraphDBURL, cfg.GraphDBRepository, httpClient, logger)
	default:
		return nil, fmt.Errorf("unknown knowledge graph backend %q", cfg.Backend)
	}
}

type Disabled struct{}

func (Disabled) Name() string { return BackendNone }

func (Disabled) UpsertDocuments(context.Context, []domain.CanonicalDocument) (int, error) {
	return 0, ErrDisabled
}

func (Disabled) Close(context.Context) error { return nil }
