// SPDX-License-Identifier: Apache-2.0

// Package app wires the engine, its stores and the action sinks from
// configuration. The api and worker binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/beleidsscan/workflow-engine/internal/actions"
	"github.com/beleidsscan/workflow-engine/internal/checkpoint"
	"github.com/beleidsscan/workflow-engine/internal/config"
	"github.com/beleidsscan/workflow-engine/internal/engine"
	"github.com/beleidsscan/workflow-engine/internal/knowledgegraph"
	"github.com/beleidsscan/workflow-engine/internal/objectstore"
	"github.com/beleidsscan/workflow-engine/internal/persistence/postgres"
	"github.com/beleidsscan/workflow-engine/internal/repository"
	"github.com/beleidsscan/workflow-engine/internal/repository/memory"
	"github.com/beleidsscan/workflow-engine/internal/repository/mongo"
	"github.com/beleidsscan/workflow-engine/internal/rollback"
	"github.com/beleidsscan/workflow-engine/internal/runmanager"
	"github.com/beleidsscan/workflow-engine/internal/workflow"
)

// HealthFunc adapts a readiness probe to the HTTP health checker.
type HealthFunc func(ctx context.Context) error

func (f HealthFunc) Check(ctx context.Context) error { return f(ctx) }

type App struct {
	Store       repository.Store
	Runs        *runmanager.Manager
	Checkpoints *checkpoint.Service
	Rollback    *rollback.Service
	Workflows   *workflow.Registry
	Engine      *engine.Engine
	Health      HealthFunc
	Graph       knowledgegraph.Backend

	closers []func(context.Context) error
	logger  *slog.Logger
}

// New builds the application. On error everything opened so far is closed.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	if err := a.openStore(ctx, cfg); err != nil {
		return nil, err
	}

	a.Runs = runmanager.New(a.Store, logger)
	a.Checkpoints = checkpoint.New(a.Store, logger)
	a.Rollback = rollback.New(a.Runs, a.Checkpoints, logger)

	a.Workflows = workflow.NewDefaultRegistry()
	if cfg.WorkflowsDir != "" {
		n, err := a.Workflows.LoadDir(cfg.WorkflowsDir)
		if err != nil {
			return nil, fmt.Errorf("load workflows: %w", err)
		}
		logger.Info("workflows loaded", "dir", cfg.WorkflowsDir, "count", n)
	}

	a.Engine = engine.New(engine.Deps{
		Runs:               a.Runs,
		Checkpoints:        a.Checkpoints,
		Rollback:           a.Rollback,
		Workflows:          a.Workflows,
		Logger:             logger,
		DefaultStepTimeout: cfg.DefaultStepTimeout,
	})

	httpClient := &http.Client{Timeout: 30 * time.Second}

	a.Graph, err = knowledgegraph.New(ctx, cfg.KnowledgeGraph, httpClient, logger)
	if err != nil {
		return nil, fmt.Errorf("knowledge graph: %w", err)
	}
	a.closers = append(a.closers, a.Graph.Close)

	store, err := openObjectStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}

	err = actions.RegisterAll(a.Engine.Actions(), actions.Deps{
		Runs:            a.Runs,
		HTTPClient:      httpClient,
		DSO:             actions.DSOConfig{BaseURL: cfg.DSOAPIURL, APIKey: cfg.DSOAPIKey},
		IPLOURL:         cfg.IPLOAPIURL,
		ScanConcurrency: cfg.ScanConcurrency,
		KnowledgeGraph:  a.Graph,
		ObjectStore:     store,
		ETL: actions.ETLConfig{
			NLPModelID:        cfg.ETL.NLPModelID,
			RDFMappingVersion: cfg.ETL.RDFMappingVersion,
			GeoSource:         cfg.ETL.GeoSource,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("engine ready",
		"store", cfg.StoreBackend,
		"knowledge_graph", a.Graph.Name(),
		"workflows", len(a.Workflows.List()),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.Config) error {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		a.Store = memory.New()
		a.Health = func(context.Context) error { return nil }
		return nil

	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{
			Runners:          cfg.WorkerBatchSize,
			MaxConns:         int32(cfg.DBPool.MaxConns),
			MinConns:         int32(cfg.DBPool.MinConns),
			MaxConnLifetime:  cfg.DBPool.MaxConnLifetime,
			MaxConnIdleTime:  cfg.DBPool.MaxConnIdleTime,
			StatementTimeout: cfg.DBPool.StatementTimeout,
		})
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			pool.Close()
			return nil
		})
		if cfg.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, pool, a.logger); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
		}
		a.Store = repository.NewPostgresStore(pool, a.logger)
		a.Health = postgres.NewSchemaHealthChecker(pool).Check
		return nil

	case config.StoreMongo:
		client, err := mongo.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Disconnect)
		store := mongo.New(client.Database(cfg.MongoDatabase), a.logger)
		if cfg.AutoMigrate {
			if err := store.EnsureIndexes(ctx); err != nil {
				return fmt.Errorf("ensure indexes: %w", err)
			}
		}
		a.Store = store
		a.Health = func(ctx context.Context) error { return client.Ping(ctx, nil) }
		return nil

	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// openObjectStore falls back to an in-process bucket in dev so exports can
// be exercised without MinIO.
func openObjectStore(ctx context.Context, cfg config.Config) (objectstore.Store, error) {
	oc := cfg.ObjectStore
	if oc.Enabled {
		return objectstore.NewMinIO(ctx, objectstore.Config{
			Endpoint:  oc.Endpoint,
			AccessKey: oc.AccessKey,
			SecretKey: oc.SecretKey,
			Region:    oc.Region,
			UseSSL:    oc.UseSSL,
			Bucket:    oc.Bucket,
		})
	}
	if cfg.Env == "dev" {
		return objectstore.NewMemory(oc.Bucket), nil
	}
	return objectstore.Disabled{}, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
