// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/beleidsscan/workflow-engine/internal/config"
	"github.com/beleidsscan/workflow-engine/internal/domain"
	"github.com/beleidsscan/workflow-engine/internal/engine"
)

const graphOnlyYAML = `
id: graph-only
name: Graph only
steps:
  - id: kg
    action: populate_knowledge_graph
    params:
      - from: canonicalDocuments
        to: documents
`

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Load()
	cfg.Env = "dev"
	cfg.StoreBackend = config.StoreMemory
	cfg.KnowledgeGraph.Backend = "none"
	cfg.ObjectStore.Enabled = false
	cfg.WorkflowsDir = ""
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewWiresMemoryBackend(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "graph.yaml"), []byte(graphOnlyYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := memoryConfig(t)
	cfg.WorkflowsDir = dir

	a, err := New(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close(context.Background())

	if got := len(a.Workflows.List()); got != 3 {
		t.Fatalf("expected 2 built-in + 1 loaded workflow, got %d", got)
	}
	if got := len(a.Engine.Actions().IDs()); got != 6 {
		t.Fatalf("expected 6 registered actions, got %d", got)
	}
	if a.Graph.Name() != "none" {
		t.Fatalf("expected disabled graph, got %s", a.Graph.Name())
	}
	if err := a.Health.Check(context.Background()); err != nil {
		t.Fatalf("memory health: %v", err)
	}

	ctx := context.Background()
	run, err := a.Runs.CreateRun(ctx, domain.CreateRunParams{WorkflowID: "graph-only"})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	status, err := a.Engine.Execute(ctx, engine.ByID("graph-only"), nil, run.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if status != domain.RunCompleted {
		t.Fatalf("expected completed, got %s", status)
	}
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.StoreBackend = "sqlite"
	if _, err := New(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected unknown store backend error")
	}

	cfg = memoryConfig(t)
	cfg.KnowledgeGraph.Backend = "rdf4j"
	if _, err := New(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected unknown knowledge graph backend error")
	}
}

func TestNewRejectsInvalidWorkflowDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("id: x\nsteps: []\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := memoryConfig(t)
	cfg.WorkflowsDir = dir

	if _, err := New(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected workflow load error")
	}
}
