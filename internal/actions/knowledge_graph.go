// SPDX-License-Identifier: Apache-2.0

package actions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/action"
	"github.com/beleidsscan/workflow-engine/internal/domain"
	"github.com/beleidsscan/workflow-engine/internal/knowledgegraph"
)

// populateKnowledgeGraph never fails the step: backend errors are recorded
// under knowledgeGraph.error.
func (s *set) populateKnowledgeGraph(ctx context.Context, params map[string]any, runID uuid.UUID) action.Result {
	docs := domain.DocumentsFromContext(params["documents"])
	summary := map[string]any{
		"backend":   s.graph.Name(),
		"documents": 0,
	}
	if len(docs) == 0 {
		return action.Empty("no documents to populate", map[string]any{KeyKnowledgeGraph: summary})
	}

	n, err := s.graph.UpsertDocuments(ctx, docs)
	switch {
	case errors.Is(err, knowledgegraph.ErrDisabled):
		return action.Empty("knowledge graph disabled", map[string]any{KeyKnowledgeGraph: summary})
	case err != nil:
		if ctx.Err() != nil {
			return action.Fatal(ctx.Err())
		}
		s.logger.Warn("knowledge graph population failed", "run_id", runID, "backend", s.graph.Name(), "error", err)
		s.runs.Log(ctx, runID, "knowledge graph population failed", domain.LogWarn, map[string]any{
			"backend": s.graph.Name(),
			"error":   err.Error(),
		})
		summary["error"] = err.Error()
		return action.Empty("knowledge graph population failed", map[string]any{KeyKnowledgeGraph: summary})
	}

	summary["documents"] = n
	summary["populatedAt"] = s.now().UTC().Format(time.RFC3339)
	if q := action.StringParam(params, "queryId"); q != "" {
		summary["queryId"] = q
	}
	s.runs.Log(ctx, runID, "knowledge graph populated", domain.LogInfo, map[string]any{
		"backend":   s.graph.Name(),
		"documents": n,
	})
	return action.Ok(map[string]any{KeyKnowledgeGraph: summary})
}
