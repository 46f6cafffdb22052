// SPDX-License-Identifier: Apache-2.0

package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/action"
	"github.com/beleidsscan/workflow-engine/internal/domain"
	"github.com/beleidsscan/workflow-engine/internal/objectstore"
)

type exportFile struct {
	RunID      string                     `json:"runId"`
	QueryID    string                     `json:"queryId,omitempty"`
	ExportedAt string                     `json:"exportedAt"`
	Count      int                        `json:"count"`
	Documents  []domain.CanonicalDocument `json:"documents"`
}

func (s *set) exportDocuments(ctx context.Context, params map[string]any, runID uuid.UUID) action.Result {
	format := firstNonEmpty(action.StringParam(params, "format"), "json")
	if format != "json" {
		return action.Fatal(action.BadRequest("format", "unsupported export format %q", format))
	}

	docs := domain.DocumentsFromContext(params["documents"])
	if len(docs) == 0 {
		return action.Empty("no documents to export", nil)
	}

	file := exportFile{
		RunID:      runID.String(),
		QueryID:    action.StringParam(params, "queryId"),
		ExportedAt: s.now().UTC().Format(time.RFC3339),
		Count:      len(docs),
		Documents:  docs,
	}
	body, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return action.Fatal(fmt.Errorf("encode export: %w", err))
	}

	key := fmt.Sprintf("exports/%s/documents.json", runID)
	uri, err := s.store.Put(ctx, key, "application/json", body)
	if errors.Is(err, objectstore.ErrDisabled) {
		s.runs.Log(ctx, runID, "export skipped: object storage disabled", domain.LogInfo, nil)
		return action.Empty("object storage disabled", nil)
	}
	if err != nil {
		return action.Fatal(fmt.Errorf("store export: %w", err))
	}

	s.runs.Log(ctx, runID, "documents exported", domain.LogInfo, map[string]any{"uri": uri, "documents": len(docs)})
	return action.Ok(map[string]any{
		KeyExport: map[string]any{
			"uri":       uri,
			"format":    format,
			"documents": len(docs),
		},
	})
}
