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
	"github.com/beleidsscan/workflow-engine/internal/etl"
	"github.com/beleidsscan/workflow-engine/internal/objectstore"
)

// buildJobRequest assembles the etl-job@v1 request for a run.
func (s *set) buildJobRequest(params map[string]any, runID uuid.UUID, docs []domain.CanonicalDocument) etl.JobRequest {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	includeChunks, _ := params["includeChunks"].(bool)
	prefix := fmt.Sprintf("etl/%s/", runID)

	return etl.JobRequest{
		SchemaVersion: etl.JobSchemaVersion,
		RunID:         runID.String(),
		CreatedAt:     s.now().UTC().Format(time.RFC3339),
		Input: etl.JobInput{
			DocumentIDs:       ids,
			IncludeChunks:     includeChunks,
			IncludeExtensions: etl.ExtensionFlags{Geo: true, Legal: true, Web: true},
			GeoSource:         firstNonEmpty(action.StringParam(params, "geoSource"), s.etl.GeoSource),
		},
		Models: etl.JobModels{
			NLPModelID:        s.etl.NLPModelID,
			RDFMappingVersion: s.etl.RDFMappingVersion,
		},
		Output: etl.JobOutput{
			Format:              etl.FormatTurtle,
			ArtifactStorePrefix: &prefix,
			ManifestName:        "manifest.json",
		},
	}
}

func (s *set) queueETLJob(ctx context.Context, params map[string]any, runID uuid.UUID) action.Result {
	docs := domain.DocumentsFromContext(params["documents"])
	if len(docs) == 0 {
		return action.Empty("no documents to process", nil)
	}

	req := s.buildJobRequest(params, runID, docs)
	if err := req.Validate(); err != nil {
		return action.Fatal(action.BadRequest("etlJob", "%v", err))
	}
	body, err := json.Marshal(req)
	if err != nil {
		return action.Fatal(fmt.Errorf("encode etl job: %w", err))
	}

	uri, err := s.store.Put(ctx, fmt.Sprintf("etl/jobs/%s.json", runID), "application/json", body)
	if errors.Is(err, objectstore.ErrDisabled) {
		s.runs.Log(ctx, runID, "ETL job not queued: object storage disabled", domain.LogInfo, nil)
		return action.Empty("object storage disabled", nil)
	}
	if err != nil {
		return action.Fatal(fmt.Errorf("store etl job: %w", err))
	}

	s.runs.Log(ctx, runID, "ETL job queued", domain.LogInfo, map[string]any{"uri": uri, "documents": len(docs)})
	return action.Ok(map[string]any{
		KeyETLJob: map[string]any{
			"uri":           uri,
			"schemaVersion": req.SchemaVersion,
			"documents":     len(docs),
			"outputPrefix":  *req.Output.ArtifactStorePrefix,
			"nlpModelId":    req.Models.NLPModelID,
		},
	})
}
