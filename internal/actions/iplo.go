// SPDX-License-Identifier: Apache-2.0

package actions

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/action"
	"github.com/beleidsscan/workflow-engine/internal/backoff"
	"github.com/beleidsscan/workflow-engine/internal/domain"
)

const iploAttempts = 3

var iploBackoff backoff.Strategy = backoff.Exponential{Base: 500 * time.Millisecond, Max: 5 * time.Second, Jitter: true}

type iploSearchResponse struct {
	Results []struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		URL         string `json:"url"`
		Summary     string `json:"summary"`
		PublishedAt string `json:"publishedAt"`
		Thema       string `json:"thema"`
	} `json:"results"`
}

// searchIPLO queries the IPLO search API. Transient failures (network,
// 429, 5xx) are retried up to iploAttempts times. IPLO is an optional
// source, so any failure left after that ends the step with an Empty
// result carrying metadata.iploError.
func (s *set) searchIPLO(ctx context.Context, params map[string]any, runID uuid.UUID) action.Result {
	query := action.StringParam(params, "query")
	if query == "" {
		s.runs.Log(ctx, runID, "IPLO search skipped: no subject", domain.LogInfo, nil)
		return action.Empty("no subject to search for", nil)
	}

	q := url.Values{}
	q.Set("q", query)
	if thema := action.StringParam(params, "thema"); thema != "" {
		q.Set("thema", thema)
	}
	body, attempts, err := s.fetchIPLO(ctx, s.iploURL+"?"+q.Encode())
	if err != nil {
		if ctx.Err() != nil {
			return action.Fatal(ctx.Err())
		}
		s.runs.Log(ctx, runID, "IPLO search failed", domain.LogWarn, map[string]any{"error": err.Error(), "attempts": attempts})
		return action.Empty("IPLO search failed", map[string]any{
			"metadata": map[string]any{"iploError": err.Error(), "iploAttempts": attempts},
		})
	}

	var resp iploSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		s.runs.Log(ctx, runID, "IPLO returned an unreadable response", domain.LogWarn, map[string]any{"error": err.Error()})
		return action.Empty("IPLO returned an unreadable response", nil)
	}

	docs := make([]domain.CanonicalDocument, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.URL == "" {
			continue
		}
		doc := domain.CanonicalDocument{
			ID:      firstNonEmpty(r.ID, domain.DocumentID(r.URL)),
			Title:   firstNonEmpty(r.Title, r.URL),
			URL:     r.URL,
			Source:  domain.SourceIPLO,
			Summary: r.Summary,
		}
		if t, err := time.Parse(time.RFC3339, r.PublishedAt); err == nil {
			doc.PublishedAt = &t
		}
		if r.Thema != "" {
			doc.Metadata = map[string]any{"thema": r.Thema}
		}
		docs = append(docs, doc)
	}

	s.runs.Log(ctx, runID, "IPLO searched", domain.LogInfo, map[string]any{"query": query, "documents": len(docs)})

	existing := domain.DocumentsFromContext(params[KeyCanonicalDocuments])
	data := map[string]any{
		KeyRawDocuments:       rawDocuments(params, domain.SourceIPLO, docs),
		KeyCanonicalDocuments: domain.DocumentsToContext(mergeDocuments(existing, docs)),
	}
	if len(docs) == 0 {
		return action.Empty("no IPLO documents found", data)
	}
	return action.Ok(data)
}

// fetchIPLO retries transient failures and reports how many requests it made.
func (s *set) fetchIPLO(ctx context.Context, target string) ([]byte, int, error) {
	headers := map[string]string{"Accept": "application/json"}
	for attempt := 1; ; attempt++ {
		body, err := s.get(ctx, "IPLO", target, headers)
		if err == nil || !isTransient(err) || attempt >= iploAttempts {
			return body, attempt, err
		}
		s.logger.Warn("IPLO request failed, retrying", "attempt", attempt, "error", err)
		if waitErr := backoff.Wait(ctx, iploBackoff, attempt); waitErr != nil {
			return nil, attempt, err
		}
	}
}
