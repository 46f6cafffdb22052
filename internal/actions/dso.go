// SPDX-License-Identifier: Apache-2.0

package actions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/action"
	"github.com/beleidsscan/workflow-engine/internal/domain"
)

type dsoGeometryResponse struct {
	Identificatie string         `json:"identificatie"`
	Naam          string         `json:"naam"`
	Geometrie     map[string]any `json:"geometrie"`
	Links         struct {
		Self struct {
			Href string `json:"href"`
		} `json:"self"`
	} `json:"_links"`
}

func (s *set) searchDSOGeometry(ctx context.Context, params map[string]any, runID uuid.UUID) action.Result {
	if strings.TrimSpace(s.dso.APIKey) == "" {
		return action.Fatal(&action.ConfigurationError{Setting: "DSO_API_KEY"})
	}
	identificatie, err := action.RequireString(params, "identificatie")
	if err != nil {
		return action.Fatal(err)
	}

	endpoint := strings.TrimRight(s.dso.BaseURL, "/") + "/geometrieen/" + url.PathEscape(identificatie)
	body, err := s.get(ctx, "DSO", endpoint, map[string]string{
		"X-Api-Key": s.dso.APIKey,
		"Accept":    "application/hal+json, application/json",
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return action.Fatal(ctxErr)
		}
		var up *upstreamError
		if errors.As(err, &up) && up.Status == http.StatusNotFound {
			s.runs.Log(ctx, runID, "DSO geometry not found", domain.LogInfo, map[string]any{"identificatie": identificatie})
			return action.Empty("geometry not found", map[string]any{KeyGeometry: nil})
		}
		s.runs.Log(ctx, runID, "DSO geometry lookup failed", domain.LogWarn, map[string]any{
			"identificatie": identificatie,
			"error":         err.Error(),
		})
		return action.Empty("DSO lookup failed", map[string]any{
			KeyGeometry: nil,
			"metadata":  map[string]any{"dsoError": err.Error()},
		})
	}

	var resp dsoGeometryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return action.Empty("DSO returned an unreadable response", map[string]any{
			KeyGeometry: nil,
			"metadata":  map[string]any{"dsoError": "decode response: " + err.Error()},
		})
	}
	if resp.Geometrie == nil {
		return action.Empty("geometry not found", map[string]any{KeyGeometry: nil})
	}

	docURL := firstNonEmpty(resp.Links.Self.Href, endpoint)
	doc := domain.CanonicalDocument{
		ID:     firstNonEmpty(resp.Identificatie, identificatie),
		Title:  firstNonEmpty(resp.Naam, identificatie),
		URL:    docURL,
		Source: domain.SourceDSO,
	}
	return action.Ok(map[string]any{
		KeyGeometry:     resp.Geometrie,
		KeyRawDocuments: rawDocuments(params, domain.SourceDSO, []domain.CanonicalDocument{doc}),
	})
}
