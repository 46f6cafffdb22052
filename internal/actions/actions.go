// SPDX-License-Identifier: Apache-2.0

// Package actions implements the units of work the built-in workflows are
// made of: scanning websites, DSO and IPLO lookups, knowledge graph
// population, exports and the ETL hand-off.
package actions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/action"
	"github.com/beleidsscan/workflow-engine/internal/domain"
	"github.com/beleidsscan/workflow-engine/internal/knowledgegraph"
	"github.com/beleidsscan/workflow-engine/internal/objectstore"
	"github.com/beleidsscan/workflow-engine/internal/workflow"
)

// Context keys written by the actions.
const (
	KeyRawDocuments       = "rawDocumentsBySource"
	KeyCanonicalDocuments = "canonicalDocuments"
	KeyQueryID            = "queryId"
	KeyGeometry           = "geometry"
	KeyKnowledgeGraph     = "knowledgeGraph"
	KeyExport             = "export"
	KeyETLJob             = "etlJob"
)

const userAgent = "beleidsscan-workflow-engine/1.0"

type DSOConfig struct {
	BaseURL string
	APIKey  string
}

type ETLConfig struct {
	NLPModelID        string
	RDFMappingVersion string
	GeoSource         string
}

type Deps struct {
	// Runs receives per-run diagnostics.
	Runs            action.RunLogger
	HTTPClient      *http.Client
	DSO             DSOConfig
	IPLOURL         string
	ScanConcurrency int
	KnowledgeGraph  knowledgegraph.Backend
	ObjectStore     objectstore.Store
	ETL             ETLConfig
	Logger          *slog.Logger
	Now             func() time.Time
}

type set struct {
	runs        action.RunLogger
	client      *http.Client
	dso         DSOConfig
	iploURL     string
	concurrency int
	graph       knowledgegraph.Backend
	store       objectstore.Store
	etl         ETLConfig
	logger      *slog.Logger
	now         func() time.Time
}

type nopLogger struct{}

func (nopLogger) Log(context.Context, uuid.UUID, string, domain.LogLevel, map[string]any) {}

func newSet(deps Deps) *set {
	s := &set{
		runs:        deps.Runs,
		client:      deps.HTTPClient,
		dso:         deps.DSO,
		iploURL:     deps.IPLOURL,
		concurrency: deps.ScanConcurrency,
		graph:       deps.KnowledgeGraph,
		store:       deps.ObjectStore,
		etl:         deps.ETL,
		logger:      deps.Logger,
		now:         deps.Now,
	}
	if s.runs == nil {
		s.runs = nopLogger{}
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 30 * time.Second}
	}
	if s.concurrency <= 0 {
		s.concurrency = 4
	}
	if s.graph == nil {
		s.graph = knowledgegraph.Disabled{}
	}
	if s.store == nil {
		s.store = objectstore.Disabled{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.etl.GeoSource == "" {
		s.etl.GeoSource = "mongo"
	}
	return s
}

// RegisterAll registers every action with its owned context keys.
func RegisterAll(reg *action.Registry, deps Deps) error {
	s := newSet(deps)
	regs := []struct {
		id    string
		h     action.Handler
		desc  string
		owned []string
	}{
		{workflow.ActionScanKnownSources, s.scanKnownSources, "Scan the selected websites for policy documents",
			[]string{KeyRawDocuments, KeyCanonicalDocuments, KeyQueryID}},
		{workflow.ActionSearchDSOGeometry, s.searchDSOGeometry, "Resolve the DSO geometry for an identificatie",
			[]string{KeyRawDocuments, KeyGeometry}},
		{workflow.ActionSearchIPLO, s.searchIPLO, "Search IPLO for documents on the subject",
			[]string{KeyRawDocuments, KeyCanonicalDocuments}},
		{workflow.ActionPopulateKnowledgeGraph, s.populateKnowledgeGraph, "Upsert canonical documents into the knowledge graph",
			[]string{KeyKnowledgeGraph}},
		{workflow.ActionExportDocuments, s.exportDocuments, "Export canonical documents to object storage",
			[]string{KeyExport}},
		{workflow.ActionQueueETLJob, s.queueETLJob, "Hand canonical documents to the ETL runtime",
			[]string{KeyETLJob}},
	}
	for _, r := range regs {
		if err := reg.Register(r.id, r.h, action.WithDescription(r.desc), action.WithOwnedKeys(r.owned...)); err != nil {
			return fmt.Errorf("register %s: %w", r.id, err)
		}
	}
	return nil
}

// upstreamError is a non-2xx answer from an external API.
type upstreamError struct {
	Service string
	Status  int
	Body    string
}

func (e *upstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, e.Body)
}

// transient reports whether retrying the call may succeed.
func (e *upstreamError) transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func isTransient(err error) bool {
	var up *upstreamError
	if errors.As(err, &up) {
		return up.transient()
	}
	// Network errors and timeouts.
	return err != nil
}

// get issues a GET and returns the body of a 2xx response.
func (s *set) get(ctx context.Context, service, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", service, err)
	}
	if resp.StatusCode/100 != 2 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &upstreamError{Service: service, Status: resp.StatusCode, Body: snippet}
	}
	return body, nil
}

// rawDocuments returns a copy of the rawDocumentsBySource map with source
// replaced. The whole object is rewritten so other sources survive.
func rawDocuments(params map[string]any, source string, docs []domain.CanonicalDocument) map[string]any {
	out := map[string]any{}
	if existing, ok := action.MapParam(params, KeyRawDocuments); ok {
		for k, v := range existing {
			out[k] = v
		}
	}
	out[source] = domain.DocumentsToContext(docs)
	return out
}

// mergeDocuments appends docs to existing, dropping ids already present.
func mergeDocuments(existing, docs []domain.CanonicalDocument) []domain.CanonicalDocument {
	seen := make(map[string]struct{}, len(existing)+len(docs))
	out := make([]domain.CanonicalDocument, 0, len(existing)+len(docs))
	for _, list := range [][]domain.CanonicalDocument{existing, docs} {
		for _, d := range list {
			if _, dup := seen[d.ID]; dup {
				continue
			}
			seen[d.ID] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}
