// SPDX-License-Identifier: Apache-2.0

package actions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/action"
	"github.com/beleidsscan/workflow-engine/internal/backoff"
	"github.com/beleidsscan/workflow-engine/internal/domain"
)

func TestSearchIPLO(t *testing.T) {
	var gotQuery, gotThema string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotThema = r.URL.Query().Get("thema")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"title":"Geluid en trillingen","url":"https://iplo.nl/thema/geluid","summary":"Regels","publishedAt":"2024-03-01T00:00:00Z","thema":"geluid"},
			{"id":"doc-1","title":"Dubbel","url":"https://gemeente.nl/geluid.pdf"},
			{"title":"zonder url"}
		]}`))
	}))
	defer srv.Close()

	s, _ := newTestSet(t, Deps{HTTPClient: srv.Client(), IPLOURL: srv.URL + "/zoeken"})
	params := map[string]any{
		"query":               "geluid",
		"thema":               "geluid",
		KeyCanonicalDocuments: sampleDocuments(),
	}
	res := s.searchIPLO(context.Background(), params, uuid.New())
	expectKind(t, res, action.KindOk)

	if gotQuery != "geluid" || gotThema != "geluid" {
		t.Fatalf("unexpected query q=%q thema=%q", gotQuery, gotThema)
	}

	merged := domain.DocumentsFromContext(res.Data[KeyCanonicalDocuments])
	if len(merged) != 3 {
		t.Fatalf("expected 2 existing plus 1 new document, got %+v", merged)
	}
	added := merged[2]
	if added.ID != domain.DocumentID("https://iplo.nl/thema/geluid") || added.Source != domain.SourceIPLO {
		t.Fatalf("unexpected iplo document %+v", added)
	}
	if added.PublishedAt == nil || added.PublishedAt.Year() != 2024 {
		t.Fatalf("expected published date, got %v", added.PublishedAt)
	}

	raw := res.Data[KeyRawDocuments].(map[string]any)
	if iplo := raw[domain.SourceIPLO].([]any); len(iplo) != 2 {
		t.Fatalf("expected 2 raw iplo documents, got %d", len(iplo))
	}
}

func quickIPLORetries(t *testing.T) {
	t.Helper()
	prev := iploBackoff
	iploBackoff = backoff.Constant{Interval: time.Millisecond}
	t.Cleanup(func() { iploBackoff = prev })
}

func TestSearchIPLODegradesAfterRetries(t *testing.T) {
	quickIPLORetries(t)

	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{"unavailable", http.StatusServiceUnavailable, iploAttempts},
		{"throttled", http.StatusTooManyRequests, iploAttempts},
		{"bad request is not retried", http.StatusBadRequest, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			s, runs := newTestSet(t, Deps{HTTPClient: srv.Client(), IPLOURL: srv.URL})
			res := s.searchIPLO(context.Background(), map[string]any{"query": "geluid"}, uuid.New())

			expectKind(t, res, action.KindEmpty)
			if got := calls.Load(); got != tt.wantCalls {
				t.Fatalf("expected %d requests, got %d", tt.wantCalls, got)
			}
			meta, _ := res.Data["metadata"].(map[string]any)
			if meta["iploError"] == nil || meta["iploAttempts"] != int(tt.wantCalls) {
				t.Fatalf("expected iploError metadata, got %#v", res.Data)
			}
			if e, ok := runs.find("IPLO search failed"); !ok || e.Level != domain.LogWarn {
				t.Fatalf("expected a warning in the run log, got %+v", e)
			}
		})
	}
}

func TestSearchIPLORecoversWithinRetryBudget(t *testing.T) {
	quickIPLORetries(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"title":"Bodem","url":"https://iplo.nl/thema/bodem"}]}`))
	}))
	defer srv.Close()

	s, _ := newTestSet(t, Deps{HTTPClient: srv.Client(), IPLOURL: srv.URL})
	res := s.searchIPLO(context.Background(), map[string]any{"query": "bodem"}, uuid.New())

	expectKind(t, res, action.KindOk)
	if calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d requests", calls.Load())
	}
}

func TestSearchIPLOCancelledContextIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, _ := newTestSet(t, Deps{HTTPClient: srv.Client(), IPLOURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	expectKind(t, s.searchIPLO(ctx, map[string]any{"query": "geluid"}, uuid.New()), action.KindFatal)
}

func TestSearchIPLOWithoutSubject(t *testing.T) {
	s, _ := newTestSet(t, Deps{})
	expectKind(t, s.searchIPLO(context.Background(), map[string]any{}, uuid.New()), action.KindEmpty)
}
