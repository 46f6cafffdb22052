// SPDX-License-Identifier: Apache-2.0

package actions

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/action"
	"github.com/beleidsscan/workflow-engine/internal/domain"
)

type loggedEntry struct {
	Message string
	Level   domain.LogLevel
	Detail  map[string]any
}

type fakeRuns struct {
	mu      sync.Mutex
	entries []loggedEntry
}

func (f *fakeRuns) Log(_ context.Context, _ uuid.UUID, message string, level domain.LogLevel, detail map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, loggedEntry{Message: message, Level: level, Detail: detail})
}

func (f *fakeRuns) find(message string) (loggedEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.Message == message {
			return e, true
		}
	}
	return loggedEntry{}, false
}

func fixedNow() time.Time {
	return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
}

func newTestSet(t *testing.T, deps Deps) (*set, *fakeRuns) {
	t.Helper()
	runs := &fakeRuns{}
	deps.Runs = runs
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Now == nil {
		deps.Now = fixedNow
	}
	return newSet(deps), runs
}

func expectKind(t *testing.T, res action.Result, want action.Kind) {
	t.Helper()
	if res.Kind != want {
		t.Fatalf("expected %s result, got %s (reason=%q err=%v)", want, res.Kind, res.Reason, res.Err)
	}
}

func sampleDocuments() []any {
	return domain.DocumentsToContext([]domain.CanonicalDocument{
		{ID: "doc-1", Title: "Geluidbeleid", URL: "https://gemeente.nl/geluid.pdf", Source: domain.SourceWebsites},
		{ID: "doc-2", Title: "Omgevingsvisie", URL: "https://gemeente.nl/visie", Source: domain.SourceIPLO},
	})
}
