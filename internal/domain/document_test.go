// SPDX-License-Identifier: Apache-2.0

package domain

import "testing"

func TestDocumentsRoundTrip(t *testing.T) {
	docs := []CanonicalDocument{
		{ID: "1", Title: "Omgevingsvisie", URL: "https://example.nl/visie", Source: SourceWebsites},
		{Title: "Geen id", URL: "https://example.nl/plan", Source: SourceIPLO},
	}
	ctxValue := DocumentsToContext(docs)
	back := DocumentsFromContext(ctxValue)
	if len(back) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(back))
	}
	if back[0].Title != "Omgevingsvisie" || back[0].Source != SourceWebsites {
		t.Fatalf("unexpected document %+v", back[0])
	}
	if back[1].ID != DocumentID("https://example.nl/plan") {
		t.Fatalf("expected derived id, got %q", back[1].ID)
	}
}

func TestDocumentsFromContextSkipsJunk(t *testing.T) {
	got := DocumentsFromContext([]any{"text", map[string]any{"title": "no id"}, map[string]any{"url": "https://x.nl"}})
	if len(got) != 1 || got[0].URL != "https://x.nl" {
		t.Fatalf("unexpected documents %+v", got)
	}
	if DocumentsFromContext(nil) != nil {
		t.Fatal("expected nil for missing value")
	}
	if len(DocumentID("a")) != 64 {
		t.Fatal("expected sha256 hex id")
	}
}
