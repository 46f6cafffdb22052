// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Document sources written under rawDocumentsBySource.
const (
	SourceWebsites = "websites"
	SourceDSO      = "dso"
	SourceIPLO     = "iplo"
)

// CanonicalDocument is the source-independent shape of a found policy
// document.
type CanonicalDocument struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	Source      string         `json:"source"`
	Summary     string         `json:"summary,omitempty"`
	PublishedAt *time.Time     `json:"publishedAt,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DocumentID derives a stable id from a document URL.
func DocumentID(url string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(sum[:])
}

// ToMap converts the document into its JSON-shaped context form.
func (d CanonicalDocument) ToMap() map[string]any {
	raw, err := json.Marshal(d)
	if err != nil {
		return map[string]any{"id": d.ID, "title": d.Title, "url": d.URL, "source": d.Source}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"id": d.ID, "title": d.Title, "url": d.URL, "source": d.Source}
	}
	return out
}

// DocumentsFromContext decodes a context value holding canonical documents.
// Entries that are not objects, or have neither id nor url, are skipped.
func DocumentsFromContext(v any) []CanonicalDocument {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return nil
	}
	out := make([]CanonicalDocument, 0, len(items))
	for _, item := range items {
		var doc CanonicalDocument
		if err := json.Unmarshal(item, &doc); err != nil {
			continue
		}
		if doc.ID == "" && doc.URL == "" {
			continue
		}
		if doc.ID == "" {
			doc.ID = DocumentID(doc.URL)
		}
		out = append(out, doc)
	}
	return out
}

// DocumentsToContext is the inverse of DocumentsFromContext.
func DocumentsToContext(docs []CanonicalDocument) []any {
	out := make([]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ToMap())
	}
	return out
}
