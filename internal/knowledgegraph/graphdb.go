// SPDX-License-Identifier: Apache-2.0

package knowledgegraph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beleidsscan/workflow-engine/internal/domain"
)

const (
	documentNS = "https://beleidsscan.nl/id/document/"
	sourceNS   = "https://beleidsscan.nl/id/source/"
)

// GraphDB writes documents as RDF through the SPARQL 1.1 Update endpoint of
// an RDF4J/GraphDB repository.
type GraphDB struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewGraphDB(baseURL, repository string, client *http.Client, logger *slog.Logger) (*GraphDB, error) {
	if strings.TrimSpace(baseURL) == "" || strings.TrimSpace(repository) == "" {
		return nil, errors.New("graphdb url and repository are required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("graphdb url: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/repositories/" + url.PathEscape(repository) + "/statements"
	return &GraphDB{endpoint: endpoint, client: client, logger: logger}, nil
}

func (g *GraphDB) Name() string { return BackendGraphDB }

func (g *GraphDB) UpsertDocuments(ctx context.Context, docs []domain.CanonicalDocument) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	update := BuildSPARQLUpdate(docs)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, strings.NewReader(update))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/sparql-update")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("graphdb update: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("graphdb update: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	g.logger.Debug("graphdb upsert", "documents", len(docs))
	return len(docs), nil
}

func (g *GraphDB) Close(context.Context) error { return nil }

// BuildSPARQLUpdate renders one DELETE/INSERT pair per document so a
// re-run replaces the previous triples.
func BuildSPARQLUpdate(docs []domain.CanonicalDocument) string {
	var b bytes.Buffer
	b.WriteString("PREFIX dct: <http://purl.org/dc/terms/>\n")
	b.WriteString("PREFIX bs: <https://beleidsscan.nl/def/>\n")
	for i, d := range docs {
		if i > 0 {
			b.WriteString(";\n")
		}
		iri := "<" + documentNS + url.PathEscape(d.ID) + ">"
		fmt.Fprintf(&b, "DELETE WHERE { %s ?p ?o };\n", iri)
		fmt.Fprintf(&b, "INSERT DATA { %s a bs:PolicyDocument ; dct:title %s ; dct:source <%s>", iri, literal(d.Title), escapeIRI(d.URL))
		if d.Summary != "" {
			fmt.Fprintf(&b, " ; dct:abstract %s", literal(d.Summary))
		}
		source := d.Source
		if source == "" {
			source = "unknown"
		}
		fmt.Fprintf(&b, " ; dct:publisher <%s%s> }", sourceNS, url.PathEscape(source))
	}
	b.WriteString("\n")
	return b.String()
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func literal(s string) string {
	return `"` + literalEscaper.Replace(s) + `"`
}

// escapeIRI percent-encodes characters that may not appear inside <...>.
func escapeIRI(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r <= 0x20, strings.ContainsRune("<>\"{}|^`\\", r):
			fmt.Fprintf(&b, "%%%02X", r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
