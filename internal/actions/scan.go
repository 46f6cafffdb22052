// SPDX-License-Identifier: Apache-2.0

package actions

import (
	"bytes"
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/beleidsscan/workflow-engine/internal/action"
	"github.com/beleidsscan/workflow-engine/internal/domain"
)

const maxLinksPerSite = 50

type website struct {
	ID   string
	Name string
	URL  string
}

// scanTargets resolves the websites to scan. Selected entries match
// websiteData by id or url; selected URLs without data are scanned as is.
func scanTargets(params map[string]any) []website {
	selected := action.StringSliceParam(params, "selectedWebsites")
	var known []website
	for _, m := range action.MapSliceParam(params, "websiteData") {
		w := website{
			ID:   action.StringParam(m, "id"),
			Name: firstNonEmpty(action.StringParam(m, "titel"), action.StringParam(m, "title"), action.StringParam(m, "naam")),
			URL:  action.StringParam(m, "url"),
		}
		if w.URL != "" {
			known = append(known, w)
		}
	}

	if len(selected) == 0 {
		return known
	}

	var out []website
	seen := map[string]struct{}{}
	add := func(w website) {
		if _, dup := seen[w.URL]; dup {
			return
		}
		seen[w.URL] = struct{}{}
		out = append(out, w)
	}
	for _, sel := range selected {
		matched := false
		for _, w := range known {
			if sel == w.ID || sel == w.URL {
				add(w)
				matched = true
			}
		}
		if !matched && isHTTPURL(sel) {
			add(website{URL: sel})
		}
	}
	return out
}

func (s *set) scanKnownSources(ctx context.Context, params map[string]any, runID uuid.UUID) action.Result {
	targets := scanTargets(params)
	if len(action.StringSliceParam(params, "selectedWebsites")) == 0 && len(action.MapSliceParam(params, "websiteData")) == 0 {
		s.runs.Log(ctx, runID, "no websites selected, skipping scan", domain.LogInfo, nil)
		return action.Ok(map[string]any{
			KeyCanonicalDocuments: []any{},
			KeyQueryID:            nil,
		})
	}

	onderwerp := action.StringParam(params, "onderwerp")
	results := make([][]domain.CanonicalDocument, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, target := range targets {
		g.Go(func() error {
			docs, err := s.scanWebsite(gctx, target, onderwerp)
			if err != nil {
				// Per-site failures never fail the step.
				s.logger.Warn("website scan failed", "run_id", runID, "url", target.URL, "error", err)
				s.runs.Log(ctx, runID, "website scan failed", domain.LogWarn, map[string]any{
					"url":   target.URL,
					"error": err.Error(),
				})
				return nil
			}
			results[i] = docs
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return action.Fatal(err)
	}

	var docs []domain.CanonicalDocument
	for _, r := range results {
		docs = mergeDocuments(docs, r)
	}

	data := map[string]any{
		KeyRawDocuments:       rawDocuments(params, domain.SourceWebsites, docs),
		KeyCanonicalDocuments: domain.DocumentsToContext(docs),
		KeyQueryID:            uuid.NewString(),
	}
	s.runs.Log(ctx, runID, "websites scanned", domain.LogInfo, map[string]any{
		"websites":  len(targets),
		"documents": len(docs),
	})
	if len(docs) == 0 {
		return action.Empty("no documents found on the selected websites", data)
	}
	return action.Ok(data)
}

// scanWebsite fetches a page and turns it, plus the document links on it
// that match the subject, into canonical documents.
func (s *set) scanWebsite(ctx context.Context, site website, onderwerp string) ([]domain.CanonicalDocument, error) {
	body, err := s.get(ctx, "website", site.URL, map[string]string{"Accept": "text/html"})
	if err != nil {
		return nil, err
	}
	page, err := parsePage(body, site.URL)
	if err != nil {
		return nil, err
	}

	title := firstNonEmpty(page.title, site.Name, site.URL)
	meta := map[string]any{"website": firstNonEmpty(site.Name, site.URL)}
	if onderwerp != "" {
		meta["onderwerp"] = onderwerp
	}
	docs := []domain.CanonicalDocument{{
		ID:       domain.DocumentID(site.URL),
		Title:    title,
		URL:      site.URL,
		Source:   domain.SourceWebsites,
		Summary:  page.description,
		Metadata: meta,
	}}

	needle := strings.ToLower(onderwerp)
	for _, l := range page.links {
		if len(docs) > maxLinksPerSite {
			break
		}
		if needle != "" && !strings.Contains(strings.ToLower(l.text+" "+l.href), needle) {
			continue
		}
		docs = append(docs, domain.CanonicalDocument{
			ID:       domain.DocumentID(l.href),
			Title:    firstNonEmpty(l.text, path.Base(l.href)),
			URL:      l.href,
			Source:   domain.SourceWebsites,
			Metadata: meta,
		})
	}
	return docs, nil
}

type link struct {
	href string
	text string
}

type page struct {
	title       string
	description string
	links       []link
}

// parsePage extracts the title, meta description and document links (PDF
// and similar) from an HTML page. Links are resolved against base.
func parsePage(body []byte, base string) (page, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return page{}, err
	}
	baseURL, _ := url.Parse(base)

	var p page
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if p.title == "" {
					p.title = strings.TrimSpace(textOf(n))
				}
			case "meta":
				if strings.EqualFold(attr(n, "name"), "description") && p.description == "" {
					p.description = strings.TrimSpace(attr(n, "content"))
				}
			case "a":
				if href := resolve(baseURL, attr(n, "href")); href != "" && isDocumentLink(href) {
					p.links = append(p.links, link{href: href, text: strings.Join(strings.Fields(textOf(n)), " ")})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return p, nil
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

var documentExts = []string{".pdf", ".docx", ".doc", ".odt"}

func isDocumentLink(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, e := range documentExts {
		if ext == e {
			return true
		}
	}
	return false
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
