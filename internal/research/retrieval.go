package research

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/fetch"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/search"
)

// PageFetcher fills in content for documents returned without it.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetch.Page, error)
}

// Retriever wraps a search provider for one plan step at a time.
type Retriever struct {
	search     search.Provider
	fetcher    PageFetcher
	maxResults int
	logger     *zap.Logger
}

// NewRetriever builds a Retriever. fetcher may be nil to disable page fetches.
func NewRetriever(provider search.Provider, fetcher PageFetcher, maxResults int, logger *zap.Logger) *Retriever {
	if maxResults <= 0 {
		maxResults = DefaultConfig().MaxResultsPerQuery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{search: provider, fetcher: fetcher, maxResults: maxResults, logger: logger}
}

// Retrieve returns ranked documents for query, in provider order, without
// entries lacking a URL and without duplicates.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]search.Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, NewStageError(ErrRetrieval, "search query is empty", nil)
	}
	docs, err := r.search.Search(ctx, search.Query{Text: query, MaxResults: r.maxResults})
	if err != nil {
		return nil, NewStageError(ErrRetrieval, fmt.Sprintf("search failed for %q", query), err)
	}

	seen := make(map[string]struct{}, len(docs))
	out := make([]search.Document, 0, len(docs))
	for _, doc := range docs {
		doc.URL = strings.TrimSpace(doc.URL)
		if doc.URL == "" {
			continue
		}
		key := DedupKey(doc.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, doc)
		if len(out) >= r.maxResults {
			break
		}
	}

	for i := range out {
		if strings.TrimSpace(out[i].RawContent) != "" {
			continue
		}
		if r.fetcher != nil {
			page, err := r.fetcher.Fetch(ctx, out[i].URL)
			if err != nil {
				r.logger.Debug("page fetch failed", zap.String("url", out[i].URL), zap.Error(err))
			} else {
				out[i].RawContent = page.Text
				if out[i].Title == "" {
					out[i].Title = page.Title
				}
			}
		}
		if strings.TrimSpace(out[i].RawContent) == "" {
			out[i].RawContent = out[i].Snippet
		}
	}
	return out, nil
}

// DedupKey is the identity of a source URL within a run: the trimmed URL
// without its fragment.
func DedupKey(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if i := strings.IndexByte(trimmed, '#'); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}

// displayTitle falls back to the host when a document has no title.
func displayTitle(title, rawURL string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	return rawURL
}
