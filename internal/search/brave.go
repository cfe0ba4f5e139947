package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/provider"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave uses the Brave Search API. Results carry only a description, so the
// retriever fetches page content separately.
type Brave struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewBrave(apiKey string, client *http.Client) *Brave {
	if client == nil {
		client = http.DefaultClient
	}
	return &Brave{apiKey: apiKey, endpoint: braveEndpoint, client: client}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string   `json:"title"`
			URL         string   `json:"url"`
			Description string   `json:"description"`
			ExtraSnips  []string `json:"extra_snippets"`
		} `json:"results"`
	} `json:"web"`
}

func (b *Brave) Search(ctx context.Context, q Query) ([]Document, error) {
	if strings.TrimSpace(b.apiKey) == "" {
		return nil, &provider.ProviderError{Provider: "brave", Kind: provider.ErrAuth, Err: errors.New("API key is missing")}
	}
	limit := maxResults(q)
	params := url.Values{}
	params.Set("q", q.Text)
	params.Set("count", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, provider.Classify("brave", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		perr := provider.FromStatus("brave", resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(body))))
		if resp.StatusCode == http.StatusTooManyRequests {
			perr.RetryAfter = retryDelay(resp.Header)
			perr.Err = fmt.Errorf("retry after %s: %w", perr.RetryAfter, perr.Err)
		}
		return nil, perr
	}

	var decoded braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &provider.ProviderError{Provider: "brave", Kind: provider.ErrUnavailable, Err: fmt.Errorf("decode response: %w", err)}
	}

	docs := make([]Document, 0, len(decoded.Web.Results))
	for _, r := range decoded.Web.Results {
		snippet := r.Description
		if len(r.ExtraSnips) > 0 {
			snippet = strings.Join(append([]string{r.Description}, r.ExtraSnips...), "\n")
		}
		docs = append(docs, Document{URL: r.URL, Title: r.Title, Snippet: snippet})
		if len(docs) >= limit {
			break
		}
	}
	return docs, nil
}

// retryDelay reads the smallest value of the comma separated
// X-RateLimit-Reset header, falling back to one second.
func retryDelay(h http.Header) time.Duration {
	raw := h.Get("X-RateLimit-Reset")
	minReset := -1
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			continue
		}
		if minReset < 0 || n < minReset {
			minReset = n
		}
	}
	if minReset <= 0 {
		return time.Second
	}
	return time.Duration(minReset) * time.Second
}
