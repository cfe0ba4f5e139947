package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/provider"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// Tavily calls the Tavily search API.
type Tavily struct {
	apiKey   string
	depth    string
	endpoint string
	client   *http.Client
}

func NewTavily(apiKey string, depth string, client *http.Client) *Tavily {
	if depth == "" {
		depth = "basic"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Tavily{apiKey: apiKey, depth: depth, endpoint: tavilyEndpoint, client: client}
}

type tavilyRequest struct {
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth"`
	MaxResults        int    `json:"max_results"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResponse struct {
	Results []struct {
		Title      string `json:"title"`
		URL        string `json:"url"`
		Content    string `json:"content"`
		RawContent string `json:"raw_content"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, q Query) ([]Document, error) {
	if strings.TrimSpace(t.apiKey) == "" {
		return nil, &provider.ProviderError{Provider: "tavily", Kind: provider.ErrAuth, Err: errors.New("API key is missing")}
	}
	limit := maxResults(q)
	payload, err := json.Marshal(tavilyRequest{
		Query:             q.Text,
		SearchDepth:       t.depth,
		MaxResults:        limit,
		IncludeRawContent: true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, provider.Classify("tavily", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, provider.FromStatus("tavily", resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(body))))
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &provider.ProviderError{Provider: "tavily", Kind: provider.ErrUnavailable, Err: fmt.Errorf("decode response: %w", err)}
	}

	docs := make([]Document, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		docs = append(docs, Document{URL: r.URL, Title: r.Title, Snippet: r.Content, RawContent: r.RawContent})
		if len(docs) >= limit {
			break
		}
	}
	return docs, nil
}
