// Package tools implements the built-in tools the agent can dispatch:
// web search, page scraping, sandboxed code evaluation, and knowledge-base
// lookup. Each tool is a typed definition registered through the tool
// registry so inputs and outputs stay schema-checked.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/koopa0/relay/internal/config"
	"github.com/koopa0/relay/internal/log"
)

// maxSearchResults caps what a single web_search call can return.
const maxSearchResults = 10

// ErrSearchUnavailable indicates the SearXNG instance could not be reached
// or answered with a non-200 status.
var ErrSearchUnavailable = errors.New("search service unavailable")

// SearchInput is the web_search tool input.
type SearchInput struct {
	Query      string `json:"query" jsonschema:"description=The search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum results to return (1-10, default 5)"`
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchOutput is the web_search tool output.
type SearchOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// Searcher queries a SearXNG instance over its JSON API.
type Searcher struct {
	baseURL string
	client  *http.Client
	logger  log.Logger
}

// NewSearcher creates a Searcher against cfg.BaseURL.
func NewSearcher(cfg config.SearXNGConfig, logger log.Logger) (*Searcher, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("searxng base URL is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Searcher{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}, nil
}

// searxngResponse mirrors the fields we read from SearXNG's JSON format.
type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs a query and returns up to in.MaxResults hits.
func (s *Searcher) Search(ctx context.Context, in SearchInput) (SearchOutput, error) {
	if in.Query == "" {
		return SearchOutput{}, errors.New("query is required")
	}
	limit := in.MaxResults
	if limit <= 0 || limit > maxSearchResults {
		limit = 5
	}

	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", s.baseURL, url.QueryEscape(in.Query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SearchOutput{}, fmt.Errorf("building search request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return SearchOutput{}, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return SearchOutput{}, fmt.Errorf("%w: status %d", ErrSearchUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return SearchOutput{}, fmt.Errorf("reading search response: %w", err)
	}

	var parsed searxngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return SearchOutput{}, fmt.Errorf("decoding search response: %w", err)
	}

	out := SearchOutput{Query: in.Query, Results: []SearchResult{}}
	for _, r := range parsed.Results {
		if len(out.Results) >= limit {
			break
		}
		out.Results = append(out.Results, SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
		})
	}

	s.logger.Debug("web search completed", "query", in.Query, "results", len(out.Results))
	return out, nil
}
