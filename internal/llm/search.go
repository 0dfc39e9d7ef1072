package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
)

// SearchHit is one knowledge-source match
type SearchHit struct {
	ID      string  `json:"id"`
	Title   string  `json:"title,omitempty"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchClient is the knowledge-source collaborator
type SearchClient interface {
	Search(ctx context.Context, authToken, sourceID, query string, maxResults int) ([]SearchHit, error)
}

// HTTPSearchClient queries the knowledge-source service over JSON/HTTP
type HTTPSearchClient struct {
	client *httpClient
}

// NewHTTPSearchClient creates a search client for cfg.SearchEndpoint
func NewHTTPSearchClient(cfg Config, logger *slog.Logger) *HTTPSearchClient {
	return &HTTPSearchClient{client: newHTTPClient(cfg.SearchEndpoint, cfg, logger)}
}

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// Search returns at most maxResults hits for query in the given source
func (c *HTTPSearchClient) Search(ctx context.Context, authToken, sourceID, query string, maxResults int) ([]SearchHit, error) {
	path := "/sources/" + url.PathEscape(sourceID) + "/search"

	var resp struct {
		Hits []SearchHit `json:"hits"`
	}
	if err := c.client.postJSON(ctx, path, authToken, searchRequest{Query: query, MaxResults: maxResults}, &resp); err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}

	if maxResults > 0 && len(resp.Hits) > maxResults {
		resp.Hits = resp.Hits[:maxResults]
	}
	return resp.Hits, nil
}
