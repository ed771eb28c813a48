// Package search is the client for the embedding-based similarity search
// service. The engine itself (embeddings, index, scoring) lives behind its
// HTTP API; this side only asks for the top matches.
package search

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"

	"threadwise/query-api/internal/config"
	"threadwise/query-api/internal/domain/turn"
	"threadwise/query-api/internal/infrastructure/metrics"
	"threadwise/query-api/internal/infrastructure/observability"
	"threadwise/query-api/internal/utils/httpclients"
	"threadwise/query-api/internal/utils/platformerrors"
)

type Client struct {
	client      *resty.Client
	serviceName string
}

var _ turn.SimilaritySearch = (*Client)(nil)

func NewClient(cfg *config.Config) *Client {
	client := httpclients.NewClient("SimilaritySearchClient")
	client.SetBaseURL(cfg.SearchBaseURL)
	client.SetTimeout(cfg.HTTPTimeout)
	if cfg.SearchAPIKey != "" {
		client.SetHeader("Authorization", fmt.Sprintf("Bearer %s", cfg.SearchAPIKey))
	}
	return &Client{client: client, serviceName: cfg.ServiceName}
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchMatch struct {
	ItemID    string   `json:"item_id"`
	Score     *float64 `json:"score"`
	Title     string   `json:"title"`
	Permalink *string  `json:"permalink"`
	Snippet   string   `json:"snippet"`
	Upvotes   *int     `json:"upvotes"`
}

type searchResponse struct {
	Matches []searchMatch `json:"matches"`
}

// Search implements turn.SimilaritySearch.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]turn.Match, error) {
	ctx, span := observability.StartSpan(ctx, c.serviceName, "search.Search")
	defer span.End()

	start := time.Now()
	var respBody searchResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(searchRequest{Query: query, TopK: topK}).
		SetResult(&respBody).
		Post("/v1/search")
	metrics.RecordBackendCall("search", "search", err == nil && resp != nil && !resp.IsError(), time.Since(start).Seconds())
	if err != nil {
		observability.RecordError(ctx, err)
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeExternal, "similarity search request failed", err,
			"6b1f83ca-d042-4978-a5e6-29c7f0d138b5")
	}
	if resp.IsError() {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeExternal,
			fmt.Sprintf("similarity search returned status %d", resp.StatusCode()), nil,
			"93da50e7-24c8-4f61-b0a3-e875c12f94d0")
	}

	matches := make([]turn.Match, 0, len(respBody.Matches))
	for _, m := range respBody.Matches {
		matches = append(matches, turn.Match{
			ItemID:    m.ItemID,
			Score:     m.Score,
			Title:     m.Title,
			Permalink: m.Permalink,
			Snippet:   m.Snippet,
			Upvotes:   m.Upvotes,
		})
	}
	return matches, nil
}
