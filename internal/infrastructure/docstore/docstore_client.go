// Package docstore is the client for the structured document store's data
// API gateway: aggregation pipelines go out, result documents come back.
// Failures here are the retrieval_failure class; the orchestrator tags them
// apart from reasoner problems when a turn exhausts its attempts.
package docstore

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
	dataSource  string
	database    string
	serviceName string
}

var _ turn.StructuredStore = (*Client)(nil)

func NewClient(cfg *config.Config) *Client {
	client := httpclients.NewClient("DocstoreClient")
	client.SetBaseURL(cfg.DocstoreBaseURL)
	client.SetTimeout(cfg.HTTPTimeout)
	if cfg.DocstoreAPIKey != "" {
		client.SetHeader("api-key", cfg.DocstoreAPIKey)
	}
	return &Client{
		client:      client,
		dataSource:  cfg.DocstoreDataSource,
		database:    cfg.DocstoreDatabase,
		serviceName: cfg.ServiceName,
	}
}

type aggregateRequest struct {
	DataSource string           `json:"dataSource"`
	Database   string           `json:"database"`
	Collection string           `json:"collection"`
	Pipeline   []map[string]any `json:"pipeline"`
}

type aggregateResponse struct {
	Documents []map[string]any `json:"documents"`
}

// Aggregate implements turn.StructuredStore.
func (c *Client) Aggregate(ctx context.Context, collection string, stages []map[string]any) ([]map[string]any, error) {
	ctx, span := observability.StartSpan(ctx, c.serviceName, "docstore.Aggregate")
	defer span.End()

	start := time.Now()
	var respBody aggregateResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(aggregateRequest{
			DataSource: c.dataSource,
			Database:   c.database,
			Collection: collection,
			Pipeline:   stages,
		}).
		SetResult(&respBody).
		Post("/action/aggregate")
	metrics.RecordBackendCall("docstore", "aggregate", err == nil && resp != nil && !resp.IsError(), time.Since(start).Seconds())
	if err != nil {
		observability.RecordError(ctx, err)
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeRetrieval, "document store request failed", err,
			"0c7e94d2-a615-4b38-8f90-d34b6a82e157")
	}
	if resp.IsError() {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeRetrieval,
			fmt.Sprintf("document store returned status %d", resp.StatusCode()), nil,
			"e52a01b9-78f3-4dc6-92e4-16c80d5b3a7f")
	}

	return respBody.Documents, nil
}
