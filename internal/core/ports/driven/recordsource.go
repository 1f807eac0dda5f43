package driven

import (
	"context"
	"net/http"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

// PageRequest is one bounded offset/limit window against an endpoint.
type PageRequest struct {
	Entity   string
	Endpoint string
	ListKeys []string
	Params   map[string]string
	Offset   int
	Limit    int
}

// ResponseMeta carries the response details the retry policy and
// telemetry need. Header holds throttle counters when present.
type ResponseMeta struct {
	StatusCode int
	Header     http.Header
	Size       int
}

// Page is the raw result of one request.
type Page struct {
	Items []domain.RawRecord
	Meta  ResponseMeta
}

// RecordSource fetches raw items from the remote API.
// Implementations apply authentication and handle one transparent
// credential refresh on 401. Non-2xx responses return *domain.APIError.
type RecordSource interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}
