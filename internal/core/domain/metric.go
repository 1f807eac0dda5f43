package domain

import "time"

// RequestMetric is one append-only record per page fetch.
// It is observability data and never drives control flow.
type RequestMetric struct {
	RunID             string
	Entity            string
	Endpoint          string
	PageOffset        int
	PageLimit         int
	HTTPStatus        int
	ItemCount         int
	Duration          time.Duration
	ThrottleRemaining *int
	ThrottleType      string
	RetryCount        int
	ResponseSize      int
	Error             string
	CreatedAt         time.Time
}

// Throttled reports whether the source signalled a low budget on this request.
func (m *RequestMetric) Throttled() bool {
	return m.ThrottleType != "" || m.HTTPStatus == 429
}

// ThrottleEvent records a pause taken because of a low throttle budget.
type ThrottleEvent struct {
	RunID     string
	Entity    string
	Endpoint  string
	Type      string
	Remaining int
	Wait      time.Duration
	CreatedAt time.Time
}

// ErrorEvent records a recovered or terminal error during a run.
type ErrorEvent struct {
	RunID      string
	Entity     string
	Endpoint   string
	ErrorType  string
	Message    string
	Context    map[string]any
	RetryCount int
	CreatedAt  time.Time
}

// Error types used in ErrorEvent.ErrorType.
const (
	ErrorTypeFetch     = "fetch"
	ErrorTypeTransform = "transform"
	ErrorTypePersist   = "persist"
)
