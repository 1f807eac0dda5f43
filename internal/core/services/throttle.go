package services

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

// throttleHeader maps a rate-limit header to the throttle type it reports.
type throttleHeader struct {
	name string
	kind string
}

// throttleHeaders are scanned in this order; on a tie the earlier one names the type.
var throttleHeaders = []throttleHeader{
	{"x-keap-product-throttle-available", "product_throttle"},
	{"x-keap-product-quota-available", "product_quota"},
	{"x-keap-tenant-throttle-available", "tenant_throttle"},
	{"x-ratelimit-remaining", "ratelimit"},
}

// Throttle tiers.
const (
	ThrottleCriticalBelow = 10
	ThrottleLowBelow      = 50
	ThrottleMediumBelow   = 100

	ThrottleCriticalWait = 5 * time.Second
	ThrottleLowWait      = 2 * time.Second
	ThrottleMediumWait   = 500 * time.Millisecond
)

// ThrottleSignal is what the response headers say about the remaining budget.
type ThrottleSignal struct {
	// Remaining is the minimum budget across all present headers, or -1.
	Remaining int

	// Type names the header that reported Remaining.
	Type string

	// Severity is critical, low, medium or empty.
	Severity string

	// Wait is the pause to take before the next request.
	Wait time.Duration

	// RetryAfter is set when Wait came from a Retry-After header.
	RetryAfter bool
}

// Found reports whether any throttle counter was present.
func (s ThrottleSignal) Found() bool {
	return s.Remaining >= 0
}

// ThrottleDelay interprets throttle headers. An explicit Retry-After
// overrides the tiered pause with its literal value.
func ThrottleDelay(h http.Header) ThrottleSignal {
	sig := ThrottleSignal{Remaining: -1}
	if h == nil {
		return sig
	}

	for _, th := range throttleHeaders {
		v := strings.TrimSpace(h.Get(th.name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		if sig.Remaining < 0 || n < sig.Remaining {
			sig.Remaining = n
			sig.Type = th.kind
		}
	}

	if sig.Found() {
		switch {
		case sig.Remaining < ThrottleCriticalBelow:
			sig.Severity, sig.Wait = "critical", ThrottleCriticalWait
		case sig.Remaining < ThrottleLowBelow:
			sig.Severity, sig.Wait = "low", ThrottleLowWait
		case sig.Remaining < ThrottleMediumBelow:
			sig.Severity, sig.Wait = "medium", ThrottleMediumWait
		}
	}

	if d, ok := domain.RetryAfter(h); ok {
		sig.Wait = d
		sig.RetryAfter = true
	}
	return sig
}
