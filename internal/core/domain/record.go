package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// RawRecord is one item as returned by the remote API.
// Its schema is unknown to the core beyond the "id" field.
type RawRecord map[string]any

// ID returns the record's primary key as a string.
// Numeric ids are rendered without a fractional part.
func (r RawRecord) ID() (string, bool) {
	v, ok := r["id"]
	if !ok || v == nil {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, id != ""
	case json.Number:
		return id.String(), true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	default:
		return "", false
	}
}

// NormalizedRecord is the flat, entity-agnostic shape written to the sink.
type NormalizedRecord struct {
	// Entity is the logical collection this record belongs to.
	Entity string

	// ID is the stable primary key, unique per entity.
	ID string

	// Fields holds the mutable, entity-specific columns.
	Fields map[string]any

	// CreatedAt is insert-only: an absent value never clears a stored one.
	CreatedAt *time.Time

	// UpdatedAt is the source's last-modified timestamp.
	UpdatedAt *time.Time

	// Raw is the original item as JSON.
	Raw json.RawMessage
}

// ModifiedSince reports whether the record was created or updated at or after cutoff.
func (r *NormalizedRecord) ModifiedSince(cutoff time.Time) bool {
	if r.CreatedAt != nil && !r.CreatedAt.Before(cutoff) {
		return true
	}
	if r.UpdatedAt != nil && !r.UpdatedAt.Before(cutoff) {
		return true
	}
	return false
}

// TransformFunc maps one raw item to its normalised form.
type TransformFunc func(raw RawRecord) (NormalizedRecord, error)

// EntitySpec ties an entity name to its endpoint and transform.
// Adding an entity means adding one spec; the orchestrator does not change.
type EntitySpec struct {
	// Name is the entity identifier (e.g., "contacts").
	Name string

	// Endpoint is the API path listing this entity.
	Endpoint string

	// ListKeys are the object keys that may hold the item list, tried in order.
	ListKeys []string

	// Params are extra query parameters sent with every page request.
	Params map[string]string

	// DependsOn names entities that must be synced first.
	DependsOn []string

	// Transform normalises one raw item.
	Transform TransformFunc
}
