package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// CheckpointKind distinguishes checkpoint payload types per entity.
type CheckpointKind string

// CheckpointPage marks offset/limit pagination progress.
const CheckpointPage CheckpointKind = "page"

// Checkpoint is the durable progress marker for one (entity, kind).
// A save supersedes the previous value; there is no history.
type Checkpoint struct {
	Entity    string
	Kind      CheckpointKind
	RunID     string
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// PageCheckpoint is the payload stored for CheckpointPage.
type PageCheckpoint struct {
	LastPage        int `json:"last_page"`
	PageLimit       int `json:"page_limit"`
	TotalRecords    int `json:"total_records"`
	LastPageRecords int `json:"last_page_records"`
}

// NextOffset is the offset of the first page not yet merged downstream.
func (p PageCheckpoint) NextOffset() int {
	return (p.LastPage + 1) * p.PageLimit
}

// NewPageCheckpoint builds a Checkpoint carrying p.
func NewPageCheckpoint(entity, runID string, p PageCheckpoint) (Checkpoint, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("marshal page checkpoint: %w", err)
	}
	return Checkpoint{
		Entity:  entity,
		Kind:    CheckpointPage,
		RunID:   runID,
		Payload: payload,
	}, nil
}

// PagePayload decodes the payload of a CheckpointPage checkpoint.
func (c *Checkpoint) PagePayload() (PageCheckpoint, error) {
	var p PageCheckpoint
	if c.Kind != CheckpointPage {
		return p, fmt.Errorf("%w: checkpoint kind %q", ErrInvalidInput, c.Kind)
	}
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return p, fmt.Errorf("unmarshal page checkpoint: %w", err)
	}
	if p.PageLimit <= 0 {
		return p, fmt.Errorf("%w: page_limit %d", ErrInvalidInput, p.PageLimit)
	}
	return p, nil
}
