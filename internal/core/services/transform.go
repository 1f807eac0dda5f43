package services

import (
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

// TransformResult holds the records that normalised and the ones that did not.
type TransformResult struct {
	Records []domain.NormalizedRecord
	Errors  []*domain.TransformError
}

// TransformItems normalises items one at a time. A failing or panicking
// transform drops only that item.
func TransformItems(entity string, fn domain.TransformFunc, items []domain.RawRecord) TransformResult {
	res := TransformResult{Records: make([]domain.NormalizedRecord, 0, len(items))}
	for _, item := range items {
		rec, err := transformOne(entity, fn, item)
		if err != nil {
			id, _ := item.ID()
			res.Errors = append(res.Errors, &domain.TransformError{Entity: entity, RecordID: id, Err: err})
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

func transformOne(entity string, fn domain.TransformFunc, item domain.RawRecord) (rec domain.NormalizedRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panic: %v", r)
		}
	}()

	rec, err = fn(item)
	if err != nil {
		return rec, err
	}

	rec.Entity = entity
	if rec.ID == "" {
		id, ok := item.ID()
		if !ok {
			return rec, domain.ErrMissingID
		}
		rec.ID = id
	}
	if rec.Raw == nil {
		raw, err := json.Marshal(item)
		if err != nil {
			return rec, fmt.Errorf("marshal raw: %w", err)
		}
		rec.Raw = raw
	}
	return rec, nil
}
