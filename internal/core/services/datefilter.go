package services

import (
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

// FilterSince keeps records created or updated at or after cutoff.
// The remote API has no server-side filter, so this runs over the
// fully fetched set.
func FilterSince(records []domain.NormalizedRecord, cutoff time.Time) ([]domain.NormalizedRecord, int) {
	kept := make([]domain.NormalizedRecord, 0, len(records))
	for i := range records {
		if records[i].ModifiedSince(cutoff) {
			kept = append(kept, records[i])
		}
	}
	return kept, len(records) - len(kept)
}
