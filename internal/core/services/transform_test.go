package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

func TestTransformItems_DropsOnlyBadRecords(t *testing.T) {
	items := makeRecords(100, time.Now())
	items[10]["bad"] = true
	items[50]["bad"] = true
	delete(items[70], "id")

	res := TransformItems("contacts", testTransform, items)

	assert.Len(t, res.Records, 97)
	require.Len(t, res.Errors, 3)
	assert.Equal(t, "11", res.Errors[0].RecordID)
	assert.Equal(t, "51", res.Errors[1].RecordID)
	assert.ErrorIs(t, res.Errors[2], domain.ErrMissingID)
}

func TestTransformItems_RecoversPanic(t *testing.T) {
	boom := func(raw domain.RawRecord) (domain.NormalizedRecord, error) {
		if raw["id"] == float64(2) {
			panic("nil map")
		}
		return domain.NormalizedRecord{}, nil
	}

	res := TransformItems("tags", boom, makeRecords(3, time.Now()))

	assert.Len(t, res.Records, 2)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error(), "panic")
}

func TestTransformItems_FillsDefaults(t *testing.T) {
	res := TransformItems("tags", testTransform, []domain.RawRecord{{"id": float64(7), "name": "vip"}})

	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.Equal(t, "tags", rec.Entity)
	assert.Equal(t, "7", rec.ID)
	assert.JSONEq(t, `{"id":7,"name":"vip"}`, string(rec.Raw))
}
