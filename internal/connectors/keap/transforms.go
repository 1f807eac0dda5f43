package keap

import (
	"strings"
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

// Keap timestamps come in several shapes, "+0000" offsets included.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

var (
	createdKeys = []string{"date_created", "creation_date", "created_date"}
	updatedKeys = []string{"last_updated", "date_modified", "modification_date", "last_updated_utc"}
)

// base fills the fields every entity shares.
func base(raw domain.RawRecord) (domain.NormalizedRecord, error) {
	id, ok := raw.ID()
	if !ok {
		return domain.NormalizedRecord{}, domain.ErrMissingID
	}
	return domain.NormalizedRecord{
		ID:        id,
		Fields:    make(map[string]any),
		CreatedAt: timeOf(raw, createdKeys...),
		UpdatedAt: timeOf(raw, updatedKeys...),
	}, nil
}

func transformUser(raw domain.RawRecord) (domain.NormalizedRecord, error) {
	rec, err := base(raw)
	if err != nil {
		return rec, err
	}
	rec.Fields["given_name"] = raw["given_name"]
	rec.Fields["family_name"] = raw["family_name"]
	rec.Fields["email"] = first(raw["email_address"], firstOf(raw["email_addresses"], "email"))
	rec.Fields["status"] = raw["status"]
	rec.Fields["admin"] = raw["admin"]
	rec.Fields["partner"] = raw["partner"]
	return rec, nil
}

func transformTag(raw domain.RawRecord) (domain.NormalizedRecord, error) {
	rec, err := base(raw)
	if err != nil {
		return rec, err
	}
	rec.Fields["name"] = raw["name"]
	rec.Fields["description"] = raw["description"]
	rec.Fields["category"] = nested(raw["category"], "name")
	return rec, nil
}

func transformCompany(raw domain.RawRecord) (domain.NormalizedRecord, error) {
	rec, err := base(raw)
	if err != nil {
		return rec, err
	}
	rec.Fields["name"] = raw["company_name"]
	rec.Fields["website"] = raw["website"]
	rec.Fields["phone"] = first(raw["phone_number"], firstOf(raw["phone_numbers"], "number"))
	rec.Fields["email"] = first(raw["email_address"], firstOf(raw["email_addresses"], "email"))
	address(rec.Fields, raw["address"])
	return rec, nil
}

func transformContact(raw domain.RawRecord) (domain.NormalizedRecord, error) {
	rec, err := base(raw)
	if err != nil {
		return rec, err
	}
	rec.Fields["company_id"] = first(raw["company_id"], nested(raw["company"], "id"))
	rec.Fields["given_name"] = raw["given_name"]
	rec.Fields["family_name"] = raw["family_name"]
	rec.Fields["email"] = firstOf(raw["email_addresses"], "email")
	rec.Fields["phone"] = firstOf(raw["phone_numbers"], "number")
	address(rec.Fields, firstItem(raw["addresses"]))
	rec.Fields["owner_id"] = raw["owner_id"]
	return rec, nil
}

func transformOpportunity(raw domain.RawRecord) (domain.NormalizedRecord, error) {
	rec, err := base(raw)
	if err != nil {
		return rec, err
	}
	rec.Fields["title"] = raw["opportunity_title"]
	rec.Fields["contact_id"] = nested(raw["contact"], "id")
	rec.Fields["user_id"] = first(nested(raw["user"], "id"), raw["user_id"])
	rec.Fields["stage"] = nested(raw["stage"], "name")
	rec.Fields["estimated_close_date"] = raw["estimated_close_date"]
	rec.Fields["projected_revenue_low"] = raw["projected_revenue_low"]
	rec.Fields["projected_revenue_high"] = raw["projected_revenue_high"]
	return rec, nil
}

func transformTask(raw domain.RawRecord) (domain.NormalizedRecord, error) {
	rec, err := base(raw)
	if err != nil {
		return rec, err
	}
	rec.Fields["title"] = raw["title"]
	rec.Fields["description"] = raw["description"]
	rec.Fields["contact_id"] = first(nested(raw["contact"], "id"), raw["contact_id"])
	rec.Fields["user_id"] = first(raw["user_id"], nested(raw["user"], "id"))
	rec.Fields["type"] = raw["type"]
	rec.Fields["priority"] = raw["priority"]
	rec.Fields["completed"] = raw["completed"]
	rec.Fields["due_date"] = raw["due_date"]
	rec.Fields["completion_date"] = raw["completion_date"]
	return rec, nil
}

func transformNote(raw domain.RawRecord) (domain.NormalizedRecord, error) {
	rec, err := base(raw)
	if err != nil {
		return rec, err
	}
	rec.Fields["title"] = raw["title"]
	rec.Fields["body"] = raw["body"]
	rec.Fields["type"] = raw["type"]
	rec.Fields["contact_id"] = first(raw["contact_id"], nested(raw["contact"], "id"))
	rec.Fields["user_id"] = first(raw["user_id"], nested(raw["user"], "id"))
	return rec, nil
}

func transformProduct(raw domain.RawRecord) (domain.NormalizedRecord, error) {
	rec, err := base(raw)
	if err != nil {
		return rec, err
	}
	rec.Fields["name"] = raw["product_name"]
	rec.Fields["sku"] = raw["sku"]
	rec.Fields["price"] = raw["product_price"]
	rec.Fields["description"] = first(raw["product_short_desc"], raw["product_desc"])
	rec.Fields["active"] = raw["active"]
	rec.Fields["subscription_only"] = raw["subscription_only"]
	return rec, nil
}

func transformOrder(raw domain.RawRecord) (domain.NormalizedRecord, error) {
	rec, err := base(raw)
	if err != nil {
		return rec, err
	}
	rec.Fields["title"] = raw["title"]
	rec.Fields["status"] = raw["status"]
	rec.Fields["total"] = raw["total"]
	rec.Fields["contact_id"] = nested(raw["contact"], "id")
	rec.Fields["order_date"] = raw["order_date"]
	rec.Fields["order_type"] = raw["order_type"]
	rec.Fields["source_type"] = raw["source_type"]
	return rec, nil
}

// timeOf parses the first key holding a recognised timestamp.
// Unparseable values are treated as absent.
func timeOf(raw domain.RawRecord, keys ...string) *time.Time {
	for _, k := range keys {
		s, ok := raw[k].(string)
		if !ok {
			continue
		}
		if ts, ok := parseTime(s); ok {
			return &ts
		}
	}
	return nil
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func address(fields map[string]any, v any) {
	fields["address"] = nested(v, "line1")
	fields["city"] = nested(v, "locality")
	fields["state"] = nested(v, "region")
	fields["postal_code"] = nested(v, "postal_code")
	fields["country_code"] = nested(v, "country_code")
}

// nested reads key from an object value, or nil.
func nested(v any, key string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}

func firstItem(v any) any {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	return list[0]
}

// firstOf reads key from the first element of a list value.
func firstOf(v any, key string) any {
	return nested(firstItem(v), key)
}

// first returns the first non-nil value.
func first(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
