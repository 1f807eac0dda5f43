package keap

import (
	"fmt"
	"maps"
	"slices"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

// Entity names.
const (
	EntityUsers         = "users"
	EntityTags          = "tags"
	EntityCompanies     = "companies"
	EntityContacts      = "contacts"
	EntityOpportunities = "opportunities"
	EntityTasks         = "tasks"
	EntityNotes         = "notes"
	EntityProducts      = "products"
	EntityOrders        = "orders"
)

const restPrefix = "/crm/rest/v1/"

// SyncOrder lists every entity so each follows the ones it references.
var SyncOrder = []string{
	EntityUsers,
	EntityTags,
	EntityCompanies,
	EntityContacts,
	EntityOpportunities,
	EntityTasks,
	EntityNotes,
	EntityProducts,
	EntityOrders,
}

var registry = map[string]domain.EntitySpec{
	EntityUsers: {
		Transform: transformUser,
	},
	EntityTags: {
		Transform: transformTag,
	},
	EntityCompanies: {
		Params:    map[string]string{"order": "id"},
		Transform: transformCompany,
	},
	EntityContacts: {
		Params:    map[string]string{"order": "id"},
		DependsOn: []string{EntityCompanies, EntityUsers},
		Transform: transformContact,
	},
	EntityOpportunities: {
		DependsOn: []string{EntityContacts, EntityUsers},
		Transform: transformOpportunity,
	},
	EntityTasks: {
		DependsOn: []string{EntityContacts, EntityUsers},
		Transform: transformTask,
	},
	EntityNotes: {
		DependsOn: []string{EntityContacts, EntityUsers},
		Transform: transformNote,
	},
	EntityProducts: {
		Transform: transformProduct,
	},
	EntityOrders: {
		DependsOn: []string{EntityContacts, EntityProducts},
		Transform: transformOrder,
	},
}

// Spec returns the spec of one entity.
func Spec(name string) (domain.EntitySpec, error) {
	spec, ok := registry[name]
	if !ok {
		return domain.EntitySpec{}, fmt.Errorf("%w: %s", domain.ErrUnknownEntity, name)
	}
	spec.Name = name
	spec.Endpoint = restPrefix + name
	spec.ListKeys = []string{name}
	spec.DependsOn = slices.Clone(spec.DependsOn)
	spec.Params = maps.Clone(spec.Params)
	return spec, nil
}

// Entities returns every entity spec in SyncOrder.
func Entities() []domain.EntitySpec {
	specs := make([]domain.EntitySpec, 0, len(SyncOrder))
	for _, name := range SyncOrder {
		spec, _ := Spec(name)
		specs = append(specs, spec)
	}
	return specs
}
