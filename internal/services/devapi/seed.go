package devapi

import (
	"context"
	"fmt"

	"github.com/louisbranch/adminhub/internal/services/devapi/storage"
)

type seedRecord struct {
	resource string
	parentID string
	fields   map[string]any
}

var seedRecords = []seedRecord{
	{resource: "projects", fields: map[string]any{"id": "proj-1", "name": "Storefront relaunch", "status": "active"}},
	{resource: "requirements", parentID: "proj-1", fields: map[string]any{"id": "r1", "projectId": "proj-1", "name": "Auth", "status": "open", "priority": 2}},
	{resource: "requirements", parentID: "proj-1", fields: map[string]any{"id": "r2", "projectId": "proj-1", "name": "Billing", "status": "done", "priority": 1}},
	{resource: "requirements", parentID: "proj-1", fields: map[string]any{"id": "r3", "projectId": "proj-1", "name": "Catalog", "status": "open", "priority": 3}},
	{resource: "customers", fields: map[string]any{"id": "cust-1", "name": "Acme", "status": "active"}},
	{resource: "organizations", fields: map[string]any{"id": "org-1", "name": "Platform team"}},
	{resource: "roles", parentID: "org-1", fields: map[string]any{"id": "role-1", "organizationId": "org-1", "name": "Admin"}},
	{resource: "templates", fields: map[string]any{"id": "tmpl-1", "name": "Default project"}},
}

// Seed stores the demo records that are missing from store.
func Seed(ctx context.Context, store storage.Store) error {
	for _, seed := range seedRecords {
		recordID := fmt.Sprint(seed.fields["id"])
		if _, err := store.GetRecord(ctx, seed.resource, recordID); err == nil {
			continue
		}
		fields := make(map[string]any, len(seed.fields))
		for key, value := range seed.fields {
			fields[key] = value
		}
		if _, _, err := store.PutRecord(ctx, storage.Record{
			Resource: seed.resource,
			ID:       recordID,
			ParentID: seed.parentID,
			Fields:   fields,
		}); err != nil {
			return fmt.Errorf("seed %s/%s: %w", seed.resource, recordID, err)
		}
	}
	return nil
}
