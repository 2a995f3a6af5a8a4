package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/louisbranch/adminhub/internal/services/devapi/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "devapi.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	})
	return store
}

func putRecord(t *testing.T, store *Store, resource, id, parent string, fields map[string]any) storage.Change {
	t.Helper()
	_, change, err := store.PutRecord(context.Background(), storage.Record{
		Resource: resource,
		ID:       id,
		ParentID: parent,
		Fields:   fields,
	})
	if err != nil {
		t.Fatalf("put %s/%s: %v", resource, id, err)
	}
	return change
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(" "); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpenRunsMigrations(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "devapi.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	for _, table := range []string{"records", "changes", "schema_migrations"} {
		var name string
		if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name); err != nil {
			t.Fatalf("table %s: %v", table, err)
		}
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := reopened.Close(); err != nil {
		t.Fatalf("close reopened: %v", err)
	}
}

func TestPutRecordCreatesThenUpdates(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	created := putRecord(t, store, "projects", "proj-1", "", map[string]any{"name": "Launch"})
	if created.Action != storage.ActionCreated {
		t.Fatalf("action = %q, want %q", created.Action, storage.ActionCreated)
	}
	first, err := store.GetRecord(ctx, "projects", "proj-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := first.Fields["id"]; got != "proj-1" {
		t.Fatalf("payload id = %v, want proj-1", got)
	}

	updated := putRecord(t, store, "projects", "proj-1", "", map[string]any{"name": "Relaunch"})
	if updated.Action != storage.ActionUpdated {
		t.Fatalf("action = %q, want %q", updated.Action, storage.ActionUpdated)
	}
	if updated.Seq <= created.Seq {
		t.Fatalf("seq = %d, want > %d", updated.Seq, created.Seq)
	}

	second, err := store.GetRecord(ctx, "projects", "proj-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := second.Fields["name"]; got != "Relaunch" {
		t.Fatalf("name = %v, want Relaunch", got)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created_at = %s, want %s", second.CreatedAt, first.CreatedAt)
	}
}

func TestCreateRecordRejectsTakenID(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	record := storage.Record{Resource: "projects", ID: "proj-1", Fields: map[string]any{"name": "Launch"}}

	_, created, err := store.CreateRecord(ctx, record)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Action != storage.ActionCreated {
		t.Fatalf("action = %q, want %q", created.Action, storage.ActionCreated)
	}

	record.Fields = map[string]any{"name": "Overwrite"}
	if _, _, err := store.CreateRecord(ctx, record); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("second create err = %v, want %v", err, storage.ErrAlreadyExists)
	}
	got, err := store.GetRecord(ctx, "projects", "proj-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Fields["name"] != "Launch" {
		t.Fatalf("name = %v, want Launch", got.Fields["name"])
	}
	changes, err := store.ListChanges(ctx, 0, 10)
	if err != nil {
		t.Fatalf("list changes: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(changes))
	}
}

func TestGetRecordNotFound(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	_, err := store.GetRecord(context.Background(), "projects", "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListRecordsFiltersAndPages(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	putRecord(t, store, "requirements", "r1", "proj-1", map[string]any{"name": "Auth", "status": "open"})
	putRecord(t, store, "requirements", "r2", "proj-1", map[string]any{"name": "Billing", "status": "done"})
	putRecord(t, store, "requirements", "r3", "proj-1", map[string]any{"name": "Catalog", "status": "open"})
	putRecord(t, store, "requirements", "r4", "proj-2", map[string]any{"name": "Other", "status": "open"})

	tests := []struct {
		name   string
		filter storage.ListFilter
		want   []string
		total  int
	}{
		{
			name:   "parent",
			filter: storage.ListFilter{Resource: "requirements", ParentID: "proj-1"},
			want:   []string{"r1", "r2", "r3"},
			total:  3,
		},
		{
			name:   "status",
			filter: storage.ListFilter{Resource: "requirements", ParentID: "proj-1", Status: "open"},
			want:   []string{"r1", "r3"},
			total:  2,
		},
		{
			name:   "search is case insensitive",
			filter: storage.ListFilter{Resource: "requirements", SearchField: "name", Search: "BILL"},
			want:   []string{"r2"},
			total:  1,
		},
		{
			name:   "second page",
			filter: storage.ListFilter{Resource: "requirements", Page: 2, Limit: 3},
			want:   []string{"r4"},
			total:  4,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			records, total, err := store.ListRecords(context.Background(), tc.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if total != tc.total {
				t.Fatalf("total = %d, want %d", total, tc.total)
			}
			var got []string
			for _, record := range records {
				got = append(got, record.ID)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("ids = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("ids = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestDeleteRecordAppendsChange(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	putRecord(t, store, "requirements", "r1", "proj-1", map[string]any{"name": "Auth"})

	change, err := store.DeleteRecord(ctx, "requirements", "r1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if change.Action != storage.ActionDeleted || change.ParentID != "proj-1" {
		t.Fatalf("change = %+v, want deleted under proj-1", change)
	}
	if _, err := store.GetRecord(ctx, "requirements", "r1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get after delete err = %v, want ErrNotFound", err)
	}
	if _, err := store.DeleteRecord(ctx, "requirements", "r1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestListChangesAfterCursor(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	latest, err := store.LatestChangeSeq(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != 0 {
		t.Fatalf("latest = %d, want 0", latest)
	}

	first := putRecord(t, store, "projects", "proj-1", "", map[string]any{"name": "Launch"})
	putRecord(t, store, "requirements", "r1", "proj-1", map[string]any{"name": "Auth"})
	putRecord(t, store, "requirements", "r2", "proj-1", map[string]any{"name": "Billing"})

	changes, err := store.ListChanges(ctx, first.Seq, 1)
	if err != nil {
		t.Fatalf("list changes: %v", err)
	}
	if len(changes) != 1 || changes[0].ID != "r1" {
		t.Fatalf("changes = %+v, want only r1", changes)
	}

	latest, err = store.LatestChangeSeq(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != first.Seq+2 {
		t.Fatalf("latest = %d, want %d", latest, first.Seq+2)
	}
}
