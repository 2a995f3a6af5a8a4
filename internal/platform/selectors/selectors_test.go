package selectors

import (
	"testing"

	"github.com/louisbranch/adminhub/internal/platform/entitystore"
)

func seededStore() *entitystore.Store {
	store := entitystore.New()
	store.Dispatch(entitystore.SetCollection{Key: "proj-1", Items: []entitystore.Entity{
		{"id": "r1", "name": "Auth", "status": "open", "priority": 2},
		{"id": "r2", "name": "Billing", "status": "done", "priority": 1},
		{"id": "r3", "name": "Catalog", "status": "open", "priority": 3},
	}})
	return store
}

func ids(records []*entitystore.Record) []entitystore.EntityID {
	out := make([]entitystore.EntityID, 0, len(records))
	for _, record := range records {
		out = append(out, record.ID())
	}
	return out
}

func equalIDs(a []entitystore.EntityID, b ...entitystore.EntityID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBucketListIsReferentiallyStable(t *testing.T) {
	t.Parallel()

	store := seededStore()
	list := NewBucketList()

	first := list.Select(store.Snapshot(), "proj-1")
	if got := ids(first); !equalIDs(got, "r1", "r2", "r3") {
		t.Fatalf("ids = %v", got)
	}

	store.Dispatch(entitystore.SetError{Key: "other", Message: "x"})
	store.Dispatch(entitystore.UpsertOne{Entity: entitystore.Entity{"id": "unrelated"}})
	second := list.Select(store.Snapshot(), "proj-1")
	if !sameSlice(first, second) {
		t.Fatal("expected the same slice for unchanged inputs")
	}

	store.Dispatch(entitystore.UpdateOne{Patch: entitystore.Entity{"id": "r2", "name": "Billing v2"}})
	third := list.Select(store.Snapshot(), "proj-1")
	if sameSlice(second, third) {
		t.Fatal("expected a new slice after a record in the bucket changed")
	}
	if got := third[1].String("name"); got != "Billing v2" {
		t.Fatalf("name = %q, want %q", got, "Billing v2")
	}
}

func TestBucketListUnknownKey(t *testing.T) {
	t.Parallel()

	list := NewBucketList()
	if got := list.Select(entitystore.NewState(), "missing"); got != nil {
		t.Fatalf("records = %v, want nil", got)
	}
}

func TestStatusSelectors(t *testing.T) {
	t.Parallel()

	store := entitystore.New()
	state := store.Snapshot()
	if HasLoaded(state, "P") || IsLoading(state, "P") || Error(state, "P") != "" {
		t.Fatal("expected zero status for a never-fetched key")
	}

	store.Dispatch(entitystore.SetLoading{Key: "P"})
	if !IsLoading(store.Snapshot(), "P") {
		t.Fatal("expected loading")
	}

	store.Dispatch(entitystore.SetCollection{Key: "P"})
	state = store.Snapshot()
	if !HasLoaded(state, "P") {
		t.Fatal("expected fetched-empty bucket to report loaded")
	}
	if IsLoading(state, "P") {
		t.Fatal("expected loading cleared")
	}

	store.Dispatch(entitystore.SetError{Key: "P", Message: "timeout"})
	if got := Error(store.Snapshot(), "P"); got != "timeout" {
		t.Fatalf("error = %q, want %q", got, "timeout")
	}
}

func TestByID(t *testing.T) {
	t.Parallel()

	store := seededStore()
	record, ok := ByID(store.Snapshot(), "r3")
	if !ok || record.String("name") != "Catalog" {
		t.Fatalf("record = %v, %v", record, ok)
	}
	if _, ok := ByID(store.Snapshot(), "nope"); ok {
		t.Fatal("expected miss")
	}
}

func TestCollectionSelectorReusesValue(t *testing.T) {
	t.Parallel()

	store := seededStore()
	selector := NewCollectionSelector()

	first := selector.Select(store.Snapshot(), "proj-1")
	if !first.Loaded || first.Loading || len(first.Items) != 3 {
		t.Fatalf("collection = %+v", first)
	}
	if second := selector.Select(store.Snapshot(), "proj-1"); second != first {
		t.Fatal("expected the same collection pointer")
	}

	store.Dispatch(entitystore.SetLoading{Key: "proj-1"})
	third := selector.Select(store.Snapshot(), "proj-1")
	if third == first || !third.Loading {
		t.Fatalf("collection = %+v, want a new loading value", third)
	}
	if !sameSlice(first.Items, third.Items) {
		t.Fatal("expected items to stay shared when only status changed")
	}
}

func TestViewFiltersSortsAndMemoizes(t *testing.T) {
	t.Parallel()

	store := seededStore()
	view := NewView(
		func(r *entitystore.Record) bool { return r.String("status") == "open" },
		func(a, b *entitystore.Record) int {
			pa, _ := a.Field("priority")
			pb, _ := b.Field("priority")
			return pb.(int) - pa.(int)
		},
	)

	first := view.Select(store.Snapshot(), "proj-1")
	if got := ids(first); !equalIDs(got, "r3", "r1") {
		t.Fatalf("ids = %v, want [r3 r1]", got)
	}
	store.Dispatch(entitystore.SetLoading{Key: "proj-1"})
	if second := view.Select(store.Snapshot(), "proj-1"); !sameSlice(first, second) {
		t.Fatal("expected memoized view")
	}

	store.Dispatch(entitystore.RemoveOne{Key: "proj-1", ID: "r3"})
	if got := ids(view.Select(store.Snapshot(), "proj-1")); !equalIDs(got, "r1") {
		t.Fatalf("ids = %v, want [r1]", got)
	}
}

func TestViewWithoutFunctionsKeepsBucketOrder(t *testing.T) {
	t.Parallel()

	store := seededStore()
	got := ids(NewView(nil, nil).Select(store.Snapshot(), "proj-1"))
	if !equalIDs(got, "r1", "r2", "r3") {
		t.Fatalf("ids = %v", got)
	}
}
