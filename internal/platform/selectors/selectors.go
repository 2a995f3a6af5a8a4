// Package selectors provides memoized read functions over entity store
// snapshots.
//
// A selector returns the same slice or pointer for as long as the state it
// reads is unchanged, so callers can compare results by identity to skip
// re-rendering.
package selectors

import (
	"sync"

	"github.com/louisbranch/adminhub/internal/platform/entitystore"
)

// ByID resolves one entity. Records are immutable, so the result is stable
// for as long as the entity is not rewritten.
func ByID(state *entitystore.State, id entitystore.EntityID) (*entitystore.Record, bool) {
	return state.Record(id)
}

// IsLoading reports whether key has a fetch in flight.
func IsLoading(state *entitystore.State, key entitystore.ParentKey) bool {
	return state.Status(key).Loading
}

// Error returns the last failure recorded for key, or "".
func Error(state *entitystore.State, key entitystore.ParentKey) string {
	return state.Status(key).Error
}

// HasLoaded reports whether a full collection was ever stored for key. It
// separates an empty result from a key that was never fetched.
func HasLoaded(state *entitystore.State, key entitystore.ParentKey) bool {
	return state.Status(key).Loaded
}

// BucketList resolves a bucket into its records, in bucket order.
type BucketList struct {
	mu   sync.Mutex
	memo map[entitystore.ParentKey]bucketMemo
}

type bucketMemo struct {
	bucket  entitystore.Bucket
	records []*entitystore.Record
}

// NewBucketList returns an empty memoized bucket selector.
func NewBucketList() *BucketList {
	return &BucketList{memo: make(map[entitystore.ParentKey]bucketMemo)}
}

// Select returns the records of key. The previous slice is returned when
// neither the bucket nor any record in it changed.
func (s *BucketList) Select(state *entitystore.State, key entitystore.ParentKey) []*entitystore.Record {
	b := state.Bucket(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.memo[key]; ok && cached.bucket.Same(b) && recordsUnchanged(state, b, cached.records) {
		return cached.records
	}
	var records []*entitystore.Record
	if b.Len() > 0 {
		records = make([]*entitystore.Record, 0, b.Len())
		for i := range b.Len() {
			if record, ok := state.Record(b.At(i)); ok {
				records = append(records, record)
			}
		}
	}
	s.memo[key] = bucketMemo{bucket: b, records: records}
	return records
}

func recordsUnchanged(state *entitystore.State, b entitystore.Bucket, records []*entitystore.Record) bool {
	if b.Len() != len(records) {
		return false
	}
	for i := range b.Len() {
		record, ok := state.Record(b.At(i))
		if !ok || record != records[i] {
			return false
		}
	}
	return true
}

// Collection is the composite view a list screen renders.
type Collection struct {
	Items   []*entitystore.Record
	Loading bool
	Error   string
	Loaded  bool
}

// CollectionSelector resolves items and status for one key together.
type CollectionSelector struct {
	list *BucketList
	mu   sync.Mutex
	memo map[entitystore.ParentKey]*Collection
}

// NewCollectionSelector returns an empty memoized collection selector.
func NewCollectionSelector() *CollectionSelector {
	return &CollectionSelector{
		list: NewBucketList(),
		memo: make(map[entitystore.ParentKey]*Collection),
	}
}

// Select returns the collection for key, reusing the previous value when
// items and status are unchanged.
func (s *CollectionSelector) Select(state *entitystore.State, key entitystore.ParentKey) *Collection {
	items := s.list.Select(state, key)
	status := state.Status(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.memo[key]; ok && sameSlice(cached.Items, items) &&
		cached.Loading == status.Loading && cached.Error == status.Error && cached.Loaded == status.Loaded {
		return cached
	}
	next := &Collection{Items: items, Loading: status.Loading, Error: status.Error, Loaded: status.Loaded}
	s.memo[key] = next
	return next
}

func sameSlice[T any](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return (a == nil) == (b == nil)
	}
	return &a[0] == &b[0]
}
