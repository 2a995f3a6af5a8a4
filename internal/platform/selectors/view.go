package selectors

import (
	"slices"
	"sync"

	"github.com/louisbranch/adminhub/internal/platform/entitystore"
)

// Predicate keeps records for which it returns true.
type Predicate func(*entitystore.Record) bool

// Comparator orders two records like cmp.Compare.
type Comparator func(a, b *entitystore.Record) int

// View is a filtered and sorted projection of a bucket. Either function may be
// nil: a nil predicate keeps everything and a nil comparator keeps bucket
// order. Sorting is stable.
type View struct {
	list      *BucketList
	predicate Predicate
	compare   Comparator

	mu   sync.Mutex
	memo map[entitystore.ParentKey]viewMemo
}

type viewMemo struct {
	source []*entitystore.Record
	result []*entitystore.Record
}

// NewView returns a memoized view selector.
func NewView(predicate Predicate, compare Comparator) *View {
	return &View{
		list:      NewBucketList(),
		predicate: predicate,
		compare:   compare,
		memo:      make(map[entitystore.ParentKey]viewMemo),
	}
}

// Select returns the projected records of key. The result is recomputed only
// when the underlying bucket list changes.
func (v *View) Select(state *entitystore.State, key entitystore.ParentKey) []*entitystore.Record {
	source := v.list.Select(state, key)

	v.mu.Lock()
	defer v.mu.Unlock()
	if cached, ok := v.memo[key]; ok && sameSlice(cached.source, source) {
		return cached.result
	}

	var result []*entitystore.Record
	if len(source) > 0 {
		result = make([]*entitystore.Record, 0, len(source))
		for _, record := range source {
			if v.predicate == nil || v.predicate(record) {
				result = append(result, record)
			}
		}
		if v.compare != nil {
			slices.SortStableFunc(result, v.compare)
		}
	}
	v.memo[key] = viewMemo{source: source, result: result}
	return result
}
