package entitystore

import (
	"fmt"
	"maps"
	"slices"
	"sort"
)

// Status tracks the fetch lifecycle of one parent key independently of the
// entities in its bucket.
type Status struct {
	Loading bool
	Error   string
	// Loaded is set once a full collection has been stored for the key, which
	// separates "never fetched" from "fetched and empty".
	Loaded bool
}

type bucket struct {
	ids []EntityID
}

func (b *bucket) contains(id EntityID) bool {
	return b != nil && slices.Contains(b.ids, id)
}

// Bucket is a read-only view of one relation index entry.
type Bucket struct {
	b *bucket
}

// Exists reports whether the parent key has a bucket at all.
func (b Bucket) Exists() bool {
	return b.b != nil
}

// Len returns the number of ids in the bucket.
func (b Bucket) Len() int {
	if b.b == nil {
		return 0
	}
	return len(b.b.ids)
}

// At returns the id at position i.
func (b Bucket) At(i int) EntityID {
	return b.b.ids[i]
}

// Contains reports whether id is in the bucket.
func (b Bucket) Contains(id EntityID) bool {
	return b.b.contains(id)
}

// IDs returns a copy of the ordered ids.
func (b Bucket) IDs() []EntityID {
	if b.b == nil {
		return nil
	}
	return slices.Clone(b.b.ids)
}

// Same reports whether two views point at the same unchanged bucket.
func (b Bucket) Same(other Bucket) bool {
	return b.b == other.b
}

// State is an immutable snapshot of the entity table, relation index and
// collection status map.
type State struct {
	entities map[EntityID]*Record
	buckets  map[ParentKey]*bucket
	statuses map[ParentKey]Status
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		entities: make(map[EntityID]*Record),
		buckets:  make(map[ParentKey]*bucket),
		statuses: make(map[ParentKey]Status),
	}
}

// Record returns the entity stored under id.
func (s *State) Record(id EntityID) (*Record, bool) {
	if s == nil {
		return nil, false
	}
	record, ok := s.entities[id]
	return record, ok
}

// Bucket returns the relation index entry for key.
func (s *State) Bucket(key ParentKey) Bucket {
	if s == nil {
		return Bucket{}
	}
	return Bucket{b: s.buckets[key]}
}

// Status returns the collection status for key. Unknown keys report the zero
// status.
func (s *State) Status(key ParentKey) Status {
	if s == nil {
		return Status{}
	}
	return s.statuses[key]
}

// Len returns the number of entities in the table.
func (s *State) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entities)
}

// Keys returns every parent key with a bucket or a status, sorted.
func (s *State) Keys() []ParentKey {
	if s == nil {
		return nil
	}
	seen := make(map[ParentKey]struct{}, len(s.buckets)+len(s.statuses))
	for key := range s.buckets {
		seen[key] = struct{}{}
	}
	for key := range s.statuses {
		seen[key] = struct{}{}
	}
	keys := make([]ParentKey, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// KeysContaining returns the sorted keys whose bucket holds id.
func (s *State) KeysContaining(id EntityID) []ParentKey {
	if s == nil {
		return nil
	}
	var keys []ParentKey
	for key, b := range s.buckets {
		if b.contains(id) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Validate reports relation index entries that have no entity table record.
func (s *State) Validate() error {
	if s == nil {
		return nil
	}
	for _, key := range s.Keys() {
		b := s.buckets[key]
		if b == nil {
			continue
		}
		for _, id := range b.ids {
			if _, ok := s.entities[id]; !ok {
				return fmt.Errorf("bucket %q references missing entity %q", key, id)
			}
		}
	}
	return nil
}

// draft is the copy-on-write working set for one reduction. A map is cloned
// the first time a reduction writes to it.
type draft struct {
	entities     map[EntityID]*Record
	buckets      map[ParentKey]*bucket
	statuses     map[ParentKey]Status
	ownsEntities bool
	ownsBuckets  bool
	ownsStatuses bool
}

func newDraft(base *State) *draft {
	if base == nil {
		base = NewState()
	}
	return &draft{
		entities: base.entities,
		buckets:  base.buckets,
		statuses: base.statuses,
	}
}

func (d *draft) writeEntities() map[EntityID]*Record {
	if !d.ownsEntities {
		d.entities = cloneMap(d.entities)
		d.ownsEntities = true
	}
	return d.entities
}

func (d *draft) writeBuckets() map[ParentKey]*bucket {
	if !d.ownsBuckets {
		d.buckets = cloneMap(d.buckets)
		d.ownsBuckets = true
	}
	return d.buckets
}

func (d *draft) writeStatuses() map[ParentKey]Status {
	if !d.ownsStatuses {
		d.statuses = cloneMap(d.statuses)
		d.ownsStatuses = true
	}
	return d.statuses
}

func (d *draft) commit() *State {
	return &State{entities: d.entities, buckets: d.buckets, statuses: d.statuses}
}

// upsert stores entity as the full record for its id and returns the id.
// Fields missing from entity are dropped. A write that changes nothing keeps
// the existing record pointer.
func (d *draft) upsert(entity Entity) (EntityID, bool) {
	id, ok := entity.ID()
	if !ok {
		return "", false
	}
	if existing, found := d.entities[id]; found && existing.equals(entity) {
		return id, true
	}
	d.writeEntities()[id] = newRecord(id, entity)
	return id, true
}

func (d *draft) referencedElsewhere(id EntityID, except ParentKey) bool {
	for key, b := range d.buckets {
		if key != except && b.contains(id) {
			return true
		}
	}
	return false
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	cloned := make(map[K]V, len(m)+1)
	maps.Copy(cloned, m)
	return cloned
}
