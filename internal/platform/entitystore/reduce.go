package entitystore

import (
	"reflect"
	"slices"
)

const unknownErrorMessage = "request failed"

// Reduce applies one event to state and returns the resulting state. The
// input is never modified. Events that reference unknown ids or keys are
// no-ops for that part of the event.
func Reduce(state *State, event Event) *State {
	if state == nil {
		state = NewState()
	}
	switch e := event.(type) {
	case SetCollection:
		return reduceSetCollection(state, e)
	case UpsertOne:
		d := newDraft(state)
		if _, ok := d.upsert(e.Entity); !ok {
			return state
		}
		return d.commit()
	case AddOne:
		return reduceAddOne(state, e)
	case UpdateOne:
		return reduceUpdateOne(state, e)
	case RemoveOne:
		return reduceRemoveOne(state, e)
	case RestoreOne:
		return reduceRestoreOne(state, e)
	case SetLoading:
		d := newDraft(state)
		status := state.statuses[e.Key]
		status.Loading = true
		status.Error = ""
		d.writeStatuses()[e.Key] = status
		return d.commit()
	case SetError:
		d := newDraft(state)
		status := state.statuses[e.Key]
		status.Loading = false
		status.Error = e.Message
		if status.Error == "" {
			status.Error = unknownErrorMessage
		}
		d.writeStatuses()[e.Key] = status
		return d.commit()
	case Clear:
		return reduceClear(state, e)
	case Reset:
		return NewState()
	default:
		return state
	}
}

func reduceSetCollection(state *State, e SetCollection) *State {
	d := newDraft(state)
	ids := make([]EntityID, 0, len(e.Items))
	seen := make(map[EntityID]struct{}, len(e.Items))
	for _, item := range e.Items {
		id, ok := d.upsert(item)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	existing := state.buckets[e.Key]
	if existing == nil || !slices.Equal(existing.ids, ids) {
		d.writeBuckets()[e.Key] = &bucket{ids: ids}
	}
	d.writeStatuses()[e.Key] = Status{Loaded: true}
	return d.commit()
}

func reduceAddOne(state *State, e AddOne) *State {
	d := newDraft(state)
	id, ok := d.upsert(e.Entity)
	if !ok {
		return state
	}
	existing := state.buckets[e.Key]
	if existing.contains(id) {
		return d.commit()
	}
	ids := make([]EntityID, 0, bucketLen(existing)+1)
	if existing != nil {
		ids = append(ids, existing.ids...)
	}
	d.writeBuckets()[e.Key] = &bucket{ids: append(ids, id)}
	return d.commit()
}

func reduceUpdateOne(state *State, e UpdateOne) *State {
	id, ok := e.Patch.ID()
	if !ok {
		return state
	}
	existing, found := state.entities[id]
	if !found || !changesRecord(existing, e.Patch) {
		return state
	}
	d := newDraft(state)
	d.writeEntities()[id] = existing.merge(e.Patch)
	return d.commit()
}

func reduceRemoveOne(state *State, e RemoveOne) *State {
	d := newDraft(state)
	changed := false
	if existing := state.buckets[e.Key]; existing.contains(e.ID) {
		ids := slices.DeleteFunc(slices.Clone(existing.ids), func(id EntityID) bool { return id == e.ID })
		d.writeBuckets()[e.Key] = &bucket{ids: ids}
		changed = true
	}
	if _, found := state.entities[e.ID]; found && !d.referencedElsewhere(e.ID, e.Key) {
		delete(d.writeEntities(), e.ID)
		changed = true
	}
	if !changed {
		return state
	}
	return d.commit()
}

func reduceRestoreOne(state *State, e RestoreOne) *State {
	if e.Record == nil || e.Record.id == "" {
		return state
	}
	d := newDraft(state)
	if _, found := state.entities[e.Record.id]; !found {
		d.writeEntities()[e.Record.id] = e.Record
	}
	existing := state.buckets[e.Key]
	if existing.contains(e.Record.id) {
		return d.commit()
	}
	index := min(max(e.Index, 0), bucketLen(existing))
	ids := make([]EntityID, 0, bucketLen(existing)+1)
	if existing != nil {
		ids = append(ids, existing.ids...)
	}
	d.writeBuckets()[e.Key] = &bucket{ids: slices.Insert(ids, index, e.Record.id)}
	return d.commit()
}

func reduceClear(state *State, e Clear) *State {
	existing, hasBucket := state.buckets[e.Key]
	_, hasStatus := state.statuses[e.Key]
	if !hasBucket && !hasStatus {
		return state
	}
	d := newDraft(state)
	if hasBucket {
		delete(d.writeBuckets(), e.Key)
		for _, id := range existing.ids {
			if d.referencedElsewhere(id, e.Key) {
				continue
			}
			if _, found := d.entities[id]; found {
				delete(d.writeEntities(), id)
			}
		}
	}
	if hasStatus {
		delete(d.writeStatuses(), e.Key)
	}
	return d.commit()
}

func bucketLen(b *bucket) int {
	if b == nil {
		return 0
	}
	return len(b.ids)
}

// changesRecord reports whether merging patch would alter any field of r.
func changesRecord(r *Record, patch Entity) bool {
	for key, value := range patch {
		if key == IDField {
			continue
		}
		current, ok := r.fields[key]
		if !ok || !reflect.DeepEqual(current, value) {
			return true
		}
	}
	return false
}
