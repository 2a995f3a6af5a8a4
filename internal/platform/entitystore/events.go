package entitystore

// Event is one normalization instruction for the store. The set is closed:
// only the types in this package implement it.
type Event interface {
	eventName() string
}

// SetCollection replaces the bucket for Key with Items, in order, and upserts
// every item. It ends the key's loading state and clears its error.
type SetCollection struct {
	Key   ParentKey
	Items []Entity
}

// UpsertOne stores a standalone entity without touching any bucket.
type UpsertOne struct {
	Entity Entity
}

// AddOne upserts Entity and appends its id to the bucket for Key.
type AddOne struct {
	Key    ParentKey
	Entity Entity
}

// UpdateOne shallow-merges Patch onto an existing record. Unknown ids are
// ignored.
type UpdateOne struct {
	Patch Entity
}

// RemoveOne deletes ID from the entity table and from the bucket for Key. No
// other bucket is searched; while another bucket still references the id the
// record stays in the table.
type RemoveOne struct {
	Key ParentKey
	ID  EntityID
}

// RestoreOne puts back a record removed by an optimistic mutation at its
// former bucket position.
type RestoreOne struct {
	Key    ParentKey
	Record *Record
	Index  int
}

// SetLoading marks Key as loading and drops its previous error.
type SetLoading struct {
	Key ParentKey
}

// SetError ends loading for Key with a failure message. The bucket is left as
// it was.
type SetError struct {
	Key     ParentKey
	Message string
}

// Clear deletes the bucket and status for Key along with the entities no
// other bucket references.
type Clear struct {
	Key ParentKey
}

// Reset empties the store.
type Reset struct{}

func (SetCollection) eventName() string { return "set-collection" }
func (UpsertOne) eventName() string     { return "upsert-one" }
func (AddOne) eventName() string        { return "add-one" }
func (UpdateOne) eventName() string     { return "update-one" }
func (RemoveOne) eventName() string     { return "remove-one" }
func (RestoreOne) eventName() string    { return "restore-one" }
func (SetLoading) eventName() string    { return "set-loading" }
func (SetError) eventName() string      { return "set-error" }
func (Clear) eventName() string         { return "clear" }
func (Reset) eventName() string         { return "reset" }

// EventName returns the stable name of an event kind, for logs and traces.
func EventName(event Event) string {
	if event == nil {
		return ""
	}
	return event.eventName()
}
