package entitystore

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

// IDField is the payload field that carries an entity identifier.
const IDField = "id"

// EntityID identifies one entity. Numeric server ids are normalized to their
// decimal text so 7 and "7" address the same record.
type EntityID string

// ParentKey groups entities in the relation index, e.g. a project id.
type ParentKey string

// Entity is a raw decoded server payload. Only the id field is interpreted.
type Entity map[string]any

// ID returns the normalized identifier of the payload.
func (e Entity) ID() (EntityID, bool) {
	if e == nil {
		return "", false
	}
	return NormalizeID(e[IDField])
}

// NormalizeID converts a decoded id value into an EntityID.
func NormalizeID(value any) (EntityID, bool) {
	switch v := value.(type) {
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return "", false
		}
		return EntityID(v), true
	case EntityID:
		if v == "" {
			return "", false
		}
		return v, true
	case json.Number:
		return NormalizeID(string(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", false
		}
		return EntityID(strconv.FormatFloat(v, 'f', -1, 64)), true
	case int:
		return EntityID(strconv.Itoa(v)), true
	case int64:
		return EntityID(strconv.FormatInt(v, 10)), true
	case uint64:
		return EntityID(strconv.FormatUint(v, 10)), true
	default:
		return "", false
	}
}

// CollectionKey builds the parent key for a list fetched with filters. An
// unfiltered list uses the parent key itself, so incremental adds for that
// parent land in the same bucket.
func CollectionKey(parent string, filters url.Values) ParentKey {
	parent = strings.TrimSpace(parent)
	if len(filters) == 0 {
		return ParentKey(parent)
	}
	encoded := filters.Encode()
	if encoded == "" {
		return ParentKey(parent)
	}
	return ParentKey(parent + "?" + encoded)
}

// Record is the normalized, immutable form of an entity. A write never
// changes an existing Record; it replaces it with a new one.
type Record struct {
	id     EntityID
	fields map[string]any
}

func newRecord(id EntityID, fields Entity) *Record {
	copied := make(map[string]any, len(fields)+1)
	maps.Copy(copied, fields)
	return &Record{id: id, fields: copied}
}

// merge returns a new record with patch shallow-merged onto r. Nested values
// are replaced wholesale.
func (r *Record) merge(patch Entity) *Record {
	merged := make(map[string]any, len(r.fields)+len(patch))
	maps.Copy(merged, r.fields)
	maps.Copy(merged, patch)
	merged[IDField] = r.fields[IDField]
	return &Record{id: r.id, fields: merged}
}

// equals reports whether r holds exactly the fields of entity.
func (r *Record) equals(entity Entity) bool {
	if len(r.fields) != len(entity) {
		return false
	}
	for key, value := range entity {
		current, ok := r.fields[key]
		if !ok || !reflect.DeepEqual(current, value) {
			return false
		}
	}
	return true
}

// ID returns the record identifier.
func (r *Record) ID() EntityID {
	if r == nil {
		return ""
	}
	return r.id
}

// Field returns one top-level field.
func (r *Record) Field(name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	value, ok := r.fields[name]
	return value, ok
}

// String returns a field rendered as text, or "" when absent.
func (r *Record) String(name string) string {
	value, ok := r.Field(name)
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Fields returns a shallow copy of the record payload.
func (r *Record) Fields() Entity {
	if r == nil {
		return nil
	}
	copied := make(Entity, len(r.fields))
	maps.Copy(copied, r.fields)
	return copied
}

// MarshalJSON encodes the record payload.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return json.Marshal(r.fields)
}

// Decode converts the record into a typed value through its JSON form.
func (r *Record) Decode(into any) error {
	payload, err := r.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode record %q: %w", r.ID(), err)
	}
	if err := json.Unmarshal(payload, into); err != nil {
		return fmt.Errorf("decode record %q: %w", r.ID(), err)
	}
	return nil
}
