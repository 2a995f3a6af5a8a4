package query

import "strings"

// listID is the tag id reserved for collection results.
const listID = "LIST"

// Tag labels a cached result so mutations can invalidate it.
type Tag struct {
	Type string
	ID   string
}

// EntityTag tags one entity of a type.
func EntityTag(typ, id string) Tag {
	return Tag{Type: typ, ID: id}
}

// ListTag tags the collection of typ under parent. An empty parent is the
// unscoped list.
func ListTag(typ, parent string) Tag {
	if parent == "" {
		return Tag{Type: typ, ID: listID}
	}
	return Tag{Type: typ, ID: listID + ":" + parent}
}

// TypeTag matches every tag of typ when used for invalidation.
func TypeTag(typ string) Tag {
	return Tag{Type: typ}
}

// Matches reports whether invalidating t affects a result tagged other. An
// empty ID matches every tag of the same type.
func (t Tag) Matches(other Tag) bool {
	if t.Type != other.Type {
		return false
	}
	return t.ID == "" || t.ID == other.ID
}

// IsList reports whether t tags a collection.
func (t Tag) IsList() bool {
	return t.ID == listID || strings.HasPrefix(t.ID, listID+":")
}

func (t Tag) String() string {
	if t.ID == "" {
		return t.Type
	}
	return t.Type + "/" + t.ID
}

func matchesAny(invalidated []Tag, provided []Tag) bool {
	for _, inv := range invalidated {
		for _, tag := range provided {
			if inv.Matches(tag) {
				return true
			}
		}
	}
	return false
}
