// Package resources names the admin API resources and how they nest. The
// admin client and the reference backend share it so both sides agree on
// paths, envelope keys and parent fields.
package resources

import "sort"

// Resource describes one REST collection.
type Resource struct {
	// Name is the URL segment, the list envelope key and the cache tag type.
	Name string
	// Parent is the owning resource for nested collections, or "".
	Parent string
	// ParentField is the payload field holding the parent id.
	ParentField string
	// BareList marks collections listed as a JSON array without envelope.
	BareList bool
	// SearchField is matched by the list search parameter.
	SearchField string
}

// Nested reports whether r is listed under a parent.
func (r Resource) Nested() bool {
	return r.Parent != ""
}

var (
	Projects      = Resource{Name: "projects", SearchField: "name"}
	Requirements  = Resource{Name: "requirements", Parent: "projects", ParentField: "projectId", SearchField: "name"}
	Customers     = Resource{Name: "customers", SearchField: "name"}
	Organizations = Resource{Name: "organizations", SearchField: "name"}
	Roles         = Resource{Name: "roles", Parent: "organizations", ParentField: "organizationId", SearchField: "name"}
	Templates     = Resource{Name: "templates", BareList: true, SearchField: "name"}
)

var byName = map[string]Resource{
	Projects.Name:      Projects,
	Requirements.Name:  Requirements,
	Customers.Name:     Customers,
	Organizations.Name: Organizations,
	Roles.Name:         Roles,
	Templates.Name:     Templates,
}

// Lookup returns the resource registered under name.
func Lookup(name string) (Resource, bool) {
	r, ok := byName[name]
	return r, ok
}

// All returns every resource sorted by name.
func All() []Resource {
	out := make([]Resource, 0, len(byName))
	for _, r := range byName {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Children returns the resources nested under parent.
func Children(parent string) []Resource {
	var out []Resource
	for _, r := range All() {
		if r.Parent == parent {
			out = append(out, r)
		}
	}
	return out
}
