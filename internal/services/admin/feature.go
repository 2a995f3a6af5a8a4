package admin

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/louisbranch/adminhub/internal/platform/apiclient"
	"github.com/louisbranch/adminhub/internal/platform/entitystore"
	"github.com/louisbranch/adminhub/internal/platform/query"
	"github.com/louisbranch/adminhub/internal/platform/selectors"
	"github.com/louisbranch/adminhub/internal/services/shared/resources"
)

// ListArgs selects one page of a collection.
type ListArgs struct {
	Parent string `json:"parent,omitempty"`
	Page   int    `json:"page,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Search string `json:"search,omitempty"`
	Status string `json:"status,omitempty"`
}

// Filters returns the query parameters of args.
func (a ListArgs) Filters() url.Values {
	values := url.Values{}
	if a.Page > 0 {
		values.Set("page", strconv.Itoa(a.Page))
	}
	if a.Limit > 0 {
		values.Set("limit", strconv.Itoa(a.Limit))
	}
	if a.Search != "" {
		values.Set("search", a.Search)
	}
	if a.Status != "" {
		values.Set("status", a.Status)
	}
	return values
}

// Key returns the bucket the list result is stored under.
func (a ListArgs) Key() entitystore.ParentKey {
	return entitystore.CollectionKey(a.Parent, a.Filters())
}

// CreateArgs carries a new entity. Parent selects the owning record of a
// nested resource; when empty the parent field of Fields is used.
type CreateArgs struct {
	Parent string
	Fields entitystore.Entity
}

// UpdateArgs carries the fields written to an existing entity.
type UpdateArgs struct {
	ID     string
	Fields entitystore.Entity
}

// DeleteArgs names the entity to delete. Parent, when known, also
// invalidates the parent's lists.
type DeleteArgs struct {
	ID     string
	Parent string
}

// Feature is the cache-backed client of one resource.
type Feature struct {
	resource resources.Resource
	store    *entitystore.Store
	client   *query.Client

	list    *query.Query[ListArgs, apiclient.List]
	get     *query.Query[string, entitystore.Entity]
	create  *query.Mutation[CreateArgs, entitystore.Entity]
	update  *query.Mutation[UpdateArgs, entitystore.Entity]
	replace *query.Mutation[UpdateArgs, entitystore.Entity]
	remove  *query.Mutation[DeleteArgs, struct{}]

	collections *selectors.CollectionSelector
}

// NewFeature declares the endpoints of res on client, normalizing into a
// new entity store. With rollback, a failed delete restores the removed
// entity.
func NewFeature(client *query.Client, res resources.Resource, rollback bool) *Feature {
	f := &Feature{
		resource:    res,
		store:       entitystore.New(),
		client:      client,
		collections: selectors.NewCollectionSelector(),
	}

	f.list = query.DefineQuery(client, query.QueryDef[ListArgs, apiclient.List]{
		Name:    res.Name + ".list",
		Request: f.listRequest,
		Decode: func(resp *apiclient.Response) (apiclient.List, error) {
			return apiclient.DecodeList(resp, res.Name)
		},
		ProvidesTags: func(args ListArgs, result apiclient.List) []query.Tag {
			tags := make([]query.Tag, 0, len(result.Items)+1)
			tags = append(tags, query.ListTag(res.Name, args.Parent))
			for _, item := range result.Items {
				if id, ok := item.ID(); ok {
					tags = append(tags, query.EntityTag(res.Name, string(id)))
				}
			}
			return tags
		},
		Hooks: query.Hooks[ListArgs, apiclient.List]{
			OnStart: func(args ListArgs) []entitystore.Event {
				return []entitystore.Event{entitystore.SetLoading{Key: args.Key()}}
			},
			OnResult: func(args ListArgs, result apiclient.List) []entitystore.Event {
				return []entitystore.Event{entitystore.SetCollection{Key: args.Key(), Items: result.Items}}
			},
			OnError: func(args ListArgs, err error) []entitystore.Event {
				return []entitystore.Event{entitystore.SetError{Key: args.Key(), Message: err.Error()}}
			},
		},
		Store: f.store,
	})

	f.get = query.DefineQuery(client, query.QueryDef[string, entitystore.Entity]{
		Name: res.Name + ".get",
		Request: func(id string) apiclient.Request {
			return apiclient.Request{Method: http.MethodGet, Path: apiclient.Path(res.Name, id)}
		},
		Decode: apiclient.DecodeEntity,
		Key:    func(id string) string { return id },
		ProvidesTags: func(id string, _ entitystore.Entity) []query.Tag {
			return []query.Tag{query.EntityTag(res.Name, id)}
		},
		Hooks: query.Hooks[string, entitystore.Entity]{
			OnResult: func(_ string, entity entitystore.Entity) []entitystore.Event {
				return []entitystore.Event{entitystore.UpsertOne{Entity: entity}}
			},
		},
		Store: f.store,
	})

	f.create = query.DefineMutation(client, query.MutationDef[CreateArgs, entitystore.Entity]{
		Name:    res.Name + ".create",
		Request: f.createRequest,
		Decode:  apiclient.DecodeEntity,
		InvalidatesTags: func(args CreateArgs, _ entitystore.Entity) []query.Tag {
			return f.listTags(f.parentOf(args))
		},
		Hooks: query.Hooks[CreateArgs, entitystore.Entity]{
			OnResult: func(args CreateArgs, entity entitystore.Entity) []entitystore.Event {
				return []entitystore.Event{entitystore.AddOne{Key: entitystore.ParentKey(f.parentOf(args)), Entity: entity}}
			},
		},
		Store: f.store,
	})

	f.update = f.defineWrite("update", http.MethodPatch)
	f.replace = f.defineWrite("replace", http.MethodPut)

	f.remove = query.DefineMutation(client, query.MutationDef[DeleteArgs, struct{}]{
		Name: res.Name + ".delete",
		Request: func(args DeleteArgs) apiclient.Request {
			return apiclient.Request{Method: http.MethodDelete, Path: apiclient.Path(res.Name, args.ID)}
		},
		InvalidatesTags: func(args DeleteArgs, _ struct{}) []query.Tag {
			tags := []query.Tag{query.EntityTag(res.Name, args.ID)}
			if args.Parent != "" {
				tags = append(tags, query.ListTag(res.Name, args.Parent))
			}
			return tags
		},
		Optimistic: func(state *entitystore.State, args DeleteArgs) ([]entitystore.Event, []entitystore.Event) {
			return removeEvents(state, entitystore.EntityID(args.ID))
		},
		Rollback: rollback,
		Store:    f.store,
	})

	return f
}

func (f *Feature) defineWrite(verb, method string) *query.Mutation[UpdateArgs, entitystore.Entity] {
	res := f.resource
	return query.DefineMutation(f.client, query.MutationDef[UpdateArgs, entitystore.Entity]{
		Name: res.Name + "." + verb,
		Request: func(args UpdateArgs) apiclient.Request {
			return apiclient.Request{Method: method, Path: apiclient.Path(res.Name, args.ID), Body: args.Fields}
		},
		Decode: apiclient.DecodeEntity,
		InvalidatesTags: func(args UpdateArgs, _ entitystore.Entity) []query.Tag {
			return []query.Tag{query.EntityTag(res.Name, args.ID)}
		},
		Hooks: query.Hooks[UpdateArgs, entitystore.Entity]{
			OnResult: func(_ UpdateArgs, entity entitystore.Entity) []entitystore.Event {
				return []entitystore.Event{entitystore.UpdateOne{Patch: entity}}
			},
		},
		Store: f.store,
	})
}

// removeEvents removes id from every bucket holding it, or from the entity
// table alone when no bucket does, and returns the events undoing that.
func removeEvents(state *entitystore.State, id entitystore.EntityID) (apply, undo []entitystore.Event) {
	record, ok := state.Record(id)
	if !ok {
		return nil, nil
	}
	keys := state.KeysContaining(id)
	if len(keys) == 0 {
		return []entitystore.Event{entitystore.RemoveOne{ID: id}},
			[]entitystore.Event{entitystore.UpsertOne{Entity: record.Fields()}}
	}
	for _, key := range keys {
		bucket := state.Bucket(key)
		index := 0
		for i := range bucket.Len() {
			if bucket.At(i) == id {
				index = i
				break
			}
		}
		apply = append(apply, entitystore.RemoveOne{Key: key, ID: id})
		undo = append(undo, entitystore.RestoreOne{Key: key, Record: record, Index: index})
	}
	return apply, undo
}

// Resource returns the resource the feature serves.
func (f *Feature) Resource() resources.Resource { return f.resource }

// Store returns the feature's entity store.
func (f *Feature) Store() *entitystore.Store { return f.store }

// List fetches a page of the collection into the bucket args.Key().
func (f *Feature) List(ctx context.Context, args ListArgs) (apiclient.List, error) {
	return f.list.Fetch(ctx, args)
}

// Refresh refetches a page regardless of cache state.
func (f *Feature) Refresh(ctx context.Context, args ListArgs) (apiclient.List, error) {
	return f.list.Refetch(ctx, args)
}

// Watch keeps a page live until ctx ends: invalidations refetch it and
// listener receives every outcome.
func (f *Feature) Watch(ctx context.Context, args ListArgs, listener func(apiclient.List, error)) *query.Subscription {
	return f.list.Subscribe(ctx, args, listener)
}

// Get fetches one entity into the entity table.
func (f *Feature) Get(ctx context.Context, id string) (entitystore.Entity, error) {
	return f.get.Fetch(ctx, id)
}

// Create posts a new entity and appends it to its parent's bucket.
func (f *Feature) Create(ctx context.Context, args CreateArgs) (entitystore.Entity, error) {
	return f.create.Run(ctx, args)
}

// Update shallow-merges fields into the entity.
func (f *Feature) Update(ctx context.Context, id string, fields entitystore.Entity) (entitystore.Entity, error) {
	return f.update.Run(ctx, UpdateArgs{ID: id, Fields: fields})
}

// Replace overwrites the entity with fields. The cached record is merged
// with the response; the next fetch of the entity replaces it and drops
// fields the server removed.
func (f *Feature) Replace(ctx context.Context, id string, fields entitystore.Entity) (entitystore.Entity, error) {
	return f.replace.Run(ctx, UpdateArgs{ID: id, Fields: fields})
}

// Delete removes the entity from the store before the request is sent.
func (f *Feature) Delete(ctx context.Context, args DeleteArgs) error {
	_, err := f.remove.Run(ctx, args)
	return err
}

// Clear drops the bucket args resolves to, with its status and the entities
// no other bucket references, and marks the parent's lists stale so the next
// List refetches them. Watched lists refetch immediately.
func (f *Feature) Clear(args ListArgs) {
	f.store.Dispatch(entitystore.Clear{Key: args.Key()})
	f.client.Invalidate(query.ListTag(f.resource.Name, args.Parent))
}

// Collection returns the memoized items and status of the bucket args
// resolves to.
func (f *Feature) Collection(args ListArgs) *selectors.Collection {
	return f.collections.Select(f.store.Snapshot(), args.Key())
}

// Record returns the cached entity with id.
func (f *Feature) Record(id string) (*entitystore.Record, bool) {
	return selectors.ByID(f.store.Snapshot(), entitystore.EntityID(id))
}

// Invalidation returns the tags a feed change to id under parent affects.
func (f *Feature) Invalidation(id, parent string) []query.Tag {
	return append([]query.Tag{query.EntityTag(f.resource.Name, id)}, f.listTags(parent)...)
}

func (f *Feature) listRequest(args ListArgs) apiclient.Request {
	path := apiclient.Path(f.resource.Name)
	if f.resource.Nested() && args.Parent != "" {
		path = apiclient.Path(f.resource.Parent, args.Parent, f.resource.Name)
	}
	return apiclient.Request{Method: http.MethodGet, Path: path, Query: args.Filters()}
}

func (f *Feature) createRequest(args CreateArgs) apiclient.Request {
	path := apiclient.Path(f.resource.Name)
	if f.resource.Nested() && args.Parent != "" {
		path = apiclient.Path(f.resource.Parent, args.Parent, f.resource.Name)
	}
	return apiclient.Request{Method: http.MethodPost, Path: path, Body: args.Fields}
}

func (f *Feature) parentOf(args CreateArgs) string {
	if !f.resource.Nested() {
		return ""
	}
	if args.Parent != "" {
		return args.Parent
	}
	if id, ok := entitystore.NormalizeID(args.Fields[f.resource.ParentField]); ok {
		return string(id)
	}
	return ""
}

// listTags covers the parent's lists and the unscoped list.
func (f *Feature) listTags(parent string) []query.Tag {
	tags := []query.Tag{query.ListTag(f.resource.Name, "")}
	if parent != "" {
		tags = append(tags, query.ListTag(f.resource.Name, parent))
	}
	return tags
}

// View returns the records of the bucket args resolves to, projected by view.
func (f *Feature) View(args ListArgs, view *selectors.View) []*entitystore.Record {
	return view.Select(f.store.Snapshot(), args.Key())
}
