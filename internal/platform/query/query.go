package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/louisbranch/adminhub/internal/platform/apiclient"
	"github.com/louisbranch/adminhub/internal/platform/entitystore"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Hooks project a network result into entity store events. Each hook runs
// once per network call, never per waiter.
type Hooks[A, R any] struct {
	OnStart  func(args A) []entitystore.Event
	OnResult func(args A, result R) []entitystore.Event
	OnError  func(args A, err error) []entitystore.Event
}

// QueryDef declares a read endpoint.
type QueryDef[A, R any] struct {
	// Name identifies the query in cache keys and spans.
	Name string
	// Request builds the HTTP request for args.
	Request func(args A) apiclient.Request
	// Decode turns a successful response into R.
	Decode func(resp *apiclient.Response) (R, error)
	// Key identifies args in the cache. Defaults to their JSON encoding.
	Key func(args A) string
	// ProvidesTags labels a result for invalidation.
	ProvidesTags func(args A, result R) []Tag
	Hooks        Hooks[A, R]
	// Store receives the events returned by Hooks.
	Store entitystore.Dispatcher
}

// Query is a declared read endpoint bound to a Client.
type Query[A, R any] struct {
	client *Client
	def    QueryDef[A, R]
}

// DefineQuery binds def to c. It panics when def lacks a name, a request
// builder or a decoder.
func DefineQuery[A, R any](c *Client, def QueryDef[A, R]) *Query[A, R] {
	if c == nil || def.Name == "" || def.Request == nil || def.Decode == nil {
		panic(fmt.Sprintf("query: incomplete definition %q", def.Name))
	}
	return &Query[A, R]{client: c, def: def}
}

// Name returns the query name.
func (q *Query[A, R]) Name() string { return q.def.Name }

// Fetch returns the cached result for args when it is fresh and otherwise
// performs the request, sharing it with concurrent identical fetches. On
// failure the previous result stays cached.
func (q *Query[A, R]) Fetch(ctx context.Context, args A) (R, error) {
	key := q.cacheKey(args)
	c := q.client

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		var zero R
		return zero, ErrClosed
	}
	if e, ok := c.entries[key]; ok && e.fresh(c.now(), c.ttl) {
		value := e.value.(R)
		c.mu.Unlock()
		return value, nil
	}
	c.mu.Unlock()

	return q.run(ctx, args, key)
}

// Refetch performs the request for args regardless of cache state.
func (q *Query[A, R]) Refetch(ctx context.Context, args A) (R, error) {
	return q.run(ctx, args, q.cacheKey(args))
}

// Cached returns the last successful result for args, fresh or stale.
func (q *Query[A, R]) Cached(args A) (R, bool) {
	c := q.client
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[q.cacheKey(args)]; ok && e.hasValue {
		return e.value.(R), true
	}
	var zero R
	return zero, false
}

// Stale reports whether the result for args would be refetched by Fetch.
func (q *Query[A, R]) Stale(args A) bool {
	c := q.client
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[q.cacheKey(args)]
	return !ok || !e.fresh(c.now(), c.ttl)
}

// Subscription keeps a query result live: invalidations refetch it in the
// background and every outcome is delivered to the listener.
type Subscription struct {
	client *Client
	key    string
	id     uint64
	once   sync.Once
	stop   func() bool
}

// Unsubscribe stops deliveries. In-flight requests are not cancelled.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		c := s.client
		c.mu.Lock()
		defer c.mu.Unlock()
		e, ok := c.entries[s.key]
		if !ok {
			return
		}
		for i, sub := range e.subs {
			if sub.id == s.id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				break
			}
		}
	})
}

// Subscribe registers listener for args until ctx ends or Unsubscribe is
// called. A cached result is delivered immediately; a missing or stale one
// is fetched in the background. Listeners of one key are called in
// registration order.
func (q *Query[A, R]) Subscribe(ctx context.Context, args A, listener func(R, error)) *Subscription {
	key := q.cacheKey(args)
	c := q.client

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		var zero R
		listener(zero, ErrClosed)
		return &Subscription{client: c, key: key}
	}
	c.nextSub++
	sub := &Subscription{client: c, key: key, id: c.nextSub}
	e := c.entry(key)
	e.subs = append(e.subs, subscriber{id: sub.id, fn: func(value any, err error) {
		result, _ := value.(R)
		listener(result, err)
	}})
	e.refetch = func(ctx context.Context) error {
		_, err := q.run(ctx, args, key)
		return err
	}
	refetch := e.refetch
	cached, hasValue := e.value, e.hasValue
	fresh := e.fresh(c.now(), c.ttl)
	c.mu.Unlock()

	sub.stop = context.AfterFunc(ctx, sub.Unsubscribe)
	if hasValue {
		listener(cached.(R), nil)
	}
	if !fresh {
		c.spawn(key, refetch)
	}
	return sub
}

func (q *Query[A, R]) run(ctx context.Context, args A, key string) (R, error) {
	value, err := q.client.share(ctx, key, func(ctx context.Context) (any, error) {
		return q.execute(ctx, args, key)
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return value.(R), nil
}

// execute performs one network call. Hook events are dispatched before the
// result is published to the cache and to waiters.
func (q *Query[A, R]) execute(ctx context.Context, args A, key string) (any, error) {
	c := q.client
	c.mu.Lock()
	startGen := c.entry(key).gen
	startEpoch := c.epoch
	c.mu.Unlock()

	if q.def.Hooks.OnStart != nil {
		dispatch(q.def.Store, q.def.Hooks.OnStart(args))
	}

	ctx, span := c.tracer.Start(ctx, "query "+q.def.Name,
		trace.WithAttributes(attribute.String("adminhub.query.key", key)),
	)
	defer span.End()

	result, err := q.request(ctx, args)
	if c.currentEpoch() != startEpoch {
		span.AddEvent("dropped after reset")
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		if q.def.Hooks.OnError != nil {
			dispatch(q.def.Store, q.def.Hooks.OnError(args, err))
		}
		c.mu.Lock()
		e := c.entry(key)
		previous := e.value
		listeners := e.listeners()
		c.mu.Unlock()
		notify(listeners, previous, err)
		return nil, err
	}

	if q.def.Hooks.OnResult != nil {
		dispatch(q.def.Store, q.def.Hooks.OnResult(args, result))
	}
	var tags []Tag
	if q.def.ProvidesTags != nil {
		tags = q.def.ProvidesTags(args, result)
	}

	c.mu.Lock()
	if c.epoch != startEpoch {
		c.mu.Unlock()
		return result, nil
	}
	e := c.entry(key)
	if !e.hasValue || e.valueGen <= startGen {
		e.value = result
		e.hasValue = true
		e.valueGen = startGen
		e.fetchedAt = c.now()
		e.tags = tags
	}
	e.stale = e.gen != e.valueGen
	listeners := e.listeners()
	var again func(context.Context) error
	if e.stale && len(e.subs) > 0 {
		again = e.refetch
	}
	c.mu.Unlock()

	notify(listeners, result, nil)
	if again != nil {
		c.group.Forget(key)
		c.spawn(key, again)
	}
	return result, nil
}

func (q *Query[A, R]) request(ctx context.Context, args A) (R, error) {
	var zero R
	resp, err := q.client.transport.Do(ctx, q.def.Request(args))
	if err != nil {
		return zero, err
	}
	result, err := q.def.Decode(resp)
	if err != nil {
		return zero, err
	}
	return result, nil
}

func (q *Query[A, R]) cacheKey(args A) string {
	return q.def.Name + "|" + argsKey(q.def.Key, args)
}

func argsKey[A any](key func(A) string, args A) string {
	if key != nil {
		return key(args)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%#v", args)
	}
	return string(data)
}
