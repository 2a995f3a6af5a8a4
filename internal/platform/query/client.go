// Package query declares HTTP queries and mutations over a shared result
// cache.
//
// A Client owns one cache entry per (query, arguments) pair, the tags each
// result provides, and the in-flight requests. Identical requests in flight
// share one network call. Each network call runs the definition's lifecycle
// hooks exactly once and dispatches the events they return into the target
// entity store before any caller observes the result. Mutations invalidate
// tags; invalidated entries with live subscriptions are refetched in the
// background and the rest refetch on their next use.
package query

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/louisbranch/adminhub/internal/platform/apiclient"
	"github.com/louisbranch/adminhub/internal/platform/entitystore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/louisbranch/adminhub/internal/platform/query"

// ErrClosed is returned by operations on a closed Client.
var ErrClosed = errors.New("query client closed")

// Transport performs API requests. *apiclient.Client implements it.
type Transport interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
}

// Client caches query results and coordinates fetches.
type Client struct {
	transport Transport
	ttl       time.Duration
	logger    *log.Logger
	tracer    trace.Tracer
	now       func() time.Time

	group singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	idle    *sync.Cond
	entries map[string]*entry
	pending int
	nextSub uint64
	// epoch is bumped by Reset; results of requests started before it are
	// dropped.
	epoch  uint64
	closed bool
}

type listener func(value any, err error)

type subscriber struct {
	id uint64
	fn listener
}

// entry is guarded by Client.mu.
type entry struct {
	value     any
	hasValue  bool
	fetchedAt time.Time
	stale     bool
	gen       uint64 // bumped by every invalidation
	valueGen  uint64 // gen the cached value was requested at
	tags      []Tag
	subs      []subscriber
	refetch   func(context.Context) error
}

func (e *entry) fresh(now time.Time, ttl time.Duration) bool {
	if !e.hasValue || e.stale {
		return false
	}
	return ttl <= 0 || now.Sub(e.fetchedAt) < ttl
}

func (e *entry) listeners() []listener {
	if len(e.subs) == 0 {
		return nil
	}
	out := make([]listener, len(e.subs))
	for i, sub := range e.subs {
		out[i] = sub.fn
	}
	return out
}

// Option configures a Client.
type Option func(*Client)

// WithTTL marks results older than ttl as stale. Zero keeps results until
// they are invalidated.
func WithTTL(ttl time.Duration) Option {
	return func(c *Client) { c.ttl = ttl }
}

// WithLogger sets the logger used for background refetch failures.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracerProvider sets the provider query spans are opened on.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient returns a client issuing requests through transport.
func NewClient(transport Transport, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport: transport,
		logger:    log.Default(),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[string]*entry),
	}
	c.idle = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invalidate marks every entry tagged by any of tags as stale. Entries with
// subscribers are refetched in the background.
func (c *Client) Invalidate(tags ...Tag) {
	if len(tags) == 0 {
		return
	}
	type job struct {
		key string
		fn  func(context.Context) error
	}
	var jobs []job

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	for key, e := range c.entries {
		if !matchesAny(tags, e.tags) {
			continue
		}
		e.stale = true
		e.gen++
		if len(e.subs) > 0 && e.refetch != nil {
			jobs = append(jobs, job{key: key, fn: e.refetch})
		}
	}
	c.mu.Unlock()

	for _, j := range jobs {
		c.group.Forget(j.key)
		c.spawn(j.key, j.fn)
	}
}

// Wait blocks until no request started through this client is in flight,
// including background refetches and requests whose callers stopped
// waiting.
func (c *Client) Wait() {
	c.mu.Lock()
	for c.pending > 0 {
		c.idle.Wait()
	}
	c.mu.Unlock()
}

// Reset drops every cached result. Requests in flight finish without
// writing to the cache or running their hooks. Subscriptions stay registered
// and are refetched on the next invalidation.
func (c *Client) Reset() {
	c.mu.Lock()
	c.epoch++
	keys := make([]string, 0, len(c.entries))
	for key, e := range c.entries {
		keys = append(keys, key)
		if len(e.subs) == 0 {
			delete(c.entries, key)
			continue
		}
		e.value = nil
		e.hasValue = false
		e.tags = nil
		e.stale = true
		e.gen++
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.group.Forget(key)
	}
}

func (c *Client) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Close cancels background work, waits for in-flight requests and drops the
// cache. It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.Wait()

	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

func (c *Client) entry(key string) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

func (c *Client) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.pending++
	return true
}

func (c *Client) end() {
	c.mu.Lock()
	c.pending--
	if c.pending == 0 {
		c.idle.Broadcast()
	}
	c.mu.Unlock()
}

// spawn runs fn in the background on the client context.
func (c *Client) spawn(key string, fn func(context.Context) error) {
	if !c.begin() {
		return
	}
	go func() {
		defer c.end()
		if err := fn(c.ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
			c.logger.Printf("refetch %s: %v", key, err)
		}
	}()
}

// share runs fn once per key among concurrent callers. A caller whose
// context ends stops waiting; the shared call keeps running until it
// finishes or the client closes, and stays counted by Wait.
func (c *Client) share(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	if !c.begin() {
		return nil, ErrClosed
	}
	ch := c.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(c.ctx, cancel)
		defer stop()
		return fn(shared)
	})
	select {
	case res := <-ch:
		c.end()
		return res.Val, res.Err
	case <-ctx.Done():
		go func() {
			<-ch
			c.end()
		}()
		return nil, ctx.Err()
	}
}

func dispatch(target entitystore.Dispatcher, events []entitystore.Event) {
	if target == nil || len(events) == 0 {
		return
	}
	target.Dispatch(events...)
}

func notify(listeners []listener, value any, err error) {
	for _, fn := range listeners {
		fn(value, err)
	}
}
