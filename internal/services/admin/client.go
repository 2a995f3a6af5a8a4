package admin

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/adminhub/internal/platform/apiclient"
	"github.com/louisbranch/adminhub/internal/platform/query"
	"github.com/louisbranch/adminhub/internal/services/shared/resources"
	"go.opentelemetry.io/otel/trace"
)

// Config configures an admin Client.
type Config struct {
	BaseURL string
	// TTL marks cached results stale after this age. Zero keeps them until
	// invalidated.
	TTL time.Duration
	// InvalidationInterval is the change-feed polling period. Zero disables
	// the background worker; SyncChanges still works.
	InvalidationInterval time.Duration
	// Rollback restores optimistically deleted entities when the request
	// fails.
	Rollback       bool
	HTTPClient     *http.Client
	Logger         *log.Logger
	TracerProvider trace.TracerProvider
}

// Client owns the query client, the feature stores and the invalidation
// worker of one admin session.
type Client struct {
	queries  *query.Client
	features map[string]*Feature
	worker   *invalidationWorker

	Projects      *Feature
	Requirements  *Feature
	Customers     *Feature
	Organizations *Feature
	Roles         *Feature
	Templates     *Feature

	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient builds every feature over the API at config.BaseURL and starts
// the invalidation worker when an interval is set.
func NewClient(config Config) (*Client, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, errors.New("api base url is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	apiOpts := []apiclient.Option{apiclient.WithLogger(logger)}
	queryOpts := []query.Option{query.WithTTL(config.TTL), query.WithLogger(logger)}
	if config.HTTPClient != nil {
		apiOpts = append(apiOpts, apiclient.WithHTTPClient(config.HTTPClient))
	}
	if config.TracerProvider != nil {
		apiOpts = append(apiOpts, apiclient.WithTracerProvider(config.TracerProvider))
		queryOpts = append(queryOpts, query.WithTracerProvider(config.TracerProvider))
	}
	api, err := apiclient.New(config.BaseURL, apiOpts...)
	if err != nil {
		return nil, err
	}
	return newClient(api, config, logger, queryOpts...), nil
}

func newClient(transport query.Transport, config Config, logger *log.Logger, opts ...query.Option) *Client {
	queries := query.NewClient(transport, opts...)
	c := &Client{
		queries:  queries,
		features: make(map[string]*Feature),
	}
	for _, res := range resources.All() {
		c.features[res.Name] = NewFeature(queries, res, config.Rollback)
	}
	c.Projects = c.features[resources.Projects.Name]
	c.Requirements = c.features[resources.Requirements.Name]
	c.Customers = c.features[resources.Customers.Name]
	c.Organizations = c.features[resources.Organizations.Name]
	c.Roles = c.features[resources.Roles.Name]
	c.Templates = c.features[resources.Templates.Name]

	c.worker = &invalidationWorker{
		transport: transport,
		queries:   queries,
		features:  c.features,
		logger:    logger,
	}
	if config.InvalidationInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.done = make(chan struct{})
		go func() {
			defer close(c.done)
			c.worker.run(ctx, config.InvalidationInterval)
		}()
	}
	return c
}

// Feature returns the feature serving the named resource.
func (c *Client) Feature(name string) (*Feature, bool) {
	f, ok := c.features[name]
	return f, ok
}

// Queries returns the shared query client.
func (c *Client) Queries() *query.Client {
	return c.queries
}

// SyncChanges polls the change feed once and returns the invalidated tags.
// The first call only records the feed head.
func (c *Client) SyncChanges(ctx context.Context) ([]query.Tag, error) {
	return c.worker.sync(ctx)
}

// Wait blocks until background refetches settle.
func (c *Client) Wait() {
	c.queries.Wait()
}

// Reset drops every cached result and empties every store.
func (c *Client) Reset() {
	c.queries.Reset()
	for _, f := range c.features {
		f.store.Reset()
	}
}

// Close stops the worker, waits for in-flight requests and empties every
// store.
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel = nil
	}
	c.queries.Close()
	for _, f := range c.features {
		f.store.Reset()
	}
}
