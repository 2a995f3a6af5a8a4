package admin

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/louisbranch/adminhub/internal/platform/apiclient"
	"github.com/louisbranch/adminhub/internal/platform/query"
	"github.com/louisbranch/adminhub/internal/services/shared/resources"
)

const (
	defaultInvalidationInterval = 30 * time.Second
	changeBatchSize             = 100
)

type feedChange struct {
	Seq      uint64 `json:"seq"`
	Resource string `json:"resource"`
	ID       string `json:"id"`
	ParentID string `json:"parentId"`
	Action   string `json:"action"`
}

type changeFeed struct {
	Changes   []feedChange `json:"changes"`
	LatestSeq uint64       `json:"latestSeq"`
}

// invalidationWorker follows the server change feed and invalidates the
// cached results each change affects.
type invalidationWorker struct {
	transport query.Transport
	queries   *query.Client
	features  map[string]*Feature
	logger    *log.Logger

	mu     sync.Mutex
	cursor uint64
	known  bool
}

func (w *invalidationWorker) run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultInvalidationInterval
	}

	if _, err := w.sync(ctx); err != nil {
		w.logger.Printf("cache invalidation sync failed: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.sync(ctx); err != nil && ctx.Err() == nil {
				w.logger.Printf("cache invalidation sync failed: %v", err)
			}
		}
	}
}

// sync reads the feed past the cursor and invalidates the affected tags. The
// first call only records the feed head. It returns the invalidated tags.
func (w *invalidationWorker) sync(ctx context.Context) ([]query.Tag, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.known {
		feed, err := w.fetch(ctx, 0, 1)
		if err != nil {
			return nil, fmt.Errorf("read change feed head: %w", err)
		}
		w.cursor = feed.LatestSeq
		w.known = true
		return nil, nil
	}

	seen := make(map[query.Tag]struct{})
	var tags []query.Tag
	for {
		feed, err := w.fetch(ctx, w.cursor, changeBatchSize)
		if err != nil {
			return nil, fmt.Errorf("list changes after %d: %w", w.cursor, err)
		}
		for _, change := range feed.Changes {
			for _, tag := range w.tagsFor(change) {
				if _, ok := seen[tag]; ok {
					continue
				}
				seen[tag] = struct{}{}
				tags = append(tags, tag)
			}
			if change.Seq > w.cursor {
				w.cursor = change.Seq
			}
		}
		if len(feed.Changes) < changeBatchSize || w.cursor >= feed.LatestSeq {
			break
		}
	}
	w.queries.Invalidate(tags...)
	return tags, nil
}

func (w *invalidationWorker) fetch(ctx context.Context, after uint64, limit int) (changeFeed, error) {
	params := url.Values{}
	if after > 0 {
		params.Set("after", strconv.FormatUint(after, 10))
	}
	params.Set("limit", strconv.Itoa(limit))
	resp, err := w.transport.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/changes", Query: params})
	if err != nil {
		return changeFeed{}, err
	}
	var feed changeFeed
	if err := apiclient.DecodeJSON(resp.Body, &feed); err != nil {
		return changeFeed{}, err
	}
	return feed, nil
}

// tagsFor maps a change to the entity, its parent's lists and the lists
// nested under it.
func (w *invalidationWorker) tagsFor(change feedChange) []query.Tag {
	feature, ok := w.features[change.Resource]
	if !ok {
		return nil
	}
	tags := feature.Invalidation(change.ID, change.ParentID)
	for _, child := range resources.Children(change.Resource) {
		tags = append(tags, query.ListTag(child.Name, change.ID))
	}
	return tags
}
