package console

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/adminhub/internal/services/devapi"
	"github.com/louisbranch/adminhub/internal/services/devapi/storage/sqlite"
)

func newBackend(t *testing.T) string {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "devapi.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := devapi.Seed(context.Background(), store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	srv := httptest.NewServer(devapi.NewHandler(store, log.New(io.Discard, "", 0)))
	t.Cleanup(srv.Close)
	return srv.URL
}

func outputIDs(t *testing.T, out string) []string {
	t.Helper()
	var ids []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(line), &fields); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		ids = append(ids, fields["id"].(string))
	}
	return ids
}

func TestParseConfigRequiresCommand(t *testing.T) {
	fs := flag.NewFlagSet("console", flag.ContinueOnError)

	if _, err := ParseConfig(fs, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseConfigDefaultsToDevAPI(t *testing.T) {
	fs := flag.NewFlagSet("console", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, []string{"list"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.BaseURL != "http://devapi:8090" {
		t.Fatalf("base url = %q, want %q", cfg.BaseURL, "http://devapi:8090")
	}
	if cfg.CacheTTL != time.Minute {
		t.Fatalf("cache ttl = %s, want 1m", cfg.CacheTTL)
	}
	if cfg.InvalidationInterval != 5*time.Second {
		t.Fatalf("invalidation interval = %s, want 5s", cfg.InvalidationInterval)
	}
}

func TestParseConfigEnvFlagsAndCommand(t *testing.T) {
	fs := flag.NewFlagSet("console", flag.ContinueOnError)
	t.Setenv("ADMINHUB_API_BASE_URL", "http://api:9000")
	t.Setenv("ADMINHUB_CACHE_TTL", "0s")

	cfg, err := ParseConfig(fs, []string{"-parent", "proj-1", "-order-by", "priority desc", "delete", "r1"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.BaseURL != "http://api:9000" {
		t.Fatalf("base url = %q, want %q", cfg.BaseURL, "http://api:9000")
	}
	if cfg.CacheTTL != 0 {
		t.Fatalf("cache ttl = %s, want 0s", cfg.CacheTTL)
	}
	if cfg.Resource != "requirements" || cfg.Parent != "proj-1" {
		t.Fatalf("resource/parent = %q/%q, want requirements/proj-1", cfg.Resource, cfg.Parent)
	}
	if cfg.Command != "delete" || len(cfg.Args) != 1 || cfg.Args[0] != "r1" {
		t.Fatalf("command = %q %v, want delete [r1]", cfg.Command, cfg.Args)
	}
}

func TestListAppliesClientView(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := execute(context.Background(), Config{
		BaseURL:  newBackend(t),
		Resource: "requirements",
		Parent:   "proj-1",
		Filter:   `status = "open"`,
		OrderBy:  "priority desc",
		Command:  "list",
	}, &out)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := outputIDs(t, out.String())
	if len(got) != 2 || got[0] != "r3" || got[1] != "r1" {
		t.Fatalf("ids = %v, want [r3 r1]", got)
	}
}

func TestDeletePrintsRemainingRecords(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := execute(context.Background(), Config{
		BaseURL:  newBackend(t),
		Resource: "requirements",
		Parent:   "proj-1",
		Command:  "delete",
		Args:     []string{"r1"},
	}, &out)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	got := outputIDs(t, out.String())
	if len(got) != 2 || got[0] != "r2" || got[1] != "r3" {
		t.Fatalf("ids = %v, want [r2 r3]", got)
	}
}

func TestGetPrintsRecord(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := execute(context.Background(), Config{
		BaseURL:  newBackend(t),
		Resource: "projects",
		Command:  "get",
		Args:     []string{"proj-1"},
	}, &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := outputIDs(t, out.String()); len(got) != 1 || got[0] != "proj-1" {
		t.Fatalf("ids = %v, want [proj-1]", got)
	}
}

// frameWriter cancels once the first blank-line terminated view is written.
type frameWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	cancel context.CancelFunc
}

func (w *frameWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.buf.Write(p)
	if strings.Contains(w.buf.String(), "\n\n") {
		w.cancel()
	}
	return n, err
}

func (w *frameWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestWatchPrintsLoadedView(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out := &frameWriter{cancel: cancel}
	err := execute(ctx, Config{
		BaseURL:              newBackend(t),
		Resource:             "requirements",
		Parent:               "proj-1",
		Filter:               `status = "open"`,
		OrderBy:              "priority desc",
		InvalidationInterval: time.Hour,
		Command:              "watch",
	}, out)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	frame, _, _ := strings.Cut(out.String(), "\n\n")
	got := outputIDs(t, frame)
	if len(got) != 2 || got[0] != "r3" || got[1] != "r1" {
		t.Fatalf("ids = %v, want [r3 r1]", got)
	}
}

func TestExecuteRejectsBadInput(t *testing.T) {
	t.Parallel()

	baseURL := newBackend(t)
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown resource", cfg: Config{BaseURL: baseURL, Resource: "widgets", Command: "list"}},
		{name: "unknown command", cfg: Config{BaseURL: baseURL, Resource: "projects", Command: "purge"}},
		{name: "get without id", cfg: Config{BaseURL: baseURL, Resource: "projects", Command: "get"}},
		{name: "bad filter", cfg: Config{BaseURL: baseURL, Resource: "projects", Command: "list", Filter: "owner = 1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := execute(context.Background(), tc.cfg, io.Discard); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
