// Package console parses console command flags and runs admin commands
// through the entity cache.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/adminhub/internal/platform/apiclient"
	entrypoint "github.com/louisbranch/adminhub/internal/platform/cmd"
	"github.com/louisbranch/adminhub/internal/platform/discovery"
	"github.com/louisbranch/adminhub/internal/platform/entitystore"
	"github.com/louisbranch/adminhub/internal/platform/id"
	"github.com/louisbranch/adminhub/internal/platform/requestctx"
	"github.com/louisbranch/adminhub/internal/platform/selectors"
	"github.com/louisbranch/adminhub/internal/services/admin"
	"go.opentelemetry.io/otel"
)

// Config holds the console command configuration.
type Config struct {
	BaseURL              string        `env:"ADMINHUB_API_BASE_URL"`
	CacheTTL             time.Duration `env:"ADMINHUB_CACHE_TTL" envDefault:"1m"`
	InvalidationInterval time.Duration `env:"ADMINHUB_INVALIDATION_INTERVAL" envDefault:"5s"`
	Rollback             bool          `env:"ADMINHUB_CONSOLE_ROLLBACK"`

	Resource string
	Parent   string
	Status   string
	Search   string
	Filter   string
	OrderBy  string

	Command string
	Args    []string
}

// viewFields are the record fields filters may reference.
var viewFields = selectors.Fields{
	"id":       selectors.StringField,
	"name":     selectors.StringField,
	"status":   selectors.StringField,
	"priority": selectors.IntField,
}

// ParseConfig parses environment and flags into a Config. The first
// positional argument is the command.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	cfg.BaseURL = discovery.OrDefaultHTTPBaseURL(cfg.BaseURL, discovery.ServiceDevAPI)
	fs.StringVar(&cfg.BaseURL, "api-base-url", cfg.BaseURL, "Admin API base URL")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Cached result lifetime (0 keeps results until invalidated)")
	fs.DurationVar(&cfg.InvalidationInterval, "invalidation-interval", cfg.InvalidationInterval, "Change feed polling interval for watch")
	fs.BoolVar(&cfg.Rollback, "rollback", cfg.Rollback, "Restore optimistically deleted records when the request fails")
	fs.StringVar(&cfg.Resource, "resource", "requirements", "Resource to operate on")
	fs.StringVar(&cfg.Parent, "parent", "", "Parent id for nested resources")
	fs.StringVar(&cfg.Status, "status", "", "Server-side status filter")
	fs.StringVar(&cfg.Search, "search", "", "Server-side search")
	fs.StringVar(&cfg.Filter, "filter", "", "Client-side AIP-160 filter over cached records")
	fs.StringVar(&cfg.OrderBy, "order-by", "", "Client-side AIP-132 ordering of cached records")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if fs.NArg() == 0 {
		return Config{}, errors.New("command is required: list, get, delete or watch")
	}
	cfg.Command = fs.Arg(0)
	cfg.Args = fs.Args()[1:]
	return cfg, nil
}

// Run executes cfg.Command and writes records to out as JSON lines.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceConsole, func(ctx context.Context) error {
		return execute(ctx, cfg, out)
	})
}

func execute(ctx context.Context, cfg Config, out io.Writer) error {
	if requestID, err := id.NewID(); err == nil {
		ctx = requestctx.WithRequestID(ctx, requestID)
	}
	view, err := selectors.Compile(cfg.Filter, cfg.OrderBy, viewFields)
	if err != nil {
		return fmt.Errorf("compile view: %w", err)
	}

	interval := time.Duration(0)
	if cfg.Command == "watch" {
		interval = cfg.InvalidationInterval
	}
	client, err := admin.NewClient(admin.Config{
		BaseURL:              cfg.BaseURL,
		TTL:                  cfg.CacheTTL,
		InvalidationInterval: interval,
		Rollback:             cfg.Rollback,
		Logger:               log.Default(),
		TracerProvider:       otel.GetTracerProvider(),
	})
	if err != nil {
		return fmt.Errorf("init admin client: %w", err)
	}
	defer client.Close()

	feature, ok := client.Feature(cfg.Resource)
	if !ok {
		return fmt.Errorf("unknown resource %q", cfg.Resource)
	}
	args := admin.ListArgs{Parent: cfg.Parent, Status: cfg.Status, Search: cfg.Search}

	switch cfg.Command {
	case "list":
		if _, err := feature.List(ctx, args); err != nil {
			return fmt.Errorf("list %s: %w", cfg.Resource, err)
		}
		return writeRecords(out, feature.View(args, view))
	case "get":
		id, err := singleArg(cfg)
		if err != nil {
			return err
		}
		if _, err := feature.Get(ctx, id); err != nil {
			return fmt.Errorf("get %s %s: %w", cfg.Resource, id, err)
		}
		record, _ := feature.Record(id)
		return writeRecords(out, []*entitystore.Record{record})
	case "delete":
		id, err := singleArg(cfg)
		if err != nil {
			return err
		}
		if _, err := feature.List(ctx, args); err != nil {
			return fmt.Errorf("list %s: %w", cfg.Resource, err)
		}
		if err := feature.Delete(ctx, admin.DeleteArgs{ID: id, Parent: cfg.Parent}); err != nil {
			return fmt.Errorf("delete %s %s: %w", cfg.Resource, id, err)
		}
		return writeRecords(out, feature.View(args, view))
	case "watch":
		return watch(ctx, client, feature, args, view, out)
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
}

// watch keeps the list live and prints the view every time it changes in the
// store, until ctx ends.
func watch(ctx context.Context, client *admin.Client, feature *admin.Feature, args admin.ListArgs, view *selectors.View, out io.Writer) error {
	changed := make(chan struct{}, 1)
	stop := feature.Store().Subscribe(func(*entitystore.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer stop()
	sub := feature.Watch(ctx, args, func(_ apiclient.List, err error) {
		if err != nil {
			log.Printf("watch %s: %v", feature.Resource().Name, err)
		}
	})
	defer sub.Unsubscribe()
	if _, err := client.SyncChanges(ctx); err != nil {
		log.Printf("read change feed head: %v", err)
	}

	var printed []*entitystore.Record
	first := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if !feature.Collection(args).Loaded {
				continue
			}
			records := feature.View(args, view)
			if !first && sameRecords(printed, records) {
				continue
			}
			first, printed = false, records
			if err := writeRecords(out, records); err != nil {
				return err
			}
			if _, err := fmt.Fprintln(out); err != nil {
				return err
			}
		}
	}
}

// sameRecords reports whether two memoized view results are the same value.
func sameRecords(a, b []*entitystore.Record) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

func singleArg(cfg Config) (string, error) {
	if len(cfg.Args) != 1 || strings.TrimSpace(cfg.Args[0]) == "" {
		return "", fmt.Errorf("%s requires exactly one id", cfg.Command)
	}
	return strings.TrimSpace(cfg.Args[0]), nil
}

func writeRecords(out io.Writer, records []*entitystore.Record) error {
	enc := json.NewEncoder(out)
	for _, record := range records {
		if record == nil {
			continue
		}
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	return nil
}
