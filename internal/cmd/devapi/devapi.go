// Package devapi parses reference backend command flags and launches the
// server.
package devapi

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	entrypoint "github.com/louisbranch/adminhub/internal/platform/cmd"
	"github.com/louisbranch/adminhub/internal/platform/discovery"
	"github.com/louisbranch/adminhub/internal/services/devapi"
)

// Config holds the devapi command configuration.
type Config struct {
	HTTPAddr string `env:"ADMINHUB_DEVAPI_HTTP_ADDR"`
	DBPath   string `env:"ADMINHUB_DEVAPI_DB_PATH" envDefault:"data/devapi.db"`
	Seed     bool   `env:"ADMINHUB_DEVAPI_SEED" envDefault:"true"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = "localhost:" + strconv.Itoa(discovery.DefaultPort(discovery.ServiceDevAPI))
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The record SQLite database path")
	fs.BoolVar(&cfg.Seed, "seed", cfg.Seed, "Store the demo records on startup")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the reference backend.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceDevAPI, func(ctx context.Context) error {
		server, err := devapi.NewServer(ctx, devapi.Config{
			HTTPAddr: cfg.HTTPAddr,
			DBPath:   cfg.DBPath,
			Seed:     cfg.Seed,
		})
		if err != nil {
			return fmt.Errorf("init devapi server: %w", err)
		}
		defer server.Close()

		if err := server.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("serve devapi: %w", err)
		}
		return nil
	})
}
