package devapi

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
)

func TestNewServerRequiresAddress(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(context.Background(), Config{DBPath: filepath.Join(t.TempDir(), "db")}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewServerRequiresDBPath(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(context.Background(), Config{HTTPAddr: "127.0.0.1:0"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	server, err := NewServer(context.Background(), Config{
		HTTPAddr: "127.0.0.1:0",
		DBPath:   filepath.Join(t.TempDir(), "devapi.db"),
		Seed:     true,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := server.ListenAndServe(ctx); err != nil {
		t.Fatalf("listen and serve: %v", err)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	t.Parallel()

	server, err := NewServer(context.Background(), Config{
		HTTPAddr: "127.0.0.1:0",
		DBPath:   filepath.Join(t.TempDir(), "devapi.db"),
		Seed:     true,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer server.Close()

	ctx := context.Background()
	before, err := server.store.LatestChangeSeq(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if err := Seed(ctx, server.store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	after, err := server.store.LatestChangeSeq(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if after != before {
		t.Fatalf("latest seq = %d, want %d", after, before)
	}
}
