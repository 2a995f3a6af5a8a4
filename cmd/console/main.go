// Package main runs admin commands against the API through the entity cache.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	consolecmd "github.com/louisbranch/adminhub/internal/cmd/console"
)

func main() {
	cfg, err := consolecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[CONSOLE] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consolecmd.Run(ctx, cfg, os.Stdout); err != nil {
		log.Fatalf("console: %v", err)
	}
}
