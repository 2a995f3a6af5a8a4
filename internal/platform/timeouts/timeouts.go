// Package timeouts defines shared timeout constants used by the binaries and
// the API client.
package timeouts

import "time"

// HTTPRequest caps a single API request issued by the client.
const HTTPRequest = 10 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// Telemetry bounds the flush of pending spans on exit.
const Telemetry = 5 * time.Second
