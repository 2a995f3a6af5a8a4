// Package sqlite provides the reference backend persistence adapter backed by
// SQLite.
//
// Records are stored as JSON payloads keyed by (resource, id). Every write
// appends a row to the change feed in the same transaction.
package sqlite
