// Package entitystore holds the normalized client-side cache for one entity
// type: an entity table keyed by id, a relation index from parent keys to
// ordered id lists, and per-key collection status.
//
// State is only changed by dispatching typed events to a Store, which applies
// them with the pure Reduce function. Every State value is immutable once
// published, so readers (selectors, consumers) can hold snapshots without
// locking and compare pointers to detect change.
package entitystore
