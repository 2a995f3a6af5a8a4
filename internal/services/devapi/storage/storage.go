// Package storage defines the persistence contract of the reference backend.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when creating a record whose id is taken.
	ErrAlreadyExists = errors.New("record already exists")
)

// Change actions recorded in the change feed.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// Record is one stored resource entity. Fields holds the JSON payload,
// including the id.
type Record struct {
	Resource  string
	ID        string
	ParentID  string
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Change is one entry of the change feed.
type Change struct {
	Seq       uint64
	Resource  string
	ID        string
	ParentID  string
	Action    string
	ChangedAt time.Time
}

// ListFilter selects a page of records.
type ListFilter struct {
	Resource    string
	ParentID    string
	SearchField string
	Search      string
	Status      string
	Page        int
	Limit       int
}

// Store persists records and appends a change for every write.
type Store interface {
	Close() error
	ListRecords(ctx context.Context, filter ListFilter) ([]Record, int, error)
	GetRecord(ctx context.Context, resource, id string) (Record, error)
	CreateRecord(ctx context.Context, record Record) (Record, Change, error)
	PutRecord(ctx context.Context, record Record) (Record, Change, error)
	DeleteRecord(ctx context.Context, resource, id string) (Change, error)
	ListChanges(ctx context.Context, afterSeq uint64, limit int) ([]Change, error)
	LatestChangeSeq(ctx context.Context) (uint64, error)
}
