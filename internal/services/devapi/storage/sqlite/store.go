package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/adminhub/internal/platform/pagination"
	sqlitemigrate "github.com/louisbranch/adminhub/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/adminhub/internal/services/devapi/storage"
	"github.com/louisbranch/adminhub/internal/services/devapi/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var (
	recordPageSize = pagination.PageSizeConfig{Default: 20, Max: 100}
	changePageSize = pagination.PageSizeConfig{Default: 100, Max: 500}
)

// Store provides SQLite-backed persistence for reference backend records.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open opens and migrates a records SQLite store.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	// Write transactions take the lock at BEGIN and wait on each other.
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, now: func() time.Time { return time.Now().UTC() }}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// ListRecords returns one page of records of a resource and the total count
// matching the filter. Search is a case-insensitive substring match on the
// filter's search field.
func (s *Store) ListRecords(ctx context.Context, filter storage.ListFilter) ([]storage.Record, int, error) {
	if s == nil || s.sqlDB == nil {
		return nil, 0, fmt.Errorf("storage is not configured")
	}
	filter.Resource = strings.TrimSpace(filter.Resource)
	if filter.Resource == "" {
		return nil, 0, fmt.Errorf("resource is required")
	}
	limit := pagination.ClampPageSize(filter.Limit, recordPageSize)

	where := []string{"resource = ?"}
	args := []any{filter.Resource}
	if filter.ParentID != "" {
		where = append(where, "parent_id = ?")
		args = append(args, filter.ParentID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" && filter.SearchField != "" {
		where = append(where, "LOWER(CAST(json_extract(payload_json, '$.' || ?) AS TEXT)) LIKE ?")
		args = append(args, filter.SearchField, "%"+strings.ToLower(search)+"%")
	}
	if filter.Status != "" {
		where = append(where, "json_extract(payload_json, '$.status') = ?")
		args = append(args, filter.Status)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE `+clause,
		args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT resource, id, parent_id, payload_json, created_at, updated_at
		 FROM records
		 WHERE `+clause+`
		 ORDER BY created_at, rowid
		 LIMIT ? OFFSET ?`,
		append(args, limit, pagination.Offset(filter.Page, limit))...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := make([]storage.Record, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate records: %w", err)
	}
	return records, total, nil
}

// GetRecord loads one record.
func (s *Store) GetRecord(ctx context.Context, resource, id string) (storage.Record, error) {
	if s == nil || s.sqlDB == nil {
		return storage.Record{}, fmt.Errorf("storage is not configured")
	}
	return getRecord(ctx, s.sqlDB, resource, id)
}

// PutRecord creates or replaces a record and appends the matching change.
// CreatedAt of an existing record is preserved.
func (s *Store) PutRecord(ctx context.Context, record storage.Record) (storage.Record, storage.Change, error) {
	if s == nil || s.sqlDB == nil {
		return storage.Record{}, storage.Change{}, fmt.Errorf("storage is not configured")
	}
	record, payload, err := prepareRecord(record)
	if err != nil {
		return storage.Record{}, storage.Change{}, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.Record{}, storage.Change{}, fmt.Errorf("begin put record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	action := storage.ActionCreated
	existing, err := getRecord(ctx, tx, record.Resource, record.ID)
	switch {
	case err == nil:
		action = storage.ActionUpdated
		record.CreatedAt = existing.CreatedAt
	case errors.Is(err, storage.ErrNotFound):
		record.CreatedAt = now
	default:
		return storage.Record{}, storage.Change{}, err
	}
	record.UpdatedAt = now

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (resource, id, parent_id, payload_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(resource, id) DO UPDATE SET
		    parent_id = excluded.parent_id,
		    payload_json = excluded.payload_json,
		    updated_at = excluded.updated_at`,
		record.Resource,
		record.ID,
		record.ParentID,
		string(payload),
		record.CreatedAt.UnixMilli(),
		record.UpdatedAt.UnixMilli(),
	); err != nil {
		return storage.Record{}, storage.Change{}, fmt.Errorf("put record: %w", err)
	}

	change, err := appendChange(ctx, tx, record.Resource, record.ID, record.ParentID, action, now)
	if err != nil {
		return storage.Record{}, storage.Change{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.Record{}, storage.Change{}, fmt.Errorf("commit put record: %w", err)
	}
	return record, change, nil
}

// CreateRecord inserts a new record and appends a created change. It returns
// storage.ErrAlreadyExists when the id is taken.
func (s *Store) CreateRecord(ctx context.Context, record storage.Record) (storage.Record, storage.Change, error) {
	if s == nil || s.sqlDB == nil {
		return storage.Record{}, storage.Change{}, fmt.Errorf("storage is not configured")
	}
	record, payload, err := prepareRecord(record)
	if err != nil {
		return storage.Record{}, storage.Change{}, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.Record{}, storage.Change{}, fmt.Errorf("begin create record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	record.CreatedAt = now
	record.UpdatedAt = now
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (resource, id, parent_id, payload_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.Resource,
		record.ID,
		record.ParentID,
		string(payload),
		record.CreatedAt.UnixMilli(),
		record.UpdatedAt.UnixMilli(),
	); err != nil {
		if isConstraintError(err) {
			return storage.Record{}, storage.Change{}, storage.ErrAlreadyExists
		}
		return storage.Record{}, storage.Change{}, fmt.Errorf("create record: %w", err)
	}

	change, err := appendChange(ctx, tx, record.Resource, record.ID, record.ParentID, storage.ActionCreated, now)
	if err != nil {
		return storage.Record{}, storage.Change{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.Record{}, storage.Change{}, fmt.Errorf("commit create record: %w", err)
	}
	return record, change, nil
}

// DeleteRecord removes a record and appends a deleted change.
func (s *Store) DeleteRecord(ctx context.Context, resource, id string) (storage.Change, error) {
	if s == nil || s.sqlDB == nil {
		return storage.Change{}, fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.Change{}, fmt.Errorf("begin delete record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := getRecord(ctx, tx, resource, id)
	if err != nil {
		return storage.Change{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE resource = ? AND id = ?`,
		existing.Resource, existing.ID,
	); err != nil {
		return storage.Change{}, fmt.Errorf("delete record: %w", err)
	}
	change, err := appendChange(ctx, tx, existing.Resource, existing.ID, existing.ParentID, storage.ActionDeleted, s.now())
	if err != nil {
		return storage.Change{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.Change{}, fmt.Errorf("commit delete record: %w", err)
	}
	return change, nil
}

// ListChanges returns up to limit changes with a sequence greater than
// afterSeq, oldest first.
func (s *Store) ListChanges(ctx context.Context, afterSeq uint64, limit int) ([]storage.Change, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	limit = pagination.ClampPageSize(limit, changePageSize)

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT seq, resource, record_id, parent_id, action, changed_at
		 FROM changes
		 WHERE seq > ?
		 ORDER BY seq
		 LIMIT ?`,
		int64(afterSeq), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var changes []storage.Change
	for rows.Next() {
		var change storage.Change
		var seq int64
		var changedAt int64
		if err := rows.Scan(&seq, &change.Resource, &change.ID, &change.ParentID, &change.Action, &changedAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		change.Seq = uint64(seq)
		change.ChangedAt = unixMillisToTime(changedAt)
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}

// LatestChangeSeq returns the newest change sequence, or zero when the feed
// is empty.
func (s *Store) LatestChangeSeq(ctx context.Context) (uint64, error) {
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	var seq sql.NullInt64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT MAX(seq) FROM changes`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("latest change seq: %w", err)
	}
	if !seq.Valid || seq.Int64 < 0 {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

func (s *Store) runMigrations() error {
	_, err := sqlitemigrate.Apply(context.Background(), s.sqlDB, migrations.FS, ".")
	return err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getRecord(ctx context.Context, q queryer, resource, id string) (storage.Record, error) {
	resource = strings.TrimSpace(resource)
	id = strings.TrimSpace(id)
	if resource == "" || id == "" {
		return storage.Record{}, fmt.Errorf("resource and id are required")
	}
	row := q.QueryRowContext(ctx,
		`SELECT resource, id, parent_id, payload_json, created_at, updated_at
		 FROM records
		 WHERE resource = ? AND id = ?`,
		resource, id,
	)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Record{}, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

func scanRecord(row scanner) (storage.Record, error) {
	var record storage.Record
	var payload string
	var createdAt int64
	var updatedAt int64
	if err := row.Scan(&record.Resource, &record.ID, &record.ParentID, &payload, &createdAt, &updatedAt); err != nil {
		return storage.Record{}, err
	}
	decoder := json.NewDecoder(bytes.NewReader([]byte(payload)))
	decoder.UseNumber()
	if err := decoder.Decode(&record.Fields); err != nil {
		return storage.Record{}, fmt.Errorf("decode payload: %w", err)
	}
	record.CreatedAt = unixMillisToTime(createdAt)
	record.UpdatedAt = unixMillisToTime(updatedAt)
	return record, nil
}

func appendChange(ctx context.Context, tx *sql.Tx, resource, id, parentID, action string, at time.Time) (storage.Change, error) {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO changes (resource, record_id, parent_id, action, changed_at) VALUES (?, ?, ?, ?, ?)`,
		resource, id, parentID, action, at.UnixMilli(),
	)
	if err != nil {
		return storage.Change{}, fmt.Errorf("append change: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return storage.Change{}, fmt.Errorf("append change seq: %w", err)
	}
	return storage.Change{
		Seq:       uint64(seq),
		Resource:  resource,
		ID:        id,
		ParentID:  parentID,
		Action:    action,
		ChangedAt: unixMillisToTime(at.UnixMilli()),
	}, nil
}

func unixMillisToTime(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

func prepareRecord(record storage.Record) (storage.Record, []byte, error) {
	record.Resource = strings.TrimSpace(record.Resource)
	record.ID = strings.TrimSpace(record.ID)
	if record.Resource == "" || record.ID == "" {
		return storage.Record{}, nil, fmt.Errorf("resource and id are required")
	}
	if record.Fields == nil {
		record.Fields = map[string]any{}
	}
	record.Fields["id"] = record.ID
	payload, err := json.Marshal(record.Fields)
	if err != nil {
		return storage.Record{}, nil, fmt.Errorf("encode record: %w", err)
	}
	return record, payload, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3lib.SQLITE_CONSTRAINT || code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
}
