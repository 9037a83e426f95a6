package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CacheRecord is one persisted feed snapshot. Scope is the category/role
// slot; FilterHash records which filter set produced the snapshot.
type CacheRecord struct {
	Scope      string
	FilterHash string
	Cursor     string
	Snapshot   []byte
	RowCount   int
	CapturedAt int64
}

// PutCacheRecord inserts or overwrites the record for its scope in one statement.
func (db *DB) PutCacheRecord(ctx context.Context, rec *CacheRecord) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO cache_entries (scope, filter_hash, cursor, snapshot, row_count, captured_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET
			filter_hash = excluded.filter_hash,
			cursor = excluded.cursor,
			snapshot = excluded.snapshot,
			row_count = excluded.row_count,
			captured_at = excluded.captured_at,
			updated_at = excluded.updated_at`,
		rec.Scope, rec.FilterHash, rec.Cursor, rec.Snapshot, rec.RowCount, rec.CapturedAt, now)
	return err
}

// GetCacheRecord returns the record for scope, or nil if there is none.
func (db *DB) GetCacheRecord(ctx context.Context, scope string) (*CacheRecord, error) {
	var rec CacheRecord
	err := db.QueryRowContext(ctx, `
		SELECT scope, filter_hash, cursor, snapshot, row_count, captured_at
		FROM cache_entries WHERE scope = ?`, scope).
		Scan(&rec.Scope, &rec.FilterHash, &rec.Cursor, &rec.Snapshot, &rec.RowCount, &rec.CapturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteCacheRecord removes the record for scope.
func (db *DB) DeleteCacheRecord(ctx context.Context, scope string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM cache_entries WHERE scope = ?`, scope)
	return err
}

// DeleteAllCacheRecords empties the cache.
func (db *DB) DeleteAllCacheRecords(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `DELETE FROM cache_entries`)
	return err
}

// DeleteCacheRecordsBefore removes records captured before cutoff (unix ms).
func (db *DB) DeleteCacheRecordsBefore(ctx context.Context, cutoff int64) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM cache_entries WHERE captured_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountCacheRecords returns the number of stored scopes.
func (db *DB) CountCacheRecords(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n)
	return n, err
}
