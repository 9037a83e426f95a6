package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/complaintfeed/internal/feed"
	"github.com/matheus3301/complaintfeed/internal/store"
)

// SQLite stores snapshots in the profile's cache database.
type SQLite struct {
	db     *store.DB
	codec  *Codec
	maxAge time.Duration
	now    func() time.Time
}

// NewSQLite wraps an opened and migrated database.
func NewSQLite(db *store.DB, codec *Codec, maxAge time.Duration) *SQLite {
	return &SQLite{db: db, codec: codec, maxAge: maxAge, now: time.Now}
}

func (s *SQLite) Read(ctx context.Context, key feed.ScopeKey) (*feed.CacheEntry, error) {
	rec, err := s.db.GetCacheRecord(ctx, slot(key))
	if err != nil {
		return nil, fmt.Errorf("read cache record: %w", err)
	}
	if rec == nil || rec.FilterHash != key.FilterHash {
		return nil, nil
	}
	entry := &feed.CacheEntry{
		FilterHash: rec.FilterHash,
		Cursor:     feed.Cursor(rec.Cursor),
		CapturedAt: time.UnixMilli(rec.CapturedAt),
	}
	if expired(entry, s.maxAge, s.now()) {
		if err := s.db.DeleteCacheRecord(ctx, rec.Scope); err != nil {
			return nil, fmt.Errorf("drop expired cache record: %w", err)
		}
		return nil, nil
	}
	if err := s.codec.Unmarshal(rec.Snapshot, &entry.Rows); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return entry, nil
}

func (s *SQLite) Write(ctx context.Context, key feed.ScopeKey, entry feed.CacheEntry) error {
	snapshot, err := s.codec.Marshal(entry.Rows)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.db.PutCacheRecord(ctx, &store.CacheRecord{
		Scope:      slot(key),
		FilterHash: key.FilterHash,
		Cursor:     string(entry.Cursor),
		Snapshot:   snapshot,
		RowCount:   len(entry.Rows),
		CapturedAt: entry.CapturedAt.UnixMilli(),
	})
}

func (s *SQLite) Invalidate(ctx context.Context, key *feed.ScopeKey) error {
	if key == nil {
		return s.db.DeleteAllCacheRecords(ctx)
	}
	return s.db.DeleteCacheRecord(ctx, slot(*key))
}

// Prune deletes every record older than the staleness bound.
func (s *SQLite) Prune(ctx context.Context) (int64, error) {
	if s.maxAge <= 0 {
		return 0, nil
	}
	return s.db.DeleteCacheRecordsBefore(ctx, s.now().Add(-s.maxAge).UnixMilli())
}

// Close is a no-op; the database is owned by the caller.
func (s *SQLite) Close() error { return nil }
