// Package cache persists feed snapshots per (category, role) slot with
// filter-aware invalidation. A read only hits when the stored snapshot was
// produced by the same filter set as the request.
package cache

import (
	"context"
	"time"

	"github.com/matheus3301/complaintfeed/internal/feed"
)

// Store is the durable snapshot store consumed by the pager.
//
// Callers guarantee a single writer per scope. Invalidate with a nil key
// clears every scope (logout); with a key it clears that key's
// category/role slot regardless of filter.
type Store interface {
	Read(ctx context.Context, key feed.ScopeKey) (*feed.CacheEntry, error)
	Write(ctx context.Context, key feed.ScopeKey, entry feed.CacheEntry) error
	Invalidate(ctx context.Context, key *feed.ScopeKey) error
	Close() error
}

// slot is the storage key: one snapshot per category/role.
func slot(k feed.ScopeKey) string {
	return k.Category + "/" + k.Role
}

// expired reports whether an entry is past maxAge. maxAge 0 never expires.
func expired(e *feed.CacheEntry, maxAge time.Duration, now time.Time) bool {
	return maxAge > 0 && now.Sub(e.CapturedAt) > maxAge
}

func cloneRows(rows []feed.Row) []feed.Row {
	if rows == nil {
		return nil
	}
	out := make([]feed.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
