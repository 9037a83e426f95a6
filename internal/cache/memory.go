package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/matheus3301/complaintfeed/internal/feed"
)

// Memory is a bounded in-process store. Entries vanish on restart and after
// maxAge, whichever comes first.
type Memory struct {
	lru    *expirable.LRU[string, feed.CacheEntry]
	maxAge time.Duration
	now    func() time.Time
}

// NewMemory creates a store holding at most size slots.
func NewMemory(size int, maxAge time.Duration) *Memory {
	if size <= 0 {
		size = 64
	}
	return &Memory{
		lru:    expirable.NewLRU[string, feed.CacheEntry](size, nil, maxAge),
		maxAge: maxAge,
		now:    time.Now,
	}
}

func (m *Memory) Read(_ context.Context, key feed.ScopeKey) (*feed.CacheEntry, error) {
	e, ok := m.lru.Get(slot(key))
	if !ok || e.FilterHash != key.FilterHash {
		return nil, nil
	}
	if expired(&e, m.maxAge, m.now()) {
		m.lru.Remove(slot(key))
		return nil, nil
	}
	e.Rows = cloneRows(e.Rows)
	return &e, nil
}

func (m *Memory) Write(_ context.Context, key feed.ScopeKey, entry feed.CacheEntry) error {
	entry.FilterHash = key.FilterHash
	entry.Rows = cloneRows(entry.Rows)
	m.lru.Add(slot(key), entry)
	return nil
}

func (m *Memory) Invalidate(_ context.Context, key *feed.ScopeKey) error {
	if key == nil {
		m.lru.Purge()
		return nil
	}
	m.lru.Remove(slot(*key))
	return nil
}

// Len returns the number of cached slots.
func (m *Memory) Len() int {
	return m.lru.Len()
}

func (m *Memory) Close() error {
	m.lru.Purge()
	return nil
}
