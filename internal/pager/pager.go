// Package pager drives cursor pagination for one feed scope at a time.
//
// Every fetch is tagged with the scope generation and a sequence number.
// A response is applied only if both still match when it arrives, so a page
// requested under an old filter set, or superseded by a newer request, never
// reaches the row list.
package pager

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/matheus3301/complaintfeed/internal/cache"
	"github.com/matheus3301/complaintfeed/internal/feed"
	feedsync "github.com/matheus3301/complaintfeed/internal/sync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feed_pager_fetches_total",
	Help: "Page fetches by outcome (applied, stale, error, cache_hit).",
}, []string{"outcome"})

// DefaultPageSize is used when no page size is configured.
const DefaultPageSize = 20

// ErrNoScope is returned by fetches before SetScope or after Reset.
var ErrNoScope = errors.New("pager has no scope")

// Fetcher issues paged fetches against the backend.
type Fetcher interface {
	FetchPage(ctx context.Context, req feed.PageRequest) (*feed.Page, error)
}

// Pager owns the cursor and the "no more" state of the current scope and is
// the only writer of its cache entry. Lock order is Pager then Reconciler.
type Pager struct {
	mu       gosync.Mutex
	fetcher  Fetcher
	cache    cache.Store
	rec      *feedsync.Reconciler
	logger   *zap.Logger
	pageSize int
	now      func() time.Time

	category string
	role     string
	filter   feed.FilterSet
	key      feed.ScopeKey
	scoped   bool

	generation  uint64
	seq         uint64
	cursor      feed.Cursor
	loaded      bool
	noMore      bool
	inFlight    bool
	cancelFetch context.CancelFunc
	lastErr     error
	lastReplace bool

	version     uint64
	writeMu     gosync.Mutex
	written     uint64
	minWriteGen uint64
}

// New creates a pager. cacheStore is expected to absorb its own failures
// (see cache.Tolerant); errors it does return are logged.
func New(fetcher Fetcher, cacheStore cache.Store, rec *feedsync.Reconciler, pageSize int, logger *zap.Logger) *Pager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager{
		fetcher:  fetcher,
		cache:    cacheStore,
		rec:      rec,
		logger:   logger,
		pageSize: pageSize,
		now:      time.Now,
	}
}

// SetScope switches to a category, role and filter set. If anything changed
// (filters compare by identity) the cursor and "no more" state are discarded,
// the in-flight fetch is cancelled and the row list is emptied. Reports
// whether the scope changed.
func (p *Pager) SetScope(category, role string, f feed.FilterSet) bool {
	p.mu.Lock()
	if p.scoped && category == p.category && role == p.role && f.Equal(p.filter) {
		p.mu.Unlock()
		return false
	}
	p.leaveLocked()
	p.category = category
	p.role = role
	p.filter = f.Normalize()
	p.key = feed.NewScopeKey(category, role, f)
	p.scoped = true
	key, gen := p.key, p.generation
	p.mu.Unlock()
	p.fence(gen)

	p.logger.Debug("scope changed",
		zap.String("scope", key.String()),
		zap.Uint64("generation", gen),
	)
	return true
}

// Reset leaves the current scope without entering a new one. The in-flight
// fetch is cancelled and its response dropped, the row list is emptied, and
// once Reset returns no snapshot of the old scope is written to the cache.
// Fetches fail with ErrNoScope until the next SetScope.
func (p *Pager) Reset() {
	p.mu.Lock()
	p.leaveLocked()
	p.category, p.role = "", ""
	p.filter = feed.FilterSet{}
	p.key = feed.ScopeKey{}
	p.scoped = false
	gen := p.generation
	p.mu.Unlock()
	p.fence(gen)
}

// leaveLocked bumps the generation and discards all per-scope state.
func (p *Pager) leaveLocked() {
	if p.cancelFetch != nil {
		p.cancelFetch()
		p.cancelFetch = nil
	}
	p.generation++
	p.seq = 0
	p.cursor = ""
	p.loaded = false
	p.noMore = false
	p.inFlight = false
	p.lastErr = nil
	p.rec.Reset()
}

// fence stops cache writes from generations before gen. It waits for a
// write already in progress.
func (p *Pager) fence(gen uint64) {
	p.writeMu.Lock()
	if gen > p.minWriteGen {
		p.minWriteGen = gen
	}
	p.writeMu.Unlock()
}

// LoadFirst shows the cached snapshot for the scope if there is one,
// otherwise fetches the first page.
func (p *Pager) LoadFirst(ctx context.Context) error {
	p.mu.Lock()
	gen, key, scoped := p.generation, p.key, p.scoped
	p.mu.Unlock()
	if !scoped {
		return ErrNoScope
	}

	if p.cache != nil {
		entry, err := p.cache.Read(ctx, key)
		if err != nil {
			p.logger.Warn("cache read failed", zap.String("scope", key.String()), zap.Error(err))
		}
		if entry != nil {
			p.mu.Lock()
			if gen != p.generation || p.loaded {
				p.mu.Unlock()
				return nil
			}
			p.rec.ApplyPage(entry.Rows, true)
			p.cursor = entry.Cursor
			p.noMore = entry.Cursor == ""
			p.loaded = true
			p.mu.Unlock()
			fetchesTotal.WithLabelValues("cache_hit").Inc()
			p.logger.Debug("feed hydrated from cache",
				zap.String("scope", key.String()),
				zap.Int("rows", len(entry.Rows)),
			)
			return nil
		}
	}
	_, err := p.fetch(ctx, true, false)
	return err
}

// Refresh refetches the scope from the start, bypassing the cache.
func (p *Pager) Refresh(ctx context.Context) error {
	_, err := p.fetch(ctx, true, false)
	return err
}

// LoadMore fetches the next page. It does nothing and reports false when the
// scope has not loaded yet, a fetch is already in flight, or the server said
// there are no more rows.
func (p *Pager) LoadMore(ctx context.Context) (bool, error) {
	return p.fetch(ctx, false, true)
}

// Retry re-issues the request that last failed. No-op if none did.
func (p *Pager) Retry(ctx context.Context) error {
	p.mu.Lock()
	failed, replace := p.lastErr != nil, p.lastReplace || !p.loaded
	p.mu.Unlock()
	if !failed {
		return nil
	}
	_, err := p.fetch(ctx, replace, false)
	return err
}

// fetch issues one request. A continuation fetch checks and claims the
// in-flight slot in the same critical section so concurrent callers issue at
// most one request; a fresh load supersedes whatever is in flight.
func (p *Pager) fetch(ctx context.Context, replace, continuation bool) (bool, error) {
	p.mu.Lock()
	if !p.scoped {
		p.mu.Unlock()
		return false, ErrNoScope
	}
	if continuation && (!p.loaded || p.noMore || p.inFlight) {
		p.mu.Unlock()
		return false, nil
	}
	if p.cancelFetch != nil {
		p.cancelFetch()
	}
	p.seq++
	gen, seq, key := p.generation, p.seq, p.key
	req := feed.PageRequest{
		Category: p.category,
		Filter:   p.filter,
		PageSize: p.pageSize,
	}
	if !replace {
		req.Cursor = p.cursor
	}
	fctx, cancel := context.WithCancel(ctx)
	p.cancelFetch = cancel
	p.inFlight = true
	p.mu.Unlock()

	page, err := p.fetcher.FetchPage(fctx, req)
	cancel()

	p.mu.Lock()
	if gen != p.generation || seq != p.seq {
		p.mu.Unlock()
		fetchesTotal.WithLabelValues("stale").Inc()
		p.logger.Debug("stale page dropped",
			zap.Uint64("generation", gen),
			zap.Uint64("seq", seq),
		)
		return true, nil
	}
	p.inFlight = false
	p.cancelFetch = nil

	if err != nil {
		p.lastErr = err
		p.lastReplace = replace
		p.mu.Unlock()
		fetchesTotal.WithLabelValues("error").Inc()
		p.logger.Warn("page fetch failed",
			zap.String("scope", key.String()),
			zap.String("cursor", string(req.Cursor)),
			zap.Error(err),
		)
		return true, fmt.Errorf("fetch page: %w", err)
	}

	p.lastErr = nil
	p.rec.ApplyPage(page.Rows, replace)
	p.cursor = page.NextCursor
	p.noMore = page.NextCursor == ""
	p.loaded = true
	p.version++
	version := p.version
	entry := feed.CacheEntry{
		FilterHash: key.FilterHash,
		Rows:       p.rec.ConfirmedSnapshot(),
		Cursor:     p.cursor,
		CapturedAt: p.now(),
	}
	p.mu.Unlock()
	fetchesTotal.WithLabelValues("applied").Inc()

	p.persist(ctx, key, gen, version, entry)
	return true, nil
}

// persist writes the snapshot unless a newer one was already written or the
// scope it belongs to has been left. Only server-confirmed row state is
// persisted.
func (p *Pager) persist(ctx context.Context, key feed.ScopeKey, gen, version uint64, entry feed.CacheEntry) {
	if p.cache == nil {
		return
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if version <= p.written || gen < p.minWriteGen {
		return
	}
	p.written = version
	if err := p.cache.Write(ctx, key, entry); err != nil {
		p.logger.Warn("cache write failed", zap.String("scope", key.String()), zap.Error(err))
	}
}

// Invalidate drops the cached snapshot of the current scope.
func (p *Pager) Invalidate(ctx context.Context) {
	if p.cache == nil {
		return
	}
	p.mu.Lock()
	key, scoped := p.key, p.scoped
	p.mu.Unlock()
	if !scoped {
		return
	}
	if err := p.cache.Invalidate(ctx, &key); err != nil {
		p.logger.Warn("cache invalidate failed", zap.String("scope", key.String()), zap.Error(err))
	}
}

// Loading reports whether a fetch is in flight.
func (p *Pager) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// HasMore reports whether continuation fetches are still possible.
func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.noMore
}

// LastError returns the error of the most recent applied fetch, if any.
func (p *Pager) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Generation returns the current scope generation.
func (p *Pager) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Cursor returns the cursor the next continuation fetch will use.
func (p *Pager) Cursor() feed.Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Key returns the cache key of the current scope and whether there is one.
func (p *Pager) Key() (feed.ScopeKey, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key, p.scoped
}

// Scope returns the current category, role and filter set.
func (p *Pager) Scope() (category, role string, f feed.FilterSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.category, p.role, p.filter
}
