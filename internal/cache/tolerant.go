package cache

import (
	"context"

	"github.com/matheus3301/complaintfeed/internal/feed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_cache_hits_total",
		Help: "Cache reads that returned a snapshot for the requested filter.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_cache_misses_total",
		Help: "Cache reads that found nothing usable.",
	})
	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_cache_errors_total",
		Help: "Cache operations that failed and were ignored.",
	}, []string{"op"})
)

// Tolerant wraps a Store so storage failures never reach the feed: a failed
// read is a miss, a failed write or invalidation is logged and dropped.
type Tolerant struct {
	inner  Store
	logger *zap.Logger
}

// NewTolerant wraps inner.
func NewTolerant(inner Store, logger *zap.Logger) *Tolerant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tolerant{inner: inner, logger: logger}
}

func (t *Tolerant) Read(ctx context.Context, key feed.ScopeKey) (*feed.CacheEntry, error) {
	entry, err := t.inner.Read(ctx, key)
	if err != nil {
		cacheErrors.WithLabelValues("read").Inc()
		t.logger.Warn("cache read failed", zap.String("scope", key.String()), zap.Error(err))
		entry = nil
	}
	if entry == nil {
		cacheMisses.Inc()
		return nil, nil
	}
	cacheHits.Inc()
	return entry, nil
}

func (t *Tolerant) Write(ctx context.Context, key feed.ScopeKey, entry feed.CacheEntry) error {
	if err := t.inner.Write(ctx, key, entry); err != nil {
		cacheErrors.WithLabelValues("write").Inc()
		t.logger.Warn("cache write failed", zap.String("scope", key.String()), zap.Int("rows", len(entry.Rows)), zap.Error(err))
	}
	return nil
}

func (t *Tolerant) Invalidate(ctx context.Context, key *feed.ScopeKey) error {
	if err := t.inner.Invalidate(ctx, key); err != nil {
		cacheErrors.WithLabelValues("invalidate").Inc()
		scope := "*"
		if key != nil {
			scope = key.String()
		}
		t.logger.Warn("cache invalidate failed", zap.String("scope", scope), zap.Error(err))
	}
	return nil
}

func (t *Tolerant) Close() error {
	return t.inner.Close()
}
