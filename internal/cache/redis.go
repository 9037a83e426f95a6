package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/matheus3301/complaintfeed/internal/feed"
)

const redisKeyPrefix = "complaintfeed:cache:"

// Redis stores snapshots in a shared Redis instance, one key per slot with
// the staleness bound as TTL.
type Redis struct {
	client *redis.Client
	codec  *Codec
	maxAge time.Duration
	now    func() time.Time
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string, codec *Codec, maxAge time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Redis{client: client, codec: codec, maxAge: maxAge, now: time.Now}, nil
}

func redisKey(k feed.ScopeKey) string {
	return redisKeyPrefix + slot(k)
}

func (r *Redis) Read(ctx context.Context, key feed.ScopeKey) (*feed.CacheEntry, error) {
	data, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var entry feed.CacheEntry
	if err := r.codec.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	if entry.FilterHash != key.FilterHash {
		return nil, nil
	}
	if expired(&entry, r.maxAge, r.now()) {
		return nil, r.client.Del(ctx, redisKey(key)).Err()
	}
	return &entry, nil
}

func (r *Redis) Write(ctx context.Context, key feed.ScopeKey, entry feed.CacheEntry) error {
	entry.FilterHash = key.FilterHash
	data, err := r.codec.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(key), data, r.maxAge).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, key *feed.ScopeKey) error {
	if key != nil {
		return r.client.Del(ctx, redisKey(*key)).Err()
	}
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
