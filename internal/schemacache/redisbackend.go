package schemacache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend persists published schemas in Redis so a fleet of engine
// processes shares one namespace→schema view instead of each process
// re-running listCollections on its own first lookup. It sits beside, not
// inside, Cache: the in-process Cache still owns the pending/owner
// discipline for a single process's contexts (spec §4.3); RedisBackend only
// prepopulates and backfills it.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisBackendOption configures a RedisBackend.
type RedisBackendOption func(*RedisBackend)

// WithRedisKeyPrefix sets the key prefix used for every namespace entry.
func WithRedisKeyPrefix(prefix string) RedisBackendOption {
	return func(b *RedisBackend) { b.prefix = prefix }
}

// WithRedisTTL sets how long a published schema is cached before it must be
// refetched, bounding how stale a shared schema can get after a collection's
// validator changes.
func WithRedisTTL(ttl time.Duration) RedisBackendOption {
	return func(b *RedisBackend) { b.ttl = ttl }
}

// NewRedisBackend wraps an existing redis.Client.
func NewRedisBackend(client *redis.Client, opts ...RedisBackendOption) *RedisBackend {
	b := &RedisBackend{client: client, prefix: "mongocrypt:schema:", ttl: 10 * time.Minute}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBackend) key(namespace string) string {
	return b.prefix + namespace
}

// Get fetches a previously published schema for namespace, reporting false
// if no entry exists (a cache miss, not an error).
func (b *RedisBackend) Get(ctx context.Context, namespace string) ([]byte, bool, error) {
	val, err := b.client.Get(ctx, b.key(namespace)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set publishes namespace's schema with the backend's configured TTL.
func (b *RedisBackend) Set(ctx context.Context, namespace string, schema []byte) error {
	return b.client.Set(ctx, b.key(namespace), schema, b.ttl).Err()
}

// Invalidate removes a published schema, used when a collection's validator
// changes and the shared cache must not keep serving the stale version.
func (b *RedisBackend) Invalidate(ctx context.Context, namespace string) error {
	return b.client.Del(ctx, b.key(namespace)).Err()
}

// WarmCache populates a local Cache with the schema this backend already
// has cached for each of the given namespaces, so a freshly started
// process's first lookups can hit without a round trip. Namespaces the
// backend has no entry for are skipped; entries for namespaces not in the
// list are not loaded.
func (b *RedisBackend) WarmCache(ctx context.Context, c *Cache, namespaces []string) error {
	for _, ns := range namespaces {
		schema, ok, err := b.Get(ctx, ns)
		if err != nil {
			return err
		}
		if ok {
			c.Publish(ns, schema, OriginCache)
		}
	}
	return nil
}
