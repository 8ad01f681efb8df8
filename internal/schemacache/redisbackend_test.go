package schemacache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *RedisBackend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisBackend(client, WithRedisTTL(time.Minute))
}

func TestRedisBackendGetMiss(t *testing.T) {
	b := newTestBackend(t)
	_, ok, err := b.Get(context.Background(), "db.coll")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisBackendSetGet(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "db.coll", []byte(`{"bsonType":"object"}`)))

	schema, ok, err := b.Get(ctx, "db.coll")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"bsonType":"object"}`, string(schema))
}

func TestRedisBackendInvalidate(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "db.coll", []byte(`{}`)))
	require.NoError(t, b.Invalidate(ctx, "db.coll"))

	_, ok, err := b.Get(ctx, "db.coll")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisBackendWarmCache(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "db.a", []byte(`{"bsonType":"object","title":"a"}`)))
	require.NoError(t, b.Set(ctx, "db.b", []byte(`{"bsonType":"object","title":"b"}`)))

	c := New()
	require.NoError(t, b.WarmCache(ctx, c, []string{"db.a", "db.b", "db.c"}))

	entry, owned, _, ready := c.Lookup("db.a", 1)
	require.True(t, ready)
	require.False(t, owned)
	require.JSONEq(t, `{"bsonType":"object","title":"a"}`, string(entry.Schema))
	require.Equal(t, OriginCache, entry.Origin)

	_, owned, _, ready = c.Lookup("db.c", 1)
	require.False(t, ready)
	require.True(t, owned)
}
