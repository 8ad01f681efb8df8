// Package schemacache implements the namespace→schema cache described in
// spec §4.3: the same pending/owner/done discipline as the key broker, but
// keyed by collection namespace ("db.coll") and caching a JSON/BSON schema
// document instead of key material.
package schemacache

import (
	"github.com/mongocrypt-go/core/internal/cache"
)

// Origin records where a schema came from, surfaced for diagnostics (the
// SchemaOrigin supplement, SPEC_FULL §4) but never affecting behavior.
type Origin int

const (
	// OriginNone means no schema has been resolved yet.
	OriginNone Origin = iota
	// OriginCache means an already-published entry satisfied the lookup.
	OriginCache
	// OriginCollInfo means the schema arrived via a listCollections reply
	// fed by the caller during NEED_MONGO_COLLINFO.
	OriginCollInfo
	// OriginLocal means the schema came from a caller-supplied local
	// schema map, bypassing any collection-info round trip.
	OriginLocal
)

// Entry is the cached value: the schema document plus where it came from.
type Entry struct {
	Schema []byte
	Origin Origin
}

// Cache is the per-engine namespace→schema store, shared by every context
// minted from the same engine so identical namespaces dedupe their
// listCollections fetch (spec §4.3).
type Cache struct {
	inner *cache.Cache[Entry]
}

// New creates an empty schema cache.
func New() *Cache {
	return &Cache{inner: cache.New[Entry]()}
}

// Lookup consults the cache for namespace. A Done hit returns it directly
// with OriginCache regardless of how it was originally published. A
// missing entry is created Pending and owned by ctxID, signaling the
// caller must fetch it via listCollections (NEED_MONGO_COLLINFO). A
// Pending hit owned by another context signals the caller should wait.
func (c *Cache) Lookup(namespace string, ctxID uint32) (entry Entry, owned bool, owner uint32, ready bool) {
	val, state, owner := c.inner.GetOrCreate(namespace, ctxID)
	if state == cache.Done {
		val.Origin = OriginCache
		return val, false, 0, true
	}
	return Entry{}, owner == ctxID, owner, false
}

// Publish makes a fetched schema visible to every context waiting on
// namespace, and wakes them.
func (c *Cache) Publish(namespace string, schema []byte, origin Origin) {
	c.inner.Publish(namespace, Entry{Schema: schema, Origin: origin})
}

// Abandon releases namespace if ctxID owns it Pending, without publishing
// a value, so the namespace is not stuck pending forever. A subsequent
// Lookup will re-offer ownership to whichever context asks next.
func (c *Cache) Abandon(namespace string, ctxID uint32) {
	c.inner.Abandon(namespace, ctxID)
}

// AbandonAll releases every namespace ctxID owns Pending — run when a
// context aborts entirely rather than resolving one empty lookup (spec §5
// "Cancellation").
func (c *Cache) AbandonAll(ctxID uint32) {
	c.inner.RemoveByOwner(ctxID)
}

// Wait blocks until some namespace's state changes, for a blocking
// wait_done caller (spec §5 "Blocking policy").
func (c *Cache) Wait() {
	c.inner.Wait()
}
