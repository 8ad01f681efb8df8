package schemacache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCache_OwnerFetchesThenPublishes(t *testing.T) {
	c := New()

	entry, owned, _, ready := c.Lookup("db.coll", 1)
	require.False(t, ready)
	require.True(t, owned)
	require.Empty(t, entry.Schema)

	c.Publish("db.coll", []byte(`{"type":"object"}`), OriginCollInfo)

	entry, _, _, ready = c.Lookup("db.coll", 2)
	require.True(t, ready)
	require.Equal(t, OriginCache, entry.Origin) // cache hit always reports OriginCache
	require.Equal(t, []byte(`{"type":"object"}`), entry.Schema)
}

func TestCache_DependentWaitsOnOwner(t *testing.T) {
	c := New()

	_, owned1, _, _ := c.Lookup("db.coll", 1)
	require.True(t, owned1)

	_, owned2, owner2, ready2 := c.Lookup("db.coll", 2)
	require.False(t, owned2)
	require.False(t, ready2)
	require.Equal(t, uint32(1), owner2)
}

func TestCache_AbandonReleasesOwnership(t *testing.T) {
	c := New()

	c.Lookup("db.coll", 1)
	c.Abandon("db.coll", 1)

	_, owned, _, ready := c.Lookup("db.coll", 2)
	require.True(t, owned)
	require.False(t, ready)
}

func TestCache_AbandonAllOnlyTouchesOwnedEntries(t *testing.T) {
	c := New()

	c.Lookup("db.a", 1)
	c.Lookup("db.b", 1)
	c.Publish("db.c", []byte("schema"), OriginCollInfo)

	c.AbandonAll(1)

	_, owned, _, ready := c.Lookup("db.a", 2)
	require.True(t, owned)
	require.False(t, ready)

	entry, _, _, ready := c.Lookup("db.c", 2)
	require.True(t, ready)
	require.Equal(t, []byte("schema"), entry.Schema)
}
