package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateFirstCallerOwns(t *testing.T) {
	c := New[string]()

	_, state, owner := c.GetOrCreate("k", 1)
	assert.Equal(t, Pending, state)
	assert.Equal(t, uint32(1), owner)

	_, state, owner = c.GetOrCreate("k", 2)
	assert.Equal(t, Pending, state)
	assert.Equal(t, uint32(1), owner, "second caller should see the first owner, not become one")
}

func TestPublishMakesEntryDone(t *testing.T) {
	c := New[string]()
	c.GetOrCreate("k", 1)
	c.Publish("k", "value")

	val, state, owner := c.GetOrCreate("k", 2)
	assert.Equal(t, Done, state)
	assert.Equal(t, "value", val)
	assert.Equal(t, uint32(0), owner)
}

func TestAbandonReleasesOwnedPendingEntry(t *testing.T) {
	c := New[string]()
	c.GetOrCreate("k", 1)
	c.Abandon("k", 1)

	_, state, owner := c.GetOrCreate("k", 2)
	assert.Equal(t, Pending, state)
	assert.Equal(t, uint32(2), owner)
}

func TestAbandonIgnoresNonOwner(t *testing.T) {
	c := New[string]()
	c.GetOrCreate("k", 1)
	c.Abandon("k", 2)

	_, _, owner, found := c.Peek("k")
	require.True(t, found)
	assert.Equal(t, uint32(1), owner)
}

func TestRemoveByOwnerLeavesDoneEntriesAlone(t *testing.T) {
	c := New[string]()
	c.GetOrCreate("pending", 1)
	c.GetOrCreate("done", 1)
	c.Publish("done", "v")

	c.RemoveByOwner(1)

	_, _, _, found := c.Peek("pending")
	assert.False(t, found)

	val, state, _, found := c.Peek("done")
	require.True(t, found)
	assert.Equal(t, Done, state)
	assert.Equal(t, "v", val)
}

func TestWaitWakesOnPublish(t *testing.T) {
	c := New[string]()
	c.GetOrCreate("k", 1)

	woke := make(chan struct{})
	go func() {
		c.Wait()
		close(woke)
	}()

	time.Sleep(10 * time.Millisecond)
	c.Publish("k", "v")

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Publish")
	}
}
