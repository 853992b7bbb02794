package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetAndGet(t *testing.T) {
	c := NewMemoryCache(10, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	value, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v"), value)

	_, found, err = c.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, found)

	hits, misses, _ := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestMemoryCache_ValueIsolation(t *testing.T) {
	c := NewMemoryCache(10, nil)
	ctx := context.Background()

	original := []byte("original")
	require.NoError(t, c.Set(ctx, "k", original, time.Minute))
	original[0] = 'X'

	value, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("original"), value)

	// Mutating the returned slice must not poison the stored copy
	value[0] = 'Y'
	again, _, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache(10, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := NewMemoryCache(3, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute))
	}

	// Touch k0 so k1 becomes the eviction candidate
	_, _, err := c.Get(ctx, "k0")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k3", []byte("v"), time.Minute))

	_, found, _ := c.Get(ctx, "k1")
	assert.False(t, found)
	_, found, _ = c.Get(ctx, "k0")
	assert.True(t, found)

	_, _, evictions := c.Stats()
	assert.Equal(t, int64(1), evictions)
}

func TestMemoryCache_InvalidatePrefix(t *testing.T) {
	c := NewMemoryCache(10, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "graph:a:node:1", []byte("v"), time.Minute))
	require.NoError(t, c.Set(ctx, "graph:a:stats", []byte("v"), time.Minute))
	require.NoError(t, c.Set(ctx, "graph:b:stats", []byte("v"), time.Minute))

	require.NoError(t, c.InvalidatePrefix(ctx, "graph:a:"))

	_, found, _ := c.Get(ctx, "graph:a:node:1")
	assert.False(t, found)
	_, found, _ = c.Get(ctx, "graph:a:stats")
	assert.False(t, found)
	_, found, _ = c.Get(ctx, "graph:b:stats")
	assert.True(t, found)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache(10, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	_, found, _ := c.Get(ctx, "k")
	assert.False(t, found)

	// Deleting an absent key is a no-op
	require.NoError(t, c.Delete(ctx, "k"))
}
