package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyfs/internal/storage"
)

func attrs(size int64) storage.Attributes {
	return storage.Attributes{Size: size, ModificationTime: time.Unix(1700000000, 0)}
}

func TestAttrCache_SetGet(t *testing.T) {
	c := NewAttrCache(0, 0)

	_, ok := c.Get("_a")
	assert.False(t, ok)

	c.Set("_a", attrs(10))
	got, ok := c.Get("_a")
	require.True(t, ok)
	assert.Equal(t, int64(10), got.Size)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestAttrCache_TTL(t *testing.T) {
	c := NewAttrCache(time.Second, 0)
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }

	c.Set("_a", attrs(1))
	_, ok := c.Get("_a")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("_a")
	assert.False(t, ok, "entry should expire after TTL")
}

func TestAttrCache_MaxSize(t *testing.T) {
	c := NewAttrCache(0, 2)
	c.Set("_a", attrs(1))
	c.Set("_b", attrs(2))
	c.Set("_c", attrs(3))
	assert.Equal(t, 2, c.Size())

	_, ok := c.Get("_c")
	assert.False(t, ok)

	// Existing entries can still be refreshed at capacity.
	c.Set("_a", attrs(5))
	got, ok := c.Get("_a")
	require.True(t, ok)
	assert.Equal(t, int64(5), got.Size)
}

func TestAttrCache_Invalidation(t *testing.T) {
	c := NewAttrCache(0, 0)
	for _, k := range []string{"_d_a", "_d_b", "_x"} {
		c.Set(k, attrs(1))
	}

	c.InvalidatePath("_x")
	_, ok := c.Get("_x")
	assert.False(t, ok)

	c.InvalidatePrefix("_d_")
	assert.Equal(t, 0, c.Size())

	c.Set("_y", attrs(1))
	c.Invalidate()
	assert.Equal(t, 0, c.Size())

}
