package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brittybidari/FashionRecSys/internal/core"
)

func TestEmbeddingCacheGetPut(t *testing.T) {
	c := NewEmbeddingCache(4, time.Minute)
	k := KeyOf([]byte("red.png"))

	_, ok := c.Get(k)
	assert.False(t, ok)

	c.Put(k, core.Embedding{1, 2, 3})
	got, ok := c.Get(k)
	require.True(t, ok)
	assert.Equal(t, core.Embedding{1, 2, 3}, got)

	// callers cannot mutate the cached copy
	got[0] = 99
	again, _ := c.Get(k)
	assert.Equal(t, float32(1), again[0])
}

func TestEmbeddingCacheKeyIsContentBased(t *testing.T) {
	assert.Equal(t, KeyOf([]byte("abc")), KeyOf([]byte("abc")))
	assert.NotEqual(t, KeyOf([]byte("abc")), KeyOf([]byte("abd")))
}

func TestEmbeddingCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewEmbeddingCache(2, 0)
	a, b, d := KeyOf([]byte("a")), KeyOf([]byte("b")), KeyOf([]byte("d"))

	c.Put(a, core.Embedding{1})
	c.Put(b, core.Embedding{2})
	_, _ = c.Get(a) // a is now the most recent
	c.Put(d, core.Embedding{3})

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(b)
	assert.False(t, ok)
	_, ok = c.Get(a)
	assert.True(t, ok)
	_, ok = c.Get(d)
	assert.True(t, ok)
}

func TestEmbeddingCacheExpires(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewEmbeddingCache(2, time.Second)
	c.now = func() time.Time { return now }

	k := KeyOf([]byte("x"))
	c.Put(k, core.Embedding{1})
	now = now.Add(999 * time.Millisecond)
	_, ok := c.Get(k)
	assert.True(t, ok)

	now = now.Add(time.Millisecond)
	_, ok = c.Get(k)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestEmbeddingCacheOverwriteAndClear(t *testing.T) {
	c := NewEmbeddingCache(2, 0)
	k := KeyOf([]byte("k"))
	c.Put(k, core.Embedding{1})
	c.Put(k, core.Embedding{2})
	assert.Equal(t, 1, c.Len())
	got, _ := c.Get(k)
	assert.Equal(t, core.Embedding{2}, got)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestEmbeddingCacheConcurrentAccess(t *testing.T) {
	c := NewEmbeddingCache(16, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				k := KeyOf([]byte(fmt.Sprintf("%d", j%32)))
				c.Put(k, core.Embedding{float32(j)})
				_, _ = c.Get(k)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 16)
}
