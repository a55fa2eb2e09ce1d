// ABOUTME: Tests for the settled-key cache used by the correlation bridge.
// ABOUTME: Validates TTL expiry, stored values, insert-if-absent, eviction, and concurrency.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_GetMissing(t *testing.T) {
	cache := New[string](5*time.Minute, 100)
	defer cache.Close()

	v, ok := cache.Get("never-seen")
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestCache_PutGet(t *testing.T) {
	cache := New[string](5*time.Minute, 100)
	defer cache.Close()

	cache.Put("req-1", "timeout")
	cache.Put("req-2", "cancelled")

	v, ok := cache.Get("req-1")
	assert.True(t, ok)
	assert.Equal(t, "timeout", v)
	assert.True(t, cache.Contains("req-2"))
	assert.False(t, cache.Contains("req-3"))
}

func TestCache_Expired(t *testing.T) {
	cache := New[int](10*time.Millisecond, 100)
	defer cache.Close()

	cache.Put("expiring", 1)
	assert.True(t, cache.Contains("expiring"))

	time.Sleep(20 * time.Millisecond)

	assert.False(t, cache.Contains("expiring"))
}

func TestCache_PutRefreshesTTL(t *testing.T) {
	cache := New[int](50*time.Millisecond, 100)
	defer cache.Close()

	cache.Put("refresh", 1)
	time.Sleep(30 * time.Millisecond)
	cache.Put("refresh", 2)
	time.Sleep(30 * time.Millisecond)

	v, ok := cache.Get("refresh")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCache_Add(t *testing.T) {
	cache := New[string](5*time.Minute, 100)
	defer cache.Close()

	assert.True(t, cache.Add("handle-1", "first"))
	assert.False(t, cache.Add("handle-1", "second"))

	v, _ := cache.Get("handle-1")
	assert.Equal(t, "first", v, "Add must not overwrite an existing value")
}

func TestCache_AddAfterExpiry(t *testing.T) {
	cache := New[string](10*time.Millisecond, 100)
	defer cache.Close()

	assert.True(t, cache.Add("k", "a"))
	time.Sleep(20 * time.Millisecond)
	assert.True(t, cache.Add("k", "b"))

	v, _ := cache.Get("k")
	assert.Equal(t, "b", v)
}

func TestCache_AddIsAtomic(t *testing.T) {
	cache := New[int](5*time.Minute, 100)
	defer cache.Close()

	const numGoroutines = 100
	var winners atomic.Int32
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			if cache.Add("contested", i) {
				winners.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(), "exactly one goroutine should win Add")
}

func TestCache_EvictionOrder(t *testing.T) {
	cache := New[string](5*time.Minute, 3)
	defer cache.Close()

	cache.Put("first", "1")
	cache.Put("second", "2")
	cache.Put("third", "3")
	cache.Put("fourth", "4")

	assert.False(t, cache.Contains("first"), "oldest key should be evicted")
	assert.True(t, cache.Contains("second"))
	assert.True(t, cache.Contains("fourth"))

	// Refreshing moves a key to the back of the eviction order.
	cache.Put("second", "2b")
	cache.Put("fifth", "5")

	assert.False(t, cache.Contains("third"))
	assert.True(t, cache.Contains("second"))
	assert.Equal(t, 3, cache.size())
}

func TestCache_RemoveExpired(t *testing.T) {
	cache := New[struct{}](10*time.Millisecond, 100)
	defer cache.Close()

	cache.Put("a", struct{}{})
	cache.Put("b", struct{}{})
	time.Sleep(20 * time.Millisecond)

	cache.removeExpired()
	assert.Equal(t, 0, cache.size())
	assert.Equal(t, 0, cache.order.Len())
}

func TestCache_SweeperRuns(t *testing.T) {
	cache := New[struct{}](20*time.Millisecond, 100)
	defer cache.Close()

	cache.Put("a", struct{}{})

	assert.Eventually(t, func() bool { return cache.size() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestCache_Concurrent(t *testing.T) {
	cache := New[int](5*time.Minute, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", id%10, j%10)
				cache.Put(key, j)
				cache.Get(key)
				cache.Add(key, j)
			}
		}(i)
	}
	wg.Wait()

	cache.Put("final", 1)
	assert.True(t, cache.Contains("final"))
}

func TestCache_CloseTwice(t *testing.T) {
	cache := New[string](5*time.Minute, 100)
	cache.Put("k", "v")

	cache.Close()
	cache.Close()

	assert.True(t, cache.Contains("k"), "Close stops sweeping but keeps data")
}
