package cache

import (
	"sync/atomic"

	lfu "github.com/dgraph-io/ristretto"
)

// LFUCacheFactory creates Ristretto cache instances.
type LFUCacheFactory struct {
	config LocalCacheConfig
}

// NewLFUCacheFactory creates a new Ristretto cache factory.
func NewLFUCacheFactory(config LocalCacheConfig) LocalCacheFactory {
	return &LFUCacheFactory{config: config}
}

// Create creates a new Ristretto cache instance.
func (rcf *LFUCacheFactory) Create() (LocalCache, error) {
	return NewLFUCache(rcf.config)
}

// LFUCache is a cost-bounded value store backed by Ristretto. Admission is
// probabilistic: a Set may be refused when the cache is full, in which case
// the coordinator simply re-fetches on the next read.
type LFUCache struct {
	cache     *lfu.Cache
	hits      int64
	misses    int64
	evictions int64
	entries   int64
}

// NewLFUCache creates a new Ristretto-based local cache.
func NewLFUCache(config LocalCacheConfig) (*LFUCache, error) {
	rc := &LFUCache{}
	cache, err := lfu.NewCache(&lfu.Config{
		NumCounters:        config.NumCounters,
		MaxCost:            config.MaxCost,
		BufferItems:        config.BufferItems,
		IgnoreInternalCost: config.IgnoreInternalCost,
		OnEvict: func(item *lfu.Item) {
			atomic.AddInt64(&rc.evictions, 1)
			atomic.AddInt64(&rc.entries, -1)
		},
	})
	if err != nil {
		return nil, err
	}
	rc.cache = cache
	return rc, nil
}

// Get retrieves a value from the local cache.
func (rc *LFUCache) Get(key string) (any, bool) {
	value, found := rc.cache.Get(key)
	if found {
		atomic.AddInt64(&rc.hits, 1)
	} else {
		atomic.AddInt64(&rc.misses, 1)
	}
	return value, found
}

// Set stores a value and waits until it is visible to Get, so a read right
// after a fetch never misses its own write.
func (rc *LFUCache) Set(key string, value any, cost int64) bool {
	_, existed := rc.cache.Get(key)
	ok := rc.cache.Set(key, value, cost)
	rc.cache.Wait()
	if ok && !existed {
		atomic.AddInt64(&rc.entries, 1)
	}
	return ok
}

// Delete removes a value from the local cache.
func (rc *LFUCache) Delete(key string) {
	if _, found := rc.cache.Get(key); found {
		atomic.AddInt64(&rc.entries, -1)
	}
	rc.cache.Del(key)
	rc.cache.Wait()
}

// Clear removes all values from the local cache.
func (rc *LFUCache) Clear() {
	rc.cache.Clear()
	atomic.StoreInt64(&rc.entries, 0)
}

// Close closes the local cache.
func (rc *LFUCache) Close() {
	rc.cache.Close()
}

// Metrics returns cache metrics. Size is an approximate entry count.
func (rc *LFUCache) Metrics() LocalCacheMetrics {
	size := atomic.LoadInt64(&rc.entries)
	if size < 0 {
		size = 0
	}
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&rc.hits),
		Misses:    atomic.LoadInt64(&rc.misses),
		Evictions: atomic.LoadInt64(&rc.evictions),
		Size:      size,
	}
}
