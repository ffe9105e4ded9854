package cache

import (
	"sync"
	"time"
)

type item struct {
	value      interface{}
	expiration int64 // unix nanos, 0 = never
}

// MemoryCache is a TTL key/value cache with a background janitor.
type MemoryCache struct {
	items sync.Map
	stop  chan struct{}
	once  sync.Once
}

// NewMemoryCache creates a cache whose janitor sweeps expired entries at
// the given interval. A non-positive interval disables the janitor.
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	c := &MemoryCache{stop: make(chan struct{})}
	if cleanupInterval > 0 {
		go c.janitor(cleanupInterval)
	}
	return c
}

// Set stores value under key. A zero ttl means the entry never expires.
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	var exp int64
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixNano()
	}
	c.items.Store(key, &item{value: value, expiration: exp})
}

// Get returns the live value for key, expiring it lazily when stale.
func (c *MemoryCache) Get(key string) (interface{}, bool) {
	v, ok := c.items.Load(key)
	if !ok {
		return nil, false
	}
	it := v.(*item)
	if it.expiration > 0 && time.Now().UnixNano() > it.expiration {
		c.items.Delete(key)
		return nil, false
	}
	return it.value, true
}

// Delete removes key.
func (c *MemoryCache) Delete(key string) {
	c.items.Delete(key)
}

// Keys returns the keys of all live entries.
func (c *MemoryCache) Keys() []string {
	now := time.Now().UnixNano()
	var keys []string
	c.items.Range(func(k, v interface{}) bool {
		it := v.(*item)
		if it.expiration == 0 || now <= it.expiration {
			keys = append(keys, k.(string))
		}
		return true
	})
	return keys
}

// Close stops the janitor.
func (c *MemoryCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *MemoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now().UnixNano()
			c.items.Range(func(k, v interface{}) bool {
				it := v.(*item)
				if it.expiration > 0 && now > it.expiration {
					c.items.Delete(k)
				}
				return true
			})
		case <-c.stop:
			return
		}
	}
}
