package docsync

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultHashCacheEntries is the hash cache size used when none is configured.
const DefaultHashCacheEntries = 4096

type hashKey struct {
	path    string
	size    int64
	modTime int64
}

// HashCache remembers content hashes of local files keyed by path, size and
// modification time, so unchanged files are not re-read on every scan.
// Least recently used entries are evicted once the cache is full.
// A nil *HashCache is valid and caches nothing.
type HashCache struct {
	entries *lru.Cache[hashKey, string]
}

// NewHashCache creates a cache holding at most size entries.
func NewHashCache(size int) (*HashCache, error) {
	if size <= 0 {
		size = DefaultHashCacheEntries
	}
	c, err := lru.New[hashKey, string](size)
	if err != nil {
		return nil, fmt.Errorf("creating hash cache: %w", err)
	}
	return &HashCache{entries: c}, nil
}

// Lookup returns the cached hash for the file, if present.
func (c *HashCache) Lookup(path string, size int64, modTime time.Time) (string, bool) {
	if c == nil {
		return "", false
	}
	return c.entries.Get(hashKey{path: path, size: size, modTime: modTime.UnixNano()})
}

// Store records the hash for the file.
func (c *HashCache) Store(path string, size int64, modTime time.Time, hash string) {
	if c == nil {
		return
	}
	c.entries.Add(hashKey{path: path, size: size, modTime: modTime.UnixNano()}, hash)
}

// Len returns the number of cached hashes.
func (c *HashCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

// Purge drops every entry.
func (c *HashCache) Purge() {
	if c == nil {
		return
	}
	c.entries.Purge()
}
