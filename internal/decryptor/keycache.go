package decryptor

import (
	"context"
	"crypto/aes"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/mohaanymo/m3u8dl/internal/metrics"
	"github.com/mohaanymo/m3u8dl/internal/models"
)

// Fetcher retrieves a resource body.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

type cacheEntry struct {
	key []byte
	err error
}

// KeyCache maps key URIs to raw key bytes for one run.
// Each URI is fetched at most once, however many segments ask for it
// concurrently. A failed fetch is remembered and returned to every later
// requester of that URI.
type KeyCache struct {
	fetcher Fetcher

	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group

	fetches atomic.Int64
}

// NewKeyCache creates an empty cache backed by f.
func NewKeyCache(f Fetcher) *KeyCache {
	return &KeyCache{
		fetcher: f,
		entries: make(map[string]cacheEntry),
	}
}

// GetOrFetch returns the key for uri, fetching it on first use.
func (c *KeyCache) GetOrFetch(ctx context.Context, uri string) ([]byte, error) {
	if e, ok := c.lookup(uri); ok {
		return e.key, e.err
	}

	v, _, _ := c.group.Do(uri, func() (any, error) {
		// A flight for uri may have finished between lookup and Do.
		if e, ok := c.lookup(uri); ok {
			return e, nil
		}

		c.fetches.Add(1)
		metrics.KeyFetchesTotal.Inc()

		e := c.fetch(ctx, uri)
		c.mu.Lock()
		c.entries[uri] = e
		c.mu.Unlock()
		return e, nil
	})

	e := v.(cacheEntry)
	return e.key, e.err
}

func (c *KeyCache) fetch(ctx context.Context, uri string) cacheEntry {
	key, err := c.fetcher.Get(ctx, uri)
	if err != nil {
		return cacheEntry{err: models.Wrap(models.ErrNetwork, "fetch key", err)}
	}
	if len(key) != aes.BlockSize {
		return cacheEntry{err: models.Errorf(models.ErrDecryption, "fetch key",
			"invalid key length: expected 16 bytes, got %d", len(key))}
	}
	return cacheEntry{key: key}
}

func (c *KeyCache) lookup(uri string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[uri]
	return e, ok
}

// Fetches returns how many network fetches the cache has issued.
func (c *KeyCache) Fetches() int64 {
	return c.fetches.Load()
}

// Len returns the number of cached URIs.
func (c *KeyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
