// SPDX-License-Identifier: MIT

package resolver

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ottera/streamgate/internal/log"
	"github.com/ottera/streamgate/internal/metrics"
	"github.com/ottera/streamgate/internal/store"
)

// keyPrefix is the persistent namespace of the URL cache. The cache is
// the only writer under this prefix.
const keyPrefix = "streamUrl_"

// persistedEntry is the on-store value shape.
type persistedEntry struct {
	URL     string `json:"url"`
	Expires int64  `json:"expires"` // epoch-ms
}

type cacheEntry struct {
	url       string
	expiresAt int64 // epoch-ms
}

// urlCache maps channel IDs to resolved URLs with a fixed TTL. Entries
// are mirrored to the persistent store best-effort so restarts start
// warm; the in-memory map stays authoritative for the process lifetime.
type urlCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	store   store.Store
	ttl     time.Duration
	now     func() time.Time
}

func newURLCache(st store.Store, ttl time.Duration) *urlCache {
	return &urlCache{
		entries: make(map[string]cacheEntry),
		store:   st,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *urlCache) nowMillis() int64 {
	return c.now().UnixMilli()
}

// get returns the cached URL for the channel if the entry has not
// expired. Expiry is strict: an entry at exactly its deadline is a
// miss. Expired entries are left for lazy cleanup.
func (c *urlCache) get(channelID string) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[channelID]
	c.mu.RUnlock()

	if !ok {
		metrics.CacheMissesTotal.WithLabelValues("absent").Inc()
		return "", false
	}
	if c.nowMillis() >= e.expiresAt {
		metrics.CacheMissesTotal.WithLabelValues("expired").Inc()
		return "", false
	}
	metrics.CacheHitsTotal.Inc()
	return e.url, true
}

// put stores the URL with expiresAt = now + TTL and mirrors the entry
// to the persistent store asynchronously. Persistence failures never
// fail the caller's operation; they are logged and counted.
func (c *urlCache) put(channelID, streamURL string) {
	expiresAt := c.nowMillis() + c.ttl.Milliseconds()

	c.mu.Lock()
	c.entries[channelID] = cacheEntry{url: streamURL, expiresAt: expiresAt}
	c.mu.Unlock()

	buf, err := json.Marshal(persistedEntry{URL: streamURL, Expires: expiresAt})
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.store.Set(ctx, keyPrefix+channelID, buf); err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("set").Inc()
			logger := log.WithComponent("cache")
			logger.Warn().
				Err(err).
				Str("channel", channelID).
				Msg("failed to persist cache entry")
		}
	}()
}

// invalidateAll clears the in-memory map and removes every persisted
// key in the cache namespace.
func (c *urlCache) invalidateAll(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()

	metrics.CacheInvalidationsTotal.Inc()

	keys, err := c.store.Keys(ctx, keyPrefix)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("keys").Inc()
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("delete").Inc()
		return err
	}
	return nil
}

// loadFromPersistent populates the in-memory map from the store at
// process start. Expired and corrupt entries are pruned from the store
// rather than loaded; corruption is never surfaced to the caller.
func (c *urlCache) loadFromPersistent(ctx context.Context) error {
	logger := log.WithComponent("cache")

	keys, err := c.store.Keys(ctx, keyPrefix)
	if err != nil {
		return err
	}

	now := c.nowMillis()
	loaded := 0
	var stale []string

	for _, key := range keys {
		channelID := key[len(keyPrefix):]

		buf, err := c.store.Get(ctx, key)
		if err != nil {
			// Read errors may be transient; the entry could still be
			// valid, so skip it rather than prune it.
			metrics.StoreErrorsTotal.WithLabelValues("get").Inc()
			logger.Warn().Err(err).Str("key", key).Msg("skipping unreadable cache entry")
			continue
		}

		var p persistedEntry
		if err := json.Unmarshal(buf, &p); err != nil || p.URL == "" {
			logger.Warn().Str("key", key).Msg("dropping corrupt cache entry")
			stale = append(stale, key)
			continue
		}
		if p.Expires <= now {
			stale = append(stale, key)
			continue
		}

		c.mu.Lock()
		c.entries[channelID] = cacheEntry{url: p.URL, expiresAt: p.Expires}
		c.mu.Unlock()
		loaded++
	}

	if len(stale) > 0 {
		if err := c.store.Delete(ctx, stale...); err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("delete").Inc()
			logger.Warn().Err(err).Int("keys", len(stale)).Msg("failed to prune stale cache entries")
		}
	}

	logger.Info().
		Int("loaded", loaded).
		Int("pruned", len(stale)).
		Msg("cache warm-start complete")
	return nil
}
