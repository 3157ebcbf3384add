// SPDX-License-Identifier: MIT

// Package resolver implements the stream resolution and session cache
// core: a TTL-bounded URL cache with persistent warm-start, singleflight
// deduplication of upstream calls, and a throttled preloader.
package resolver

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ottera/streamgate/internal/log"
	"github.com/ottera/streamgate/internal/metrics"
	"github.com/ottera/streamgate/internal/store"
	"github.com/ottera/streamgate/internal/upstream"
)

// StreamClient is the upstream surface the resolver depends on.
type StreamClient interface {
	Session(ctx context.Context, channelID string) (upstream.Result, error)
	Stream(ctx context.Context, channelID string) (upstream.Result, error)
	ChannelStream(ctx context.Context, channelID string) (upstream.Result, error)
}

// Config tunes the resolver.
type Config struct {
	TTL             time.Duration // cache entry lifetime
	SessionInterval time.Duration // minimum spacing between preload session calls
	PreloadWorkers  int           // phase-1 fan-out bound
}

// Resolver owns the URL cache and the in-flight registries. External
// code never touches either directly; all access goes through this API.
type Resolver struct {
	client StreamClient
	cache  *urlCache
	cfg    Config

	// Separate registries: session initialization and plain URL lookups
	// deduplicate independently (distinct upstream routes).
	sessions singleflight.Group
	lookups  singleflight.Group
}

// New constructs a resolver over the given upstream client and store.
func New(client StreamClient, st store.Store, cfg Config) *Resolver {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.SessionInterval <= 0 {
		cfg.SessionInterval = 500 * time.Millisecond
	}
	if cfg.PreloadWorkers < 1 {
		cfg.PreloadWorkers = 5
	}
	return &Resolver{
		client: client,
		cache:  newURLCache(st, cfg.TTL),
		cfg:    cfg,
	}
}

// ResolveStreamURL returns the playable URL for a channel, serving from
// cache when possible. Concurrent misses for the same channel coalesce
// onto one upstream call.
func (r *Resolver) ResolveStreamURL(ctx context.Context, channelID string) (string, error) {
	return r.resolve(ctx, channelID, upstream.RouteStream, r.client.Stream)
}

// ChannelsStream resolves a URL via the channel catalog route. It
// shares the cache key space and TTL with ResolveStreamURL and
// InitializeSession: the three routes intentionally overwrite each
// other's entries for a channel, last writer wins.
func (r *Resolver) ChannelsStream(ctx context.Context, channelID string) (string, error) {
	return r.resolve(ctx, channelID, upstream.RouteChannels, r.client.ChannelStream)
}

func (r *Resolver) resolve(ctx context.Context, channelID, route string, call func(context.Context, string) (upstream.Result, error)) (string, error) {
	if url, ok := r.cache.get(channelID); ok {
		return url, nil
	}

	// The flight runs on a detached context: once started it serves
	// every coalesced caller and must not die with the first one.
	fctx := context.WithoutCancel(ctx)
	key := route + "|" + channelID
	v, err, shared := r.lookups.Do(key, func() (any, error) {
		// Re-check under the flight: a just-settled flight may have
		// populated the cache after our miss.
		if url, ok := r.cache.get(channelID); ok {
			return url, nil
		}
		res, err := call(fctx, channelID)
		if err != nil {
			return nil, err
		}
		r.cache.put(channelID, res.StreamURL)
		return res.StreamURL, nil
	})
	if shared {
		metrics.FlightsDedupedTotal.WithLabelValues(route).Inc()
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// InitializeSession performs a deduplicated session initialization for
// the channel. Any number of concurrent callers for the same channel
// trigger exactly one upstream call and observe the identical result or
// error; the in-flight slot is released on settlement either way, so a
// failed call can be retried immediately afterwards.
func (r *Resolver) InitializeSession(ctx context.Context, channelID string) (upstream.Result, error) {
	fctx := context.WithoutCancel(ctx)
	v, err, shared := r.sessions.Do(channelID, func() (any, error) {
		res, err := r.client.Session(fctx, channelID)
		if err != nil {
			return nil, fmt.Errorf("session init: %w", err)
		}
		// Write through before waiters observe the result.
		r.cache.put(channelID, res.StreamURL)
		return res, nil
	})
	if shared {
		metrics.FlightsDedupedTotal.WithLabelValues(upstream.RouteSession).Inc()
	}
	if err != nil {
		return upstream.Result{}, err
	}
	return v.(upstream.Result), nil
}

// InvalidateAll clears the in-memory cache and the persisted namespace.
func (r *Resolver) InvalidateAll(ctx context.Context) error {
	logger := log.WithComponentFromContext(ctx, "resolver")
	logger.Info().Msg("invalidating URL cache")
	return r.cache.invalidateAll(ctx)
}

// LoadFromPersistent warms the in-memory cache from the persistent
// store. Call once at process start.
func (r *Resolver) LoadFromPersistent(ctx context.Context) error {
	return r.cache.loadFromPersistent(ctx)
}
