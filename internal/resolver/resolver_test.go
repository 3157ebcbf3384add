// SPDX-License-Identifier: MIT

package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottera/streamgate/internal/store"
	"github.com/ottera/streamgate/internal/upstream"
)

func newTestResolver(t *testing.T) (*Resolver, *upstream.MockServer) {
	t.Helper()
	mock := upstream.NewMockServer()
	t.Cleanup(mock.Close)

	client := upstream.New(mock.URL, upstream.RetryConfig{
		MaxRetries:     3,
		AttemptTimeout: 2 * time.Second,
		BaseDelay:      5 * time.Millisecond,
		MaxDelay:       20 * time.Millisecond,
	})
	r := New(client, store.NewMemoryStore(), Config{
		TTL:             10 * time.Minute,
		SessionInterval: 10 * time.Millisecond,
		PreloadWorkers:  4,
	})
	return r, mock
}

func TestResolveStreamURLCachesResult(t *testing.T) {
	r, mock := newTestResolver(t)
	ctx := context.Background()
	mock.SetStreamURL("espn", "http://s/espn.m3u8")

	url, err := r.ResolveStreamURL(ctx, "espn")
	require.NoError(t, err)
	assert.Equal(t, "http://s/espn.m3u8", url)

	// Second call is a cache hit: no further upstream traffic.
	url, err = r.ResolveStreamURL(ctx, "espn")
	require.NoError(t, err)
	assert.Equal(t, "http://s/espn.m3u8", url)
	assert.Equal(t, 1, mock.Requests(upstream.RouteStream, "espn"))
}

func TestResolveExpiredEntryTriggersFreshCall(t *testing.T) {
	r, mock := newTestResolver(t)
	ctx := context.Background()
	clk := newFakeClock()
	r.cache.now = clk.now

	_, err := r.ResolveStreamURL(ctx, "espn")
	require.NoError(t, err)

	clk.advance(10*time.Minute + time.Millisecond)

	_, err = r.ResolveStreamURL(ctx, "espn")
	require.NoError(t, err)
	assert.Equal(t, 2, mock.Requests(upstream.RouteStream, "espn"))
}

func TestInitializeSessionDedup(t *testing.T) {
	r, mock := newTestResolver(t)
	mock.SetStreamURL("espn", "http://proxy/espn")
	mock.SetDelay(upstream.RouteSession, 100*time.Millisecond)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]upstream.Result, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.InitializeSession(context.Background(), "espn")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "http://proxy/espn", results[i].StreamURL)
	}
	assert.Equal(t, 1, mock.Requests(upstream.RouteSession, "espn"),
		"concurrent callers must coalesce onto one upstream call")
}

func TestInitializeSessionFailureSharedThenRetriable(t *testing.T) {
	r, mock := newTestResolver(t)
	mock.SetInvalid("espn", "offline")
	mock.SetDelay(upstream.RouteSession, 50*time.Millisecond)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.InitializeSession(context.Background(), "espn")
		}(i)
	}
	wg.Wait()

	require.Error(t, errs[0])
	require.Error(t, errs[1])
	assert.ErrorIs(t, errs[0], upstream.ErrInvalidResponse)
	assert.ErrorIs(t, errs[1], upstream.ErrInvalidResponse)
	assert.Equal(t, 1, mock.Requests(upstream.RouteSession, "espn"))

	// The slot is released on settlement: a later call issues a new request.
	_, err := r.InitializeSession(context.Background(), "espn")
	require.Error(t, err)
	assert.Equal(t, 2, mock.Requests(upstream.RouteSession, "espn"))
}

func TestInitializeSessionWritesThroughToCache(t *testing.T) {
	r, mock := newTestResolver(t)
	ctx := context.Background()
	mock.SetStreamURL("espn", "http://proxy/espn")

	res, err := r.InitializeSession(ctx, "espn")
	require.NoError(t, err)
	require.Equal(t, "http://proxy/espn", res.StreamURL)

	// The session result satisfies a subsequent resolution from cache.
	url, err := r.ResolveStreamURL(ctx, "espn")
	require.NoError(t, err)
	assert.Equal(t, "http://proxy/espn", url)
	assert.Equal(t, 0, mock.Requests(upstream.RouteStream, "espn"))
}

func TestInvalidResponseNotCached(t *testing.T) {
	r, mock := newTestResolver(t)
	mock.SetInvalid("espn", "offline")

	_, err := r.InitializeSession(context.Background(), "espn")
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream.ErrInvalidResponse)

	_, ok := r.cache.get("espn")
	assert.False(t, ok, "failed session init must not populate the cache")
}

func TestRetryExhaustionNotCached(t *testing.T) {
	r, mock := newTestResolver(t)
	mock.FailTimes(upstream.RouteStream, 100)

	_, err := r.ResolveStreamURL(context.Background(), "espn")
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream.ErrExhausted)

	_, ok := r.cache.get("espn")
	assert.False(t, ok)
}

func TestChannelsStreamSharesCacheKeySpace(t *testing.T) {
	r, mock := newTestResolver(t)
	ctx := context.Background()
	mock.SetStreamURL("espn", "http://catalog/espn")

	url, err := r.ChannelsStream(ctx, "espn")
	require.NoError(t, err)
	assert.Equal(t, "http://catalog/espn", url)

	// Same channel resolved generically hits the shared cache entry.
	url, err = r.ResolveStreamURL(ctx, "espn")
	require.NoError(t, err)
	assert.Equal(t, "http://catalog/espn", url)
	assert.Equal(t, 0, mock.Requests(upstream.RouteStream, "espn"))
}

func TestInvalidateAllForcesResolution(t *testing.T) {
	r, mock := newTestResolver(t)
	ctx := context.Background()

	_, err := r.ResolveStreamURL(ctx, "a")
	require.NoError(t, err)
	_, err = r.ResolveStreamURL(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, r.InvalidateAll(ctx))

	_, err = r.ResolveStreamURL(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, mock.Requests(upstream.RouteStream, "a"))
}

func TestResolveSucceedsWhenStoreWritesFail(t *testing.T) {
	mock := upstream.NewMockServer()
	t.Cleanup(mock.Close)
	mock.SetStreamURL("espn", "http://s/espn.m3u8")

	client := upstream.New(mock.URL, upstream.RetryConfig{AttemptTimeout: time.Second})
	st := &flakyStore{MemoryStore: store.NewMemoryStore(), failSet: true}
	r := New(client, st, Config{TTL: 10 * time.Minute})
	ctx := context.Background()

	url, err := r.ResolveStreamURL(ctx, "espn")
	require.NoError(t, err)
	assert.Equal(t, "http://s/espn.m3u8", url)

	// The in-memory entry still serves the next call as a cache hit.
	url, err = r.ResolveStreamURL(ctx, "espn")
	require.NoError(t, err)
	assert.Equal(t, "http://s/espn.m3u8", url)
	assert.Equal(t, 1, mock.Requests(upstream.RouteStream, "espn"))
}

func TestWarmStartAcrossResolvers(t *testing.T) {
	mock := upstream.NewMockServer()
	t.Cleanup(mock.Close)
	mock.SetStreamURL("espn", "http://s/espn.m3u8")

	client := upstream.New(mock.URL, upstream.RetryConfig{AttemptTimeout: time.Second})
	st := store.NewMemoryStore()
	ctx := context.Background()

	first := New(client, st, Config{TTL: 10 * time.Minute})
	_, err := first.ResolveStreamURL(ctx, "espn")
	require.NoError(t, err)
	waitPersisted(t, st, "streamUrl_espn")

	// A fresh resolver over the same store starts warm.
	second := New(client, st, Config{TTL: 10 * time.Minute})
	require.NoError(t, second.LoadFromPersistent(ctx))

	url, err := second.ResolveStreamURL(ctx, "espn")
	require.NoError(t, err)
	assert.Equal(t, "http://s/espn.m3u8", url)
	assert.Equal(t, 1, mock.Requests(upstream.RouteStream, "espn"))
}
