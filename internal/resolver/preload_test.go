// SPDX-License-Identifier: MIT

package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottera/streamgate/internal/store"
	"github.com/ottera/streamgate/internal/upstream"
)

func TestPreloadPartialFailure(t *testing.T) {
	r, mock := newTestResolver(t)
	mock.SetInvalid("b", "offline")

	report := r.Preload(context.Background(), []string{"a", "b", "c"})

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Resolved, "a and c resolve, b fails")
	assert.Equal(t, 2, report.Sessions)

	_, ok := r.cache.get("a")
	assert.True(t, ok)
	_, ok = r.cache.get("c")
	assert.True(t, ok)
	_, ok = r.cache.get("b")
	assert.False(t, ok, "failed channel must not be cached")
}

func TestPreloadTotalFailureStillReturns(t *testing.T) {
	r, mock := newTestResolver(t)
	mock.FailTimes(upstream.RouteStream, 1000)
	mock.FailTimes(upstream.RouteSession, 1000)

	report := r.Preload(context.Background(), []string{"a", "b"})
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 0, report.Resolved)
	assert.Equal(t, 0, report.Sessions)
}

func TestPreloadEmptyList(t *testing.T) {
	r, _ := newTestResolver(t)
	report := r.Preload(context.Background(), nil)
	assert.Equal(t, Report{}, report)
}

func TestPreloadSessionsAreThrottled(t *testing.T) {
	mock := upstream.NewMockServer()
	t.Cleanup(mock.Close)

	client := upstream.New(mock.URL, upstream.RetryConfig{AttemptTimeout: time.Second})
	r := New(client, store.NewMemoryStore(), Config{
		TTL:             time.Minute,
		SessionInterval: 60 * time.Millisecond,
		PreloadWorkers:  4,
	})

	ids := []string{"a", "b", "c"}
	start := time.Now()
	report := r.Preload(context.Background(), ids)
	elapsed := time.Since(start)

	require.Equal(t, 3, report.Sessions)
	// Three sequential session calls spaced one interval apart take at
	// least two full intervals.
	assert.GreaterOrEqual(t, elapsed, 120*time.Millisecond)
	for _, id := range ids {
		assert.Equal(t, 1, mock.Requests(upstream.RouteSession, id))
	}
}

func TestPreloadHonorsCancellation(t *testing.T) {
	r, mock := newTestResolver(t)
	mock.SetDelay(upstream.RouteSession, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	report := r.Preload(ctx, []string{"a", "b", "c", "d", "e", "f"})
	assert.Less(t, report.Sessions, 6, "cancellation stops the warm-up early")
}
