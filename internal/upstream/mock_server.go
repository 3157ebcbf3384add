// SPDX-License-Identifier: MIT

package upstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockServer provides a configurable upstream mock for testing. It
// serves the three provider routes and lets tests inject failures,
// invalid payloads and artificial latency per route.
type MockServer struct {
	*httptest.Server
	mu       sync.Mutex
	urls     map[string]string // channelID -> stream URL override
	failures map[string]int    // route -> transport failures before success
	invalid  map[string]string // channelID -> failure message (success=false)
	delay    map[string]time.Duration
	requests map[string]int // "route/channel" -> count
}

// NewMockServer starts a mock upstream.
func NewMockServer() *MockServer {
	m := &MockServer{
		urls:     make(map[string]string),
		failures: make(map[string]int),
		invalid:  make(map[string]string),
		delay:    make(map[string]time.Duration),
		requests: make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// SetStreamURL overrides the URL served for a channel.
func (m *MockServer) SetStreamURL(channelID, u string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls[channelID] = u
}

// FailTimes makes the next n requests on route fail at transport level
// (connection dropped without a response).
func (m *MockServer) FailTimes(route string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[route] = n
}

// SetInvalid makes the upstream answer 200 {success:false} for a channel.
func (m *MockServer) SetInvalid(channelID, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if message == "" {
		message = "channel offline"
	}
	m.invalid[channelID] = message
}

// SetDelay delays every response on route.
func (m *MockServer) SetDelay(route string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay[route] = d
}

// Requests returns how many requests hit route for channelID.
func (m *MockServer) Requests(route, channelID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[route+"/"+channelID]
}

func (m *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	route, channelID := parts[0], parts[1]

	m.mu.Lock()
	m.requests[route+"/"+channelID]++
	fail := m.failures[route] > 0
	if fail {
		m.failures[route]--
	}
	invalidMsg, invalid := m.invalid[channelID]
	delay := m.delay[route]
	u, hasURL := m.urls[channelID]
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if fail {
		// Drop the connection to simulate a transport failure.
		hj, ok := w.(http.Hijacker)
		if !ok {
			panic("mock server: response writer does not support hijacking")
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if invalid {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": invalidMsg})
		return
	}

	if !hasURL {
		u = fmt.Sprintf("http://streams.local/%s/%s.m3u8", route, channelID)
	}
	field := "streamUrl"
	if route == RouteSession {
		field = "proxyUrl"
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, field: u})
}
