// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottera/streamgate/internal/resolver"
	"github.com/ottera/streamgate/internal/store"
	"github.com/ottera/streamgate/internal/upstream"
)

func newTestServer(t *testing.T) (*httptest.Server, *upstream.MockServer) {
	t.Helper()
	mock := upstream.NewMockServer()
	t.Cleanup(mock.Close)

	client := upstream.New(mock.URL, upstream.RetryConfig{
		MaxRetries:     1,
		AttemptTimeout: time.Second,
		BaseDelay:      5 * time.Millisecond,
		MaxDelay:       10 * time.Millisecond,
	})
	res := resolver.New(client, store.NewMemoryStore(), resolver.Config{
		TTL:             time.Minute,
		SessionInterval: 5 * time.Millisecond,
	})

	srv := httptest.NewServer(New(res, Config{}).Handler())
	t.Cleanup(srv.Close)
	return srv, mock
}

func getJSON(t *testing.T, method, url string, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	if res.StatusCode == http.StatusNoContent {
		return res.StatusCode, nil
	}
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func TestResolveEndpoint(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.SetStreamURL("espn", "http://s/espn.m3u8")

	status, body := getJSON(t, http.MethodGet, srv.URL+"/api/stream/espn", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "espn", body["channelId"])
	assert.Equal(t, "http://s/espn.m3u8", body["url"])
}

func TestResolveSetsRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t)

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.NotEmpty(t, res.Header.Get(HeaderRequestID))
}

func TestSessionEndpoint(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.SetStreamURL("espn", "http://proxy/espn")

	status, body := getJSON(t, http.MethodPost, srv.URL+"/api/session/espn", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "http://proxy/espn", body["streamUrl"])
}

func TestExhaustedRetriesMapsTo502Transient(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.FailTimes(upstream.RouteStream, 100)

	status, body := getJSON(t, http.MethodGet, srv.URL+"/api/stream/espn", "")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, body["error"], "stream currently unavailable for channel espn")
	assert.Equal(t, "true", body["transient"])
}

func TestInvalidUpstreamMapsTo502Permanent(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.SetInvalid("espn", "offline")

	status, body := getJSON(t, http.MethodPost, srv.URL+"/api/session/espn", "")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "false", body["transient"])
}

func TestPreloadEndpoint(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.SetInvalid("b", "offline")

	status, body := getJSON(t, http.MethodPost, srv.URL+"/api/preload",
		`{"channelIds":["a","b","c"]}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, float64(2), body["resolved"])
	assert.Equal(t, float64(2), body["sessions"])
}

func TestPreloadRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	status, _ := getJSON(t, http.MethodPost, srv.URL+"/api/preload", "{nope")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestInvalidateEndpoint(t *testing.T) {
	srv, mock := newTestServer(t)

	_, _ = getJSON(t, http.MethodGet, srv.URL+"/api/stream/espn", "")

	status, _ := getJSON(t, http.MethodDelete, srv.URL+"/api/cache", "")
	assert.Equal(t, http.StatusNoContent, status)

	// Next resolution goes back upstream.
	status, _ = getJSON(t, http.MethodGet, srv.URL+"/api/stream/espn", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, mock.Requests(upstream.RouteStream, "espn"))
}

func TestChannelsStreamEndpoint(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.SetStreamURL("espn", "http://catalog/espn")

	status, body := getJSON(t, http.MethodGet, srv.URL+"/api/channels/espn/stream", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "http://catalog/espn", body["url"])
	assert.Equal(t, 1, mock.Requests(upstream.RouteChannels, "espn"))
}
