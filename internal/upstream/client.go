// SPDX-License-Identifier: MIT

// Package upstream implements the resilient HTTP client for the stream
// provider. It is the sole network-facing primitive of the resolution
// subsystem: one logical GET with per-attempt timeout and capped
// exponential backoff. No caching happens at this layer.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ottera/streamgate/internal/log"
	"github.com/ottera/streamgate/internal/metrics"
)

// Routes on the upstream service. "session" issues session-bound proxy
// URLs, "stream" is the generic channel lookup, "channels" the catalog
// variant. All three return the same payload shape.
const (
	RouteSession  = "session"
	RouteStream   = "stream"
	RouteChannels = "channels"
)

const maxBodySize = 1 << 20 // payloads are tiny; cap reads defensively

// Result is the normalized upstream response.
type Result struct {
	Success   bool   `json:"success"`
	StreamURL string `json:"streamUrl"`
	Message   string `json:"message,omitempty"`
}

// payload matches the raw upstream JSON; session responses use
// proxyUrl, the lookup routes use streamUrl.
type payload struct {
	Success   bool   `json:"success"`
	ProxyURL  string `json:"proxyUrl"`
	StreamURL string `json:"streamUrl"`
	Message   string `json:"message"`
}

// RetryConfig controls the retry discipline of every logical GET.
type RetryConfig struct {
	MaxRetries     int           // retries after the first attempt (3 -> 4 attempts)
	AttemptTimeout time.Duration // per-attempt deadline
	BaseDelay      time.Duration // first backoff delay
	MaxDelay       time.Duration // backoff cap
}

// DefaultRetryConfig returns the upstream service's tolerated defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		AttemptTimeout: 30 * time.Second,
		BaseDelay:      1 * time.Second,
		MaxDelay:       5 * time.Second,
	}
}

// Client talks to the upstream stream provider.
type Client struct {
	base  string
	http  *http.Client
	retry RetryConfig
}

// New creates a client for the given base URL. Zero-value RetryConfig
// fields are replaced with defaults.
func New(base string, retry RetryConfig) *Client {
	def := DefaultRetryConfig()
	if retry.AttemptTimeout <= 0 {
		retry.AttemptTimeout = def.AttemptTimeout
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = def.BaseDelay
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = def.MaxDelay
	}
	if retry.MaxRetries < 0 {
		retry.MaxRetries = def.MaxRetries
	}
	return &Client{
		base:  strings.TrimRight(base, "/"),
		http:  &http.Client{}, // per-attempt deadlines come from context
		retry: retry,
	}
}

// Session requests a session-bound proxy URL for the channel.
func (c *Client) Session(ctx context.Context, channelID string) (Result, error) {
	return c.fetch(ctx, RouteSession, channelID)
}

// Stream resolves the generic stream URL for the channel.
func (c *Client) Stream(ctx context.Context, channelID string) (Result, error) {
	return c.fetch(ctx, RouteStream, channelID)
}

// ChannelStream resolves a stream URL from the channel catalog route.
func (c *Client) ChannelStream(ctx context.Context, channelID string) (Result, error) {
	return c.fetch(ctx, RouteChannels, channelID)
}

// fetch performs the retried GET for a route and validates the payload.
func (c *Client) fetch(ctx context.Context, route, channelID string) (Result, error) {
	u := fmt.Sprintf("%s/%s/%s", c.base, route, url.PathEscape(channelID))

	body, status, err := c.doGET(ctx, route, u)
	if err != nil {
		metrics.UpstreamFailuresTotal.WithLabelValues(route, "exhausted").Inc()
		return Result{}, fmt.Errorf("channel %s: %w", channelID, err)
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		metrics.UpstreamFailuresTotal.WithLabelValues(route, "invalid_response").Inc()
		return Result{}, &InvalidResponseError{ChannelID: channelID, Status: status, Message: "malformed payload"}
	}

	streamURL := p.ProxyURL
	if streamURL == "" {
		streamURL = p.StreamURL
	}

	if status < 200 || status >= 300 || !p.Success || streamURL == "" {
		metrics.UpstreamFailuresTotal.WithLabelValues(route, "invalid_response").Inc()
		return Result{}, &InvalidResponseError{ChannelID: channelID, Status: status, Message: p.Message}
	}

	return Result{Success: true, StreamURL: streamURL, Message: p.Message}, nil
}

// doGET issues one logical GET with up to MaxRetries+1 attempts. Only
// transport-level failures (including per-attempt timeouts) are
// retried; a received response of any status ends the loop.
func (c *Client) doGET(ctx context.Context, route, u string) ([]byte, int, error) {
	logger := log.WithComponentFromContext(ctx, "upstream")
	attempts := c.retry.MaxRetries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			logger.Debug().
				Str("url", u).
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Err(lastErr).
				Msg("retrying upstream request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, 0, &RetryError{URL: u, Attempts: attempt, Err: ctx.Err()}
			}
		}

		metrics.UpstreamAttemptsTotal.WithLabelValues(route).Inc()
		body, status, err := c.attempt(ctx, u)
		if err == nil {
			return body, status, nil
		}
		lastErr = err
	}

	return nil, 0, &RetryError{URL: u, Attempts: attempts, Err: lastErr}
}

// attempt races a single GET against the per-attempt deadline.
func (c *Client) attempt(ctx context.Context, u string) ([]byte, int, error) {
	actx, cancel := context.WithTimeout(ctx, c.retry.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, fmt.Errorf("attempt timed out after %s: %w", c.retry.AttemptTimeout, err)
		}
		return nil, 0, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, 0, err
	}
	return body, res.StatusCode, nil
}

// backoff returns min(base << failed, cap) for the given 0-based failed
// attempt index.
func (c *Client) backoff(failed int) time.Duration {
	delay := c.retry.BaseDelay << uint(failed)
	if delay > c.retry.MaxDelay || delay <= 0 {
		return c.retry.MaxDelay
	}
	return delay
}
