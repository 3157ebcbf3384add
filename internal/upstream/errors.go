// SPDX-License-Identifier: MIT

package upstream

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrExhausted       = errors.New("upstream: retries exhausted")
	ErrInvalidResponse = errors.New("upstream: invalid response")
)

// RetryError is the externally visible error after all transport
// attempts fail. It names the URL, the attempt count and the last
// underlying cause; raw transport errors are never surfaced alone.
type RetryError struct {
	URL      string
	Attempts int
	Err      error // last underlying cause (net error or deadline)
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("upstream: GET %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return ErrExhausted }

// InvalidResponseError reports an upstream reply that was received but
// failed validation: non-2xx status, success=false, a missing stream
// URL or an unparseable payload. It is not retried.
type InvalidResponseError struct {
	ChannelID string
	Status    int
	Message   string
}

func (e *InvalidResponseError) Error() string {
	msg := fmt.Sprintf("upstream: channel %s: %v", e.ChannelID, ErrInvalidResponse)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	return msg
}

func (e *InvalidResponseError) Unwrap() error { return ErrInvalidResponse }
