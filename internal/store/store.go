// SPDX-License-Identifier: MIT

// Package store provides the persistent key-value backends for the URL
// cache. The contract is deliberately small: get, set, prefix scan and
// bulk delete. All values are opaque byte slices; callers own the codec.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Store is a minimal persistent key-value repository.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Keys returns all keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// Close releases backend resources.
	Close() error
}
