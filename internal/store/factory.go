// SPDX-License-Identifier: MIT

package store

import "fmt"

// Options selects and configures a Store backend.
type Options struct {
	Backend string // "badger", "redis" or "memory"
	Path    string // badger data directory
	Redis   RedisConfig
}

// Open creates a Store for the configured backend.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "badger":
		return OpenBadgerStore(opts.Path)
	case "redis":
		return OpenRedisStore(opts.Redis)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", opts.Backend)
	}
}
