package sessionstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no state exists under a key (or, for
// LoadOrMigrate, under the structured and legacy keys both).
var ErrNotFound = errors.New("session state not found")

// Store is the remote session cache boundary. The backing cache is a shared,
// multi-writer resource; writes are last-write-wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetMulti writes several entries under one TTL in a single round trip.
	SetMulti(ctx context.Context, entries map[string][]byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Scan returns the finite set of keys matching a glob pattern. Each call
	// starts a fresh enumeration.
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Loader extends Store with the legacy-aware session lookup.
type Loader interface {
	Store
	// LoadOrMigrate resolves session state for an identifier: structured key
	// first, then the legacy key. A legacy hit is copied under the structured
	// key and the legacy key deleted. ErrNotFound means the caller should
	// create fresh state.
	LoadOrMigrate(ctx context.Context, identifier string) ([]byte, error)
}
