// Package ports defines the storage contract shared by every guard.
// Guards own the semantics of what they count; the CounterStore owns the
// physical entries and their expiry, and is shared by all service instances.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks CounterStore

import (
	"context"
	"time"
)

// TTL sentinels returned by CounterStore.TTL, matching Redis semantics.
const (
	TTLMissing  time.Duration = -2 // key does not exist
	TTLNoExpiry time.Duration = -1 // key exists without expiry
)

// CounterStore is an atomic, TTL-aware key-value store.
//
// Every method is atomic per key with respect to concurrent callers across
// processes. Any method may fail with a domain error coded
// store_unavailable (connectivity, timeout, open circuit); callers decide
// whether that fails open or closed.
type CounterStore interface {
	// Get returns the integer value at key. found is false when the key is absent.
	Get(ctx context.Context, key string) (count int64, found bool, err error)

	// IncrementWithExpiry creates key at 1 with the given TTL when absent
	// (or when it has no TTL), otherwise increments it keeping its TTL.
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Expire resets the TTL of an existing key. It reports false when the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// TTL returns the remaining lifetime, TTLMissing or TTLNoExpiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Delete removes the keys and reports how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// SetWithExpiry stores an opaque record value with a TTL.
	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error

	// GetValue returns the raw record value at key.
	GetValue(ctx context.Context, key string) (value string, found bool, err error)

	// Keys lists keys starting with prefix. Maintenance use only; never on the request path.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
