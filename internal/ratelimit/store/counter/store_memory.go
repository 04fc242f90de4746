package counter

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"authguard/internal/ratelimit/ports"
	dErrors "authguard/pkg/domain-errors"
	psync "authguard/pkg/platform/sync"
)

// InMemoryStore implements ports.CounterStore for a single process.
// Expired entries are dropped lazily on access. For more than one instance,
// use RedisStore instead.
type InMemoryStore struct {
	locks   *psync.ShardedMutex
	entries sync.Map // key -> entry
	now     func() time.Time
}

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithClock overrides the time source; tests use it to move windows forward.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInMemoryStore creates a new in-memory counter store.
func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		locks: psync.NewShardedMutex(64),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// load returns the live entry for key, dropping it when expired.
// Callers hold the key's shard lock.
func (s *InMemoryStore) load(key string, now time.Time) (entry, bool) {
	raw, ok := s.entries.Load(key)
	if !ok {
		return entry{}, false
	}
	e := raw.(entry)
	if e.expired(now) {
		s.entries.Delete(key)
		return entry{}, false
	}
	return e, true
}

func (s *InMemoryStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, false, err
	}
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	e, ok := s.load(key, s.now())
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, false, dErrors.Wrap(err, dErrors.CodeDataCorrupt, "counter value is not an integer")
	}
	return n, true, nil
}

func (s *InMemoryStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	now := s.now()
	e, ok := s.load(key, now)
	if !ok || e.expiresAt.IsZero() {
		s.entries.Store(key, entry{value: "1", expiresAt: now.Add(ttl)})
		return 1, nil
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeDataCorrupt, "counter value is not an integer")
	}
	n++
	s.entries.Store(key, entry{value: strconv.FormatInt(n, 10), expiresAt: e.expiresAt})
	return n, nil
}

func (s *InMemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	now := s.now()
	e, ok := s.load(key, now)
	if !ok {
		return false, nil
	}
	e.expiresAt = now.Add(ttl)
	s.entries.Store(key, e)
	return true, nil
}

func (s *InMemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	now := s.now()
	e, ok := s.load(key, now)
	if !ok {
		return ports.TTLMissing, nil
	}
	if e.expiresAt.IsZero() {
		return ports.TTLNoExpiry, nil
	}
	return e.expiresAt.Sub(now), nil
}

func (s *InMemoryStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	now := s.now()
	var removed int64
	for _, key := range keys {
		s.locks.WithLock(key, func() {
			if _, ok := s.load(key, now); ok {
				s.entries.Delete(key)
				removed++
			}
		})
	}
	return removed, nil
}

func (s *InMemoryStore) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries.Store(key, e)
	return nil
}

func (s *InMemoryStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return "", false, err
	}
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	e, ok := s.load(key, s.now())
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *InMemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	now := s.now()
	var keys []string
	s.entries.Range(func(k, v any) bool {
		key := k.(string)
		if strings.HasPrefix(key, prefix) && !v.(entry).expired(now) {
			keys = append(keys, key)
		}
		return true
	})
	return keys, nil
}

// ctxErr maps a done context to the store failure class so guards apply
// their failure policy uniformly for both store implementations.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "counter store call abandoned")
	}
	return nil
}
