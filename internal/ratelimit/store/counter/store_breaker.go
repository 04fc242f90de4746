package counter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"authguard/internal/ratelimit/ports"
	dErrors "authguard/pkg/domain-errors"
	"authguard/pkg/platform/circuit"
)

// BreakerStore decorates a CounterStore with a circuit breaker. After
// consecutive store_unavailable failures it fails fast instead of letting
// every guard wait out its timeout, and probes the inner store once per
// cooldown until it recovers.
type BreakerStore struct {
	inner   ports.CounterStore
	breaker *circuit.Breaker
	logger  *slog.Logger
	onState func(open bool)
}

// BreakerOption configures a BreakerStore.
type BreakerOption func(*BreakerStore)

func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(s *BreakerStore) {
		s.logger = logger
	}
}

// WithStateListener is called on every open/close transition, e.g. to export a gauge.
func WithStateListener(fn func(open bool)) BreakerOption {
	return func(s *BreakerStore) {
		s.onState = fn
	}
}

// NewBreakerStore wraps inner with breaker.
func NewBreakerStore(inner ports.CounterStore, breaker *circuit.Breaker, opts ...BreakerOption) *BreakerStore {
	s := &BreakerStore{inner: inner, breaker: breaker}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsOpen reports whether calls are currently failing fast.
func (s *BreakerStore) IsOpen() bool {
	return s.breaker.IsOpen()
}

func (s *BreakerStore) admit() error {
	if s.breaker.Allow() {
		return nil
	}
	return dErrors.New(dErrors.CodeStoreUnavailable, "counter store circuit open")
}

// observe feeds the call outcome to the breaker. Only connectivity failures
// count; data errors mean the store answered, and a caller that went away
// says nothing about the store.
func (s *BreakerStore) observe(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	var change circuit.StateChange
	if dErrors.IsStoreUnavailable(err) {
		change = s.breaker.RecordFailure()
	} else {
		change = s.breaker.RecordSuccess()
	}
	if !change.Opened && !change.Closed {
		return
	}
	if s.logger != nil {
		if change.Opened {
			s.logger.WarnContext(ctx, "counter store circuit opened", "breaker", s.breaker.Name(), "error", err)
		} else {
			s.logger.InfoContext(ctx, "counter store circuit closed", "breaker", s.breaker.Name())
		}
	}
	if s.onState != nil {
		s.onState(change.Opened)
	}
}

func (s *BreakerStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if err := s.admit(); err != nil {
		return 0, false, err
	}
	n, found, err := s.inner.Get(ctx, key)
	s.observe(ctx, err)
	return n, found, err
}

func (s *BreakerStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := s.admit(); err != nil {
		return 0, err
	}
	n, err := s.inner.IncrementWithExpiry(ctx, key, ttl)
	s.observe(ctx, err)
	return n, err
}

func (s *BreakerStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := s.admit(); err != nil {
		return false, err
	}
	ok, err := s.inner.Expire(ctx, key, ttl)
	s.observe(ctx, err)
	return ok, err
}

func (s *BreakerStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := s.admit(); err != nil {
		return 0, err
	}
	ttl, err := s.inner.TTL(ctx, key)
	s.observe(ctx, err)
	return ttl, err
}

func (s *BreakerStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if err := s.admit(); err != nil {
		return 0, err
	}
	n, err := s.inner.Delete(ctx, keys...)
	s.observe(ctx, err)
	return n, err
}

func (s *BreakerStore) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.admit(); err != nil {
		return err
	}
	err := s.inner.SetWithExpiry(ctx, key, value, ttl)
	s.observe(ctx, err)
	return err
}

func (s *BreakerStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	if err := s.admit(); err != nil {
		return "", false, err
	}
	v, found, err := s.inner.GetValue(ctx, key)
	s.observe(ctx, err)
	return v, found, err
}

func (s *BreakerStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := s.admit(); err != nil {
		return nil, err
	}
	keys, err := s.inner.Keys(ctx, prefix)
	s.observe(ctx, err)
	return keys, err
}

var (
	_ ports.CounterStore = (*InMemoryStore)(nil)
	_ ports.CounterStore = (*RedisStore)(nil)
	_ ports.CounterStore = (*BreakerStore)(nil)
)
