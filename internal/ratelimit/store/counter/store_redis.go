package counter

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dErrors "authguard/pkg/domain-errors"
)

const scanBatch = 200

// incrementWithExpiry creates the counter at 1 with a TTL when the key is
// absent or carries no TTL, otherwise increments it and keeps the TTL.
var incrementWithExpiry = redis.NewScript(`
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('SET', KEYS[1], 1, 'PX', ARGV[1])
  return 1
end
return redis.call('INCR', KEYS[1])
`)

// RedisStore implements ports.CounterStore on a Redis deployment shared by
// every service instance.
type RedisStore struct {
	client redis.UniversalClient
	tracer trace.Tracer
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTracer injects a tracer instead of the global provider's.
func WithTracer(t trace.Tracer) RedisOption {
	return func(s *RedisStore) {
		s.tracer = t
	}
}

// NewRedisStore creates a counter store on an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("authguard/counterstore")
	}
	return s
}

func (s *RedisStore) Get(ctx context.Context, key string) (n int64, found bool, err error) {
	ctx, span := s.start(ctx, "get", key)
	defer func() { endSpan(span, err) }()

	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable(err, "counter get failed")
	}
	n, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, dErrors.Wrap(err, dErrors.CodeDataCorrupt, "counter value is not an integer")
	}
	return n, true, nil
}

func (s *RedisStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (n int64, err error) {
	ctx, span := s.start(ctx, "increment", key)
	defer func() { endSpan(span, err) }()

	ms := max(ttl.Milliseconds(), 1)
	n, err = incrementWithExpiry.Run(ctx, s.client, []string{key}, ms).Int64()
	if err != nil {
		if strings.Contains(err.Error(), "not an integer") {
			return 0, dErrors.Wrap(err, dErrors.CodeDataCorrupt, "counter value is not an integer")
		}
		return 0, unavailable(err, "counter increment failed")
	}
	return n, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (ok bool, err error) {
	ctx, span := s.start(ctx, "expire", key)
	defer func() { endSpan(span, err) }()

	ok, err = s.client.PExpire(ctx, key, ttl).Result()
	if err != nil {
		return false, unavailable(err, "counter expire failed")
	}
	return ok, nil
}

// TTL uses PTTL so sub-second remainders are not reported as expired.
func (s *RedisStore) TTL(ctx context.Context, key string) (ttl time.Duration, err error) {
	ctx, span := s.start(ctx, "ttl", key)
	defer func() { endSpan(span, err) }()

	ttl, err = s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable(err, "counter ttl failed")
	}
	return ttl, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) (removed int64, err error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctx, span := s.start(ctx, "delete", keys[0])
	span.SetAttributes(attribute.Int("counterstore.keys", len(keys)))
	defer func() { endSpan(span, err) }()

	removed, err = s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, unavailable(err, "counter delete failed")
	}
	return removed, nil
}

func (s *RedisStore) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) (err error) {
	ctx, span := s.start(ctx, "set", key)
	defer func() { endSpan(span, err) }()

	if err = s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable(err, "record set failed")
	}
	return nil
}

func (s *RedisStore) GetValue(ctx context.Context, key string) (value string, found bool, err error) {
	ctx, span := s.start(ctx, "get_value", key)
	defer func() { endSpan(span, err) }()

	value, err = s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable(err, "record get failed")
	}
	return value, true, nil
}

// Keys walks the keyspace with SCAN so a large prefix never blocks Redis.
func (s *RedisStore) Keys(ctx context.Context, prefix string) (keys []string, err error) {
	ctx, span := s.start(ctx, "scan", prefix)
	defer func() { endSpan(span, err) }()

	match := escapeGlob(prefix) + "*"
	var cursor uint64
	for {
		var batch []string
		batch, cursor, err = s.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return nil, unavailable(err, "counter scan failed")
		}
		keys = append(keys, batch...)
		if cursor == 0 {
			break
		}
	}
	span.SetAttributes(attribute.Int("counterstore.keys", len(keys)))
	return keys, nil
}

func (s *RedisStore) start(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "counterstore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("counterstore.key_class", keyClass(key)),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// keyClass reduces a key to its namespace for span attributes. Bare IP keys
// and IP endpoint keys are reported as "ip" so addresses never reach traces.
func keyClass(key string) string {
	ns, _, found := strings.Cut(key, ":")
	if !found {
		return "ip"
	}
	switch ns {
	case "global", "account", "failed_attempts", "locked", "csrf_token", "success":
		return ns
	}
	return "ip"
}

func unavailable(err error, msg string) error {
	return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, msg)
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
