package cache

import (
	"context"
	"errors"
	"time"

	apperrors "aprsrelay/internal/errors"
	"aprsrelay/internal/metrics"
	"aprsrelay/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Redis is a Cache backed by a Redis server. A failed call opens a circuit
// breaker and the cache answers "not found" without contacting Redis until
// the cooldown has passed.
type Redis struct {
	client  *redis.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  logrus.FieldLogger
	metrics *metrics.Registry
}

// NewRedis creates a Redis cache from a redis:// URL. An unreachable server
// is logged but not fatal.
func NewRedis(ctx context.Context, redisURL string, cooldown time.Duration, logger logrus.FieldLogger, registry *metrics.Registry) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, apperrors.NewConfigError("cache.redis_url", err.Error())
	}

	c := NewRedisWithClient(redis.NewClient(opts), cooldown, logger, registry)
	if err := c.Ping(ctx); err != nil {
		logger.WithError(err).WithField("addr", opts.Addr).Warn("Redis cache not reachable, lookups will fall through to the store")
	}
	return c, nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client *redis.Client, cooldown time.Duration, logger logrus.FieldLogger, registry *metrics.Registry) *Redis {
	return &Redis{
		client: client,
		breaker: circuitbreaker.New("redis", 1, cooldown,
			circuitbreaker.WithLogger(logger),
			circuitbreaker.WithHalfOpenProbes(1)),
		logger:  logger,
		metrics: registry,
	}
}

// Get returns the value stored under namespace/key. It reports not found
// while the breaker is open.
func (r *Redis) Get(ctx context.Context, namespace, key string) (string, bool) {
	k := Key(namespace, key)

	var value string
	found := false
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		v, err := r.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	if err != nil {
		r.fail("get", k, err)
		return "", false
	}

	if !found {
		r.metrics.IncrementCounter("cache_misses", nil, "Cache lookups without a live entry")
		return "", false
	}
	r.metrics.IncrementCounter("cache_hits", nil, "Cache lookups answered from the cache")
	return value, true
}

// Put stores value under namespace/key for ttl and reports success
func (r *Redis) Put(ctx context.Context, namespace, key, value string, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	k := Key(namespace, key)

	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.client.Set(ctx, k, value, ttl).Err()
	})
	if err != nil {
		r.fail("put", k, err)
		return false
	}

	r.metrics.IncrementCounter("cache_stores", nil, "Cache entries written")
	return true
}

func (r *Redis) fail(operation, key string, err error) {
	if circuitbreaker.IsCircuitBreakerError(err) {
		r.metrics.IncrementCounter("cache_skipped", map[string]string{"operation": operation}, "Cache calls skipped during failure cooldown")
		return
	}
	r.metrics.IncrementCounter("cache_errors", map[string]string{"operation": operation}, "Cache calls that failed")
	apperrors.Entry(r.logger, apperrors.NewCollaboratorError("cache", operation, err)).
		WithField("key", key).
		Warn("Cache call failed, backing off")
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Breaker exposes the circuit breaker state for the admin endpoint
func (r *Redis) Breaker() circuitbreaker.Stats {
	return r.breaker.Stats()
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.client.Close()
}
