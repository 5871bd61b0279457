package cache

import (
	"context"
	"errors"
	"time"

	"github.com/LerianStudio/lib-failover/failover/circuitbreaker"
	"github.com/LerianStudio/lib-failover/failover/log"
	libOpentelemetry "github.com/LerianStudio/lib-failover/failover/opentelemetry"
	"github.com/LerianStudio/lib-failover/failover/provider"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// WritePolicy decides what happens to write operations when every provider
// is unavailable.
type WritePolicy string

const (
	// WriteStrict propagates provider.ErrAllUnavailable to the caller.
	// Production deployments should use this: a monitoring write must never
	// silently report success.
	WriteStrict WritePolicy = "strict"
	// WriteLenient turns a failed write into a logged no-op success.
	// Intended for development-like configurations.
	WriteLenient WritePolicy = "lenient"
)

// RouterConfig assembles a cache failover router. A nil provider client
// disables that provider; with no providers configured the router serves
// only the neutral read fallbacks and the write policy outcome.
type RouterConfig struct {
	Primary        *Client
	Secondary      *Client
	Breaker        circuitbreaker.Config
	AttemptTimeout time.Duration
	WritePolicy    WritePolicy
	Logger         log.Logger
}

// Router is the key-value facade over two Redis providers.
//
// Reads (Get, Exists, TTL, Keys) degrade to neutral results when every
// provider is unavailable; writes follow the configured WritePolicy. This
// asymmetry is deliberate; see the package documentation.
type Router struct {
	clients map[provider.Provider]*Client
	engine  *provider.Engine
	policy  WritePolicy
	logger  log.Logger
}

// NewRouter wires the configured provider clients to a failover engine.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = &log.NopLogger{}
	}

	policy := cfg.WritePolicy
	if policy == "" {
		policy = WriteStrict
	}

	clients := make(map[provider.Provider]*Client, 2)
	order := make([]provider.Provider, 0, 2)

	if cfg.Primary != nil {
		clients[provider.Primary] = cfg.Primary
		order = append(order, provider.Primary)
	}

	if cfg.Secondary != nil {
		clients[provider.Secondary] = cfg.Secondary
		order = append(order, provider.Secondary)
	}

	engine := provider.NewEngine(provider.Config{
		Name:           "cache",
		Providers:      order,
		Breaker:        cfg.Breaker,
		AttemptTimeout: cfg.AttemptTimeout,
		Logger:         logger,
		SpanAttributes: []attribute.KeyValue{
			attribute.String(libOpentelemetry.AttrDBSystem, libOpentelemetry.DBSystemRedis),
		},
	})

	return &Router{
		clients: clients,
		engine:  engine,
		policy:  policy,
		logger:  logger,
	}
}

// Snapshot reports the active provider and per-provider breaker status.
func (r *Router) Snapshot() provider.Snapshot {
	return r.engine.Snapshot()
}

// Breakers exposes the router's breaker manager for health reporting.
func (r *Router) Breakers() circuitbreaker.Manager {
	return r.engine.Breakers()
}

// Close tears down every configured provider client unconditionally,
// regardless of breaker state, to avoid leaking connections.
func (r *Router) Close() error {
	var errs []error

	for p, client := range r.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, &provider.AttemptError{Provider: p, Operation: "close", Err: err})
		}
	}

	return errors.Join(errs...)
}

// Get returns the decoded value stored at key, or nil when the key is absent
// or every provider is unavailable.
func (r *Router) Get(ctx context.Context, key string) (any, error) {
	raw, _, err := provider.Execute(ctx, r.engine, "get", func(ctx context.Context, p provider.Provider) (*string, error) {
		rdb, err := r.clients[p].GetClient(ctx)
		if err != nil {
			return nil, err
		}

		value, err := rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			// Key absent is a successful read, not a provider failure.
			return nil, nil
		}

		if err != nil {
			return nil, err
		}

		return &value, nil
	})
	if err != nil {
		return nil, r.readFallback(ctx, "get", err)
	}

	if raw == nil {
		return nil, nil
	}

	return decodeValue(*raw), nil
}

// Set stores value at key with an optional TTL (0 = no expiry). The value is
// JSON-encoded unless already textual.
func (r *Router) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	encoded, err := encodeValue(value)
	if err != nil {
		return err
	}

	_, _, err = provider.Execute(ctx, r.engine, "set", func(ctx context.Context, p provider.Provider) (struct{}, error) {
		rdb, err := r.clients[p].GetClient(ctx)
		if err != nil {
			return struct{}{}, err
		}

		return struct{}{}, rdb.Set(ctx, key, encoded, ttl).Err()
	})

	return r.writeFallback(ctx, "set", err)
}

// SetWithExpiry stores value at key with a TTL expressed in seconds.
func (r *Router) SetWithExpiry(ctx context.Context, key string, seconds int64, value any) error {
	encoded, err := encodeValue(value)
	if err != nil {
		return err
	}

	_, _, err = provider.Execute(ctx, r.engine, "setex", func(ctx context.Context, p provider.Provider) (struct{}, error) {
		rdb, err := r.clients[p].GetClient(ctx)
		if err != nil {
			return struct{}{}, err
		}

		return struct{}{}, rdb.SetEx(ctx, key, encoded, time.Duration(seconds)*time.Second).Err()
	})

	return r.writeFallback(ctx, "setex", err)
}

// Del removes the given keys and returns how many existed.
func (r *Router) Del(ctx context.Context, keys ...string) (int64, error) {
	removed, _, err := provider.Execute(ctx, r.engine, "del", func(ctx context.Context, p provider.Provider) (int64, error) {
		rdb, err := r.clients[p].GetClient(ctx)
		if err != nil {
			return 0, err
		}

		return rdb.Del(ctx, keys...).Result()
	})
	if err != nil {
		return 0, r.writeFallback(ctx, "del", err)
	}

	return removed, nil
}

// Incr atomically increments the integer stored at key.
func (r *Router) Incr(ctx context.Context, key string) (int64, error) {
	value, _, err := provider.Execute(ctx, r.engine, "incr", func(ctx context.Context, p provider.Provider) (int64, error) {
		rdb, err := r.clients[p].GetClient(ctx)
		if err != nil {
			return 0, err
		}

		return rdb.Incr(ctx, key).Result()
	})
	if err != nil {
		return 0, r.writeFallback(ctx, "incr", err)
	}

	return value, nil
}

// Expire sets a TTL on key and reports whether the key existed.
func (r *Router) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, _, err := provider.Execute(ctx, r.engine, "expire", func(ctx context.Context, p provider.Provider) (bool, error) {
		rdb, err := r.clients[p].GetClient(ctx)
		if err != nil {
			return false, err
		}

		return rdb.Expire(ctx, key, ttl).Result()
	})
	if err != nil {
		return false, r.writeFallback(ctx, "expire", err)
	}

	return ok, nil
}

// TTL returns the remaining time to live of key. Redis semantics apply
// (-1 = no expiry, -2 = no such key); -1 is also the neutral result when
// every provider is unavailable.
func (r *Router) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, _, err := provider.Execute(ctx, r.engine, "ttl", func(ctx context.Context, p provider.Provider) (time.Duration, error) {
		rdb, err := r.clients[p].GetClient(ctx)
		if err != nil {
			return 0, err
		}

		return rdb.TTL(ctx, key).Result()
	})
	if err != nil {
		return time.Duration(-1), r.readFallback(ctx, "ttl", err)
	}

	return ttl, nil
}

// Exists returns how many of the given keys exist (0 when every provider is
// unavailable).
func (r *Router) Exists(ctx context.Context, keys ...string) (int64, error) {
	count, _, err := provider.Execute(ctx, r.engine, "exists", func(ctx context.Context, p provider.Provider) (int64, error) {
		rdb, err := r.clients[p].GetClient(ctx)
		if err != nil {
			return 0, err
		}

		return rdb.Exists(ctx, keys...).Result()
	})
	if err != nil {
		return 0, r.readFallback(ctx, "exists", err)
	}

	return count, nil
}

// Keys lists keys matching pattern. Intended for operational tooling; KEYS
// scans the whole keyspace on the serving provider.
func (r *Router) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, _, err := provider.Execute(ctx, r.engine, "keys", func(ctx context.Context, p provider.Provider) ([]string, error) {
		rdb, err := r.clients[p].GetClient(ctx)
		if err != nil {
			return nil, err
		}

		return rdb.Keys(ctx, pattern).Result()
	})
	if err != nil {
		return []string{}, r.readFallback(ctx, "keys", err)
	}

	return keys, nil
}

// Eval runs a Lua script on the serving provider. Treated as a write: the
// script may mutate state, so the write policy applies on total outage.
func (r *Router) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	result, _, err := provider.Execute(ctx, r.engine, "eval", func(ctx context.Context, p provider.Provider) (any, error) {
		rdb, err := r.clients[p].GetClient(ctx)
		if err != nil {
			return nil, err
		}

		return rdb.Eval(ctx, script, keys, args...).Result()
	})
	if err != nil {
		return nil, r.writeFallback(ctx, "eval", err)
	}

	return result, nil
}

// SAdd adds members to the set stored at key.
func (r *Router) SAdd(ctx context.Context, key string, members ...any) (int64, error) {
	added, _, err := provider.Execute(ctx, r.engine, "sadd", func(ctx context.Context, p provider.Provider) (int64, error) {
		rdb, err := r.clients[p].GetClient(ctx)
		if err != nil {
			return 0, err
		}

		return rdb.SAdd(ctx, key, members...).Result()
	})
	if err != nil {
		return 0, r.writeFallback(ctx, "sadd", err)
	}

	return added, nil
}

// SRem removes members from the set stored at key.
func (r *Router) SRem(ctx context.Context, key string, members ...any) (int64, error) {
	removed, _, err := provider.Execute(ctx, r.engine, "srem", func(ctx context.Context, p provider.Provider) (int64, error) {
		rdb, err := r.clients[p].GetClient(ctx)
		if err != nil {
			return 0, err
		}

		return rdb.SRem(ctx, key, members...).Result()
	})
	if err != nil {
		return 0, r.writeFallback(ctx, "srem", err)
	}

	return removed, nil
}

// readFallback converts a total-outage error into a nil error so reads
// degrade to their neutral results. Any other error propagates.
func (r *Router) readFallback(ctx context.Context, op string, err error) error {
	if errors.Is(err, provider.ErrAllUnavailable) {
		r.logger.Log(ctx, log.LevelWarn, "cache read degraded to neutral result",
			log.String("operation", op), log.Err(err))

		return nil
	}

	return err
}

// writeFallback applies the write policy to a total-outage error: strict
// propagates it, lenient logs and reports a no-op success. Any other error
// propagates.
func (r *Router) writeFallback(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}

	if !errors.Is(err, provider.ErrAllUnavailable) {
		return err
	}

	if r.policy == WriteLenient {
		r.logger.Log(ctx, log.LevelWarn, "cache write dropped (lenient policy, all providers unavailable)",
			log.String("operation", op), log.Err(err))

		return nil
	}

	return err
}
