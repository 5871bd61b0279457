package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/LerianStudio/lib-failover/failover/backoff"
	"github.com/LerianStudio/lib-failover/failover/log"
	libOpentelemetry "github.com/LerianStudio/lib-failover/failover/opentelemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrNilClient is returned when a cache client receiver is nil.
	ErrNilClient = errors.New("cache client is nil")
	// ErrInvalidConfig indicates the provided cache provider configuration is invalid.
	ErrInvalidConfig = errors.New("invalid cache provider config")
)

// ClientConfig defines one Redis provider's topology, auth, TLS, and
// connection settings.
type ClientConfig struct {
	Topology Topology
	TLS      *TLSConfig
	Auth     Auth
	Options  ConnectionOptions
	Logger   log.Logger
}

// Topology selects exactly one Redis deployment mode.
type Topology struct {
	Standalone *StandaloneTopology
	Sentinel   *SentinelTopology
	Cluster    *ClusterTopology
}

// StandaloneTopology configures single-node Redis access.
type StandaloneTopology struct {
	Address string
}

// SentinelTopology configures Redis Sentinel access.
type SentinelTopology struct {
	Addresses  []string
	MasterName string
}

// ClusterTopology configures Redis cluster access.
type ClusterTopology struct {
	Addresses []string
}

// TLSConfig configures TLS validation for Redis connections.
type TLSConfig struct {
	CACertBase64 string
	MinVersion   uint16
}

// Auth selects the Redis authentication strategy.
type Auth struct {
	StaticPassword *StaticPasswordAuth
}

// StaticPasswordAuth authenticates using a static password.
type StaticPasswordAuth struct {
	Password string
}

// String returns a redacted representation to prevent accidental credential logging.
func (StaticPasswordAuth) String() string { return "StaticPasswordAuth{Password:REDACTED}" }

// GoString returns a redacted representation for fmt %#v.
func (a StaticPasswordAuth) GoString() string { return a.String() }

// ConnectionOptions configures protocol, timeouts, pools, and retries.
type ConnectionOptions struct {
	DB              int
	Protocol        int
	PoolSize        int
	MinIdleConns    int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	DialTimeout     time.Duration
	PoolTimeout     time.Duration
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

// reconnectBackoffCap is the maximum delay between reconnect attempts.
const reconnectBackoffCap = 30 * time.Second

// Client wraps a redis.UniversalClient for one provider with ping-verified
// connect and rate-limited reconnection.
type Client struct {
	mu        sync.RWMutex
	cfg       ClientConfig
	logger    log.Logger
	client    redis.UniversalClient
	connected bool

	// Reconnect rate-limiting: prevents thundering-herd reconnect storms
	// when the server is down by enforcing exponential backoff between attempts.
	lastReconnectAttempt time.Time
	reconnectAttempts    int
}

// NewClient validates config and returns a client. No connection is opened
// until Connect (or a lazy GetClient) is called, so a router can be assembled
// before its backends are reachable.
func NewClient(cfg ClientConfig) (*Client, error) {
	normalized, err := normalizeClientConfig(cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:    normalized,
		logger: normalized.Logger,
	}, nil
}

// Connect establishes a Redis connection using the current client configuration.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	tracer := otel.Tracer("cache")

	ctx, span := tracer.Start(ctx, "cache.connect")
	defer span.End()

	span.SetAttributes(attribute.String(libOpentelemetry.AttrDBSystem, libOpentelemetry.DBSystemRedis))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.logger == nil {
		c.logger = &log.NopLogger{}
	}

	if err := c.connectLocked(ctx); err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to connect to redis", err)

		return err
	}

	return nil
}

// GetClient returns a connected redis client, reconnecting on demand if needed.
func (c *Client) GetClient(ctx context.Context) (redis.UniversalClient, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	c.mu.RLock()

	if c.client != nil {
		client := c.client
		c.mu.RUnlock()

		return client, nil
	}

	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.logger == nil {
		c.logger = &log.NopLogger{}
	}

	if c.client != nil {
		return c.client, nil
	}

	// Rate-limit reconnect attempts: if we've failed recently, enforce a
	// minimum delay before the next attempt to avoid hammering the server.
	if c.reconnectAttempts > 0 {
		delay := backoff.ExponentialWithJitter(500*time.Millisecond, c.reconnectAttempts)
		if delay > reconnectBackoffCap {
			delay = reconnectBackoffCap
		}

		if elapsed := time.Since(c.lastReconnectAttempt); elapsed < delay {
			return nil, fmt.Errorf("cache reconnect: rate-limited (next attempt in %s)", delay-elapsed)
		}
	}

	c.lastReconnectAttempt = time.Now()

	// Only trace when actually reconnecting.
	tracer := otel.Tracer("cache")

	ctx, span := tracer.Start(ctx, "cache.reconnect")
	defer span.End()

	span.SetAttributes(attribute.String(libOpentelemetry.AttrDBSystem, libOpentelemetry.DBSystemRedis))

	if err := c.connectLocked(ctx); err != nil {
		c.reconnectAttempts++

		libOpentelemetry.HandleSpanError(&span, "Failed to reconnect redis", err)

		return nil, err
	}

	c.reconnectAttempts = 0

	return c.client, nil
}

// Close closes the underlying Redis client.
func (c *Client) Close() error {
	if c == nil {
		return ErrNilClient
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeClientLocked()
}

// IsConnected reports whether the underlying client is currently connected.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected
}

func (c *Client) connectLocked(ctx context.Context) error {
	c.logger.Log(ctx, log.LevelInfo, "connecting to Redis/Valkey")

	if c.client != nil {
		if err := c.closeClientLocked(); err != nil {
			c.logger.Log(ctx, log.LevelWarn, "close before connect failed", log.Err(err))
		}
	}

	opts, err := c.buildUniversalOptionsLocked()
	if err != nil {
		return fmt.Errorf("cache connect: build options: %w", err)
	}

	rdb := redis.NewUniversalClient(opts)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()

		c.logger.Log(ctx, log.LevelError, "redis ping failed", log.Err(err))
		c.connected = false

		return fmt.Errorf("cache connect: ping: %w", err)
	}

	c.client = rdb
	c.connected = true

	if c.cfg.TLS == nil {
		c.logger.Log(ctx, log.LevelWarn, "redis connection established without TLS; consider configuring TLS for production use")
	}

	return nil
}

func (c *Client) closeClientLocked() error {
	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	c.connected = false

	return err
}

func (c *Client) buildUniversalOptionsLocked() (*redis.UniversalOptions, error) {
	o := c.cfg.Options
	opts := &redis.UniversalOptions{
		DB:              o.DB,
		Protocol:        o.Protocol,
		PoolSize:        o.PoolSize,
		MinIdleConns:    o.MinIdleConns,
		ReadTimeout:     o.ReadTimeout,
		WriteTimeout:    o.WriteTimeout,
		DialTimeout:     o.DialTimeout,
		PoolTimeout:     o.PoolTimeout,
		MaxRetries:      o.MaxRetries,
		MinRetryBackoff: o.MinRetryBackoff,
		MaxRetryBackoff: o.MaxRetryBackoff,
	}

	if c.cfg.Topology.Standalone != nil {
		opts.Addrs = []string{c.cfg.Topology.Standalone.Address}
	}

	if c.cfg.Topology.Sentinel != nil {
		opts.Addrs = c.cfg.Topology.Sentinel.Addresses
		opts.MasterName = c.cfg.Topology.Sentinel.MasterName
	}

	if c.cfg.Topology.Cluster != nil {
		opts.Addrs = c.cfg.Topology.Cluster.Addresses
	}

	// Guard against zero-value ClientConfig producing Addrs: nil, which causes
	// go-redis to silently default to localhost:6379.
	if len(opts.Addrs) == 0 {
		return nil, configError("no topology configured: at least one address is required")
	}

	if c.cfg.Auth.StaticPassword != nil {
		opts.Password = c.cfg.Auth.StaticPassword.Password
	}

	if c.cfg.TLS != nil {
		tlsCfg, err := buildTLSConfig(*c.cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("cache: TLS config: %w", err)
		}

		opts.TLSConfig = tlsCfg
	}

	return opts, nil
}

func normalizeClientConfig(cfg ClientConfig) (ClientConfig, error) {
	if cfg.Logger == nil {
		cfg.Logger = &log.NopLogger{}
	}

	normalizeConnectionOptionsDefaults(&cfg.Options)
	normalizeTLSDefaults(cfg.TLS)

	if err := validateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

const maxPoolSize = 1000

func normalizeConnectionOptionsDefaults(options *ConnectionOptions) {
	if options.PoolSize == 0 {
		options.PoolSize = 10
	}

	if options.PoolSize > maxPoolSize {
		options.PoolSize = maxPoolSize
	}

	if options.ReadTimeout == 0 {
		options.ReadTimeout = 3 * time.Second
	}

	if options.WriteTimeout == 0 {
		options.WriteTimeout = 3 * time.Second
	}

	if options.DialTimeout == 0 {
		options.DialTimeout = 5 * time.Second
	}

	if options.PoolTimeout == 0 {
		options.PoolTimeout = 2 * time.Second
	}

	if options.MaxRetries == 0 {
		options.MaxRetries = 3
	}

	if options.MinRetryBackoff == 0 {
		options.MinRetryBackoff = 8 * time.Millisecond
	}

	if options.MaxRetryBackoff == 0 {
		options.MaxRetryBackoff = 1 * time.Second
	}
}

func normalizeTLSDefaults(tlsCfg *TLSConfig) {
	if tlsCfg == nil {
		return
	}

	if tlsCfg.MinVersion < tls.VersionTLS12 {
		tlsCfg.MinVersion = tls.VersionTLS12
	}
}

func validateClientConfig(cfg ClientConfig) error {
	if err := validateTopology(cfg.Topology); err != nil {
		return err
	}

	if cfg.TLS != nil && strings.TrimSpace(cfg.TLS.CACertBase64) == "" {
		return configError("TLS CA cert is required when TLS is configured")
	}

	return nil
}

func validateTopology(topology Topology) error {
	count := 0

	if topology.Standalone != nil {
		count++

		if strings.TrimSpace(topology.Standalone.Address) == "" {
			return configError("standalone address is required")
		}
	}

	if topology.Sentinel != nil {
		count++

		if len(topology.Sentinel.Addresses) == 0 {
			return configError("sentinel addresses are required")
		}

		if strings.TrimSpace(topology.Sentinel.MasterName) == "" {
			return configError("sentinel master name is required")
		}

		for _, address := range topology.Sentinel.Addresses {
			if strings.TrimSpace(address) == "" {
				return configError("sentinel addresses cannot be empty")
			}
		}
	}

	if topology.Cluster != nil {
		count++

		if len(topology.Cluster.Addresses) == 0 {
			return configError("cluster addresses are required")
		}

		for _, address := range topology.Cluster.Addresses {
			if strings.TrimSpace(address) == "" {
				return configError("cluster addresses cannot be empty")
			}
		}
	}

	if count != 1 {
		return configError("exactly one topology must be configured")
	}

	return nil
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	caCert, err := base64.StdEncoding.DecodeString(cfg.CACertBase64)
	if err != nil {
		return nil, err
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("adding CA cert failed")
	}

	tlsConfig := &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}

	if cfg.MinVersion == tls.VersionTLS13 {
		tlsConfig.MinVersion = tls.VersionTLS13
	}

	return tlsConfig, nil
}

func configError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
