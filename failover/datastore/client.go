package datastore

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
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultServerSelectionTimeout = 5 * time.Second
	defaultHeartbeatInterval      = 10 * time.Second
	maxMaxPoolSize                = 1000
)

var (
	// ErrNilContext is returned when a required context is nil.
	ErrNilContext = errors.New("context cannot be nil")
	// ErrNilClient is returned when a *Client receiver is nil.
	ErrNilClient = errors.New("datastore client is nil")
	// ErrClientClosed is returned when the client is not connected.
	ErrClientClosed = errors.New("datastore client is closed")
	// ErrNilDependency is returned when an Option sets a required dependency to nil.
	ErrNilDependency = errors.New("datastore option set a required dependency to nil")
	// ErrInvalidConfig indicates the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid datastore config")
	// ErrEmptyURI is returned when the connection URI is empty.
	ErrEmptyURI = errors.New("datastore uri cannot be empty")
	// ErrEmptyDatabaseName is returned when database name is empty.
	ErrEmptyDatabaseName = errors.New("database name cannot be empty")
	// ErrConnect wraps connection establishment failures.
	ErrConnect = errors.New("datastore connect failed")
	// ErrPing wraps connectivity probe failures.
	ErrPing = errors.New("datastore ping failed")
	// ErrDisconnect wraps disconnection failures.
	ErrDisconnect = errors.New("datastore disconnect failed")
	// ErrNilMongoClient is returned when the mongo driver returns a nil client.
	ErrNilMongoClient = errors.New("mongo driver returned nil client")
)

// TLSConfig configures TLS validation for MongoDB connections.
type TLSConfig struct {
	CACertBase64 string
	MinVersion   uint16
}

// ClientConfig defines one MongoDB provider's connection and pool behavior.
type ClientConfig struct {
	URI                    string
	Database               string
	MaxPoolSize            uint64
	ServerSelectionTimeout time.Duration
	HeartbeatInterval      time.Duration
	TLS                    *TLSConfig
	Logger                 log.Logger
}

func (cfg ClientConfig) validate() error {
	if strings.TrimSpace(cfg.URI) == "" {
		return ErrEmptyURI
	}

	if strings.TrimSpace(cfg.Database) == "" {
		return ErrEmptyDatabaseName
	}

	if cfg.TLS != nil && strings.TrimSpace(cfg.TLS.CACertBase64) == "" {
		return configError("TLS CA cert is required when TLS is configured")
	}

	return nil
}

// Option customizes internal client dependencies (primarily for tests).
type Option func(*clientDeps)

// connectBackoffCap is the maximum delay between lazy-connect retries.
const connectBackoffCap = 30 * time.Second

// Client wraps one MongoDB provider with lifecycle management and
// rate-limited lazy reconnection.
type Client struct {
	mu           sync.RWMutex
	client       *mongo.Client
	databaseName string
	cfg          ClientConfig
	uri          string // private copy for reconnection; cfg.URI cleared after connect
	deps         clientDeps

	// Lazy-connect rate-limiting: prevents thundering-herd reconnect storms
	// when the database is down by enforcing exponential backoff between attempts.
	lastConnectAttempt time.Time
	connectAttempts    int
}

type clientDeps struct {
	connect        func(context.Context, *options.ClientOptions) (*mongo.Client, error)
	ping           func(context.Context, *mongo.Client) error
	disconnect     func(context.Context, *mongo.Client) error
	runTransaction func(context.Context, *mongo.Client, TransactionFunc) (any, error)
}

// TransactionFunc is the callback executed inside a session transaction.
type TransactionFunc func(sessCtx mongo.SessionContext) (any, error)

func defaultDeps() clientDeps {
	return clientDeps{
		connect: func(ctx context.Context, clientOptions *options.ClientOptions) (*mongo.Client, error) {
			return mongo.Connect(ctx, clientOptions)
		},
		ping: func(ctx context.Context, client *mongo.Client) error {
			return client.Ping(ctx, nil)
		},
		disconnect: func(ctx context.Context, client *mongo.Client) error {
			return client.Disconnect(ctx)
		},
		runTransaction: func(ctx context.Context, client *mongo.Client, fn TransactionFunc) (any, error) {
			session, err := client.StartSession()
			if err != nil {
				return nil, err
			}
			defer session.EndSession(ctx)

			return session.WithTransaction(ctx, fn)
		},
	}
}

// NewClient validates config and returns a client. No connection is opened
// until Connect (or a lazy ResolveDatabase) is called, so a router can be
// assembled before its backends are reachable.
func NewClient(cfg ClientConfig, opts ...Option) (*Client, error) {
	cfg = normalizeClientConfig(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	deps := defaultDeps()

	for _, opt := range opts {
		if opt == nil {
			continue
		}

		opt(&deps)
	}

	if deps.connect == nil || deps.ping == nil || deps.disconnect == nil || deps.runTransaction == nil {
		return nil, ErrNilDependency
	}

	return &Client{
		databaseName: cfg.Database,
		cfg:          cfg,
		uri:          cfg.URI,
		deps:         deps,
	}, nil
}

// Connect establishes a MongoDB connection if one is not already open.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	if ctx == nil {
		return ErrNilContext
	}

	tracer := otel.Tracer("datastore")

	ctx, span := tracer.Start(ctx, "datastore.connect")
	defer span.End()

	span.SetAttributes(attribute.String(libOpentelemetry.AttrDBSystem, libOpentelemetry.DBSystemMongoDB))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	if err := c.connectLocked(ctx); err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to connect to mongo", err)

		return err
	}

	return nil
}

// connectLocked performs the actual connection logic.
// The caller MUST hold c.mu (write lock) before calling this method.
func (c *Client) connectLocked(ctx context.Context) error {
	clientOptions := options.Client().ApplyURI(c.uri)

	serverSelectionTimeout := c.cfg.ServerSelectionTimeout
	if serverSelectionTimeout <= 0 {
		serverSelectionTimeout = defaultServerSelectionTimeout
	}

	heartbeatInterval := c.cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}

	clientOptions.SetServerSelectionTimeout(serverSelectionTimeout)
	clientOptions.SetHeartbeatInterval(heartbeatInterval)

	if c.cfg.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(c.cfg.MaxPoolSize)
	}

	if c.cfg.TLS != nil {
		tlsCfg, err := buildTLSConfig(*c.cfg.TLS)
		if err != nil {
			return fmt.Errorf("%w: TLS configuration: %w", ErrConnect, err)
		}

		clientOptions.SetTLSConfig(tlsCfg)
	}

	mongoClient, err := c.deps.connect(ctx, clientOptions)
	if err != nil {
		c.log(ctx, "mongo connect failed", log.Err(err))

		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	if mongoClient == nil {
		return ErrNilMongoClient
	}

	if err := c.deps.ping(ctx, mongoClient); err != nil {
		if disconnectErr := c.deps.disconnect(ctx, mongoClient); disconnectErr != nil {
			c.log(ctx, "failed to disconnect after ping failure", log.Err(disconnectErr))
		}

		c.log(ctx, "mongo ping failed", log.Err(err))

		return fmt.Errorf("%w: %w", ErrPing, err)
	}

	c.client = mongoClient

	if c.cfg.TLS == nil && !isTLSImplied(c.uri) {
		c.logAtLevel(ctx, log.LevelWarn, "mongo connection established without TLS; "+
			"consider configuring TLS for production use")
	}

	c.cfg.URI = ""

	return nil
}

// ResolveClient returns a connected mongo client, reconnecting lazily if needed.
// Uses double-checked locking with backoff rate-limiting to prevent reconnect storms.
func (c *Client) ResolveClient(ctx context.Context) (*mongo.Client, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	if ctx == nil {
		return nil, ErrNilContext
	}

	// Fast path: already connected (read-lock only).
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client != nil {
		return client, nil
	}

	// Slow path: acquire write lock and double-check before connecting.
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	// Rate-limit lazy-connect retries: if previous attempts failed recently,
	// enforce a minimum delay before the next attempt.
	if c.connectAttempts > 0 {
		delay := backoff.ExponentialWithJitter(1*time.Second, c.connectAttempts)
		if delay > connectBackoffCap {
			delay = connectBackoffCap
		}

		if elapsed := time.Since(c.lastConnectAttempt); elapsed < delay {
			return nil, fmt.Errorf("datastore resolve_client: rate-limited (next attempt in %s)", delay-elapsed)
		}
	}

	c.lastConnectAttempt = time.Now()

	tracer := otel.Tracer("datastore")

	ctx, span := tracer.Start(ctx, "datastore.resolve")
	defer span.End()

	span.SetAttributes(attribute.String(libOpentelemetry.AttrDBSystem, libOpentelemetry.DBSystemMongoDB))

	if err := c.connectLocked(ctx); err != nil {
		c.connectAttempts++

		libOpentelemetry.HandleSpanError(&span, "Failed to resolve mongo connection", err)

		return nil, err
	}

	c.connectAttempts = 0

	if c.client == nil {
		err := ErrClientClosed
		libOpentelemetry.HandleSpanError(&span, "Mongo client not connected after resolve", err)

		return nil, err
	}

	return c.client, nil
}

// ResolveDatabase returns the configured database handle, reconnecting
// lazily if needed.
func (c *Client) ResolveDatabase(ctx context.Context) (*mongo.Database, error) {
	client, err := c.ResolveClient(ctx)
	if err != nil {
		return nil, err
	}

	return client.Database(c.databaseName), nil
}

// DatabaseName returns the configured database name.
func (c *Client) DatabaseName() string {
	if c == nil {
		return ""
	}

	return c.databaseName
}

// Ping checks MongoDB availability using the active connection.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	if ctx == nil {
		return ErrNilContext
	}

	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		return ErrClientClosed
	}

	if err := c.deps.ping(ctx, client); err != nil {
		return fmt.Errorf("%w: %w", ErrPing, err)
	}

	return nil
}

// RunTransaction executes fn inside a session-scoped transaction on this
// provider. The whole callback is a single unit: it either commits here or
// fails here, never spanning two providers.
func (c *Client) RunTransaction(ctx context.Context, fn TransactionFunc) (any, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	if ctx == nil {
		return nil, ErrNilContext
	}

	client, err := c.ResolveClient(ctx)
	if err != nil {
		return nil, err
	}

	return c.deps.runTransaction(ctx, client, fn)
}

// Close releases the MongoDB connection.
// The client is marked as closed regardless of whether disconnect succeeds or fails.
// This prevents callers from retrying operations on a potentially half-closed client.
func (c *Client) Close(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	if ctx == nil {
		return ErrNilContext
	}

	tracer := otel.Tracer("datastore")

	ctx, span := tracer.Start(ctx, "datastore.close")
	defer span.End()

	span.SetAttributes(attribute.String(libOpentelemetry.AttrDBSystem, libOpentelemetry.DBSystemMongoDB))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.deps.disconnect(ctx, c.client)
	c.client = nil

	if err != nil {
		c.log(ctx, "mongo disconnect failed", log.Err(err))

		disconnectErr := fmt.Errorf("%w: %w", ErrDisconnect, err)
		libOpentelemetry.HandleSpanError(&span, "Failed to disconnect from mongo", disconnectErr)

		return disconnectErr
	}

	return nil
}

func (c *Client) log(ctx context.Context, message string, fields ...log.Field) {
	c.logAtLevel(ctx, log.LevelDebug, message, fields...)
}

func (c *Client) logAtLevel(ctx context.Context, level log.Level, message string, fields ...log.Field) {
	if c == nil || c.cfg.Logger == nil {
		return
	}

	if !c.cfg.Logger.Enabled(level) {
		return
	}

	c.cfg.Logger.Log(ctx, level, message, fields...)
}

// normalizeClientConfig applies safe defaults and clamps to a ClientConfig.
func normalizeClientConfig(cfg ClientConfig) ClientConfig {
	if cfg.MaxPoolSize > maxMaxPoolSize {
		cfg.MaxPoolSize = maxMaxPoolSize
	}

	if cfg.TLS != nil {
		tlsCopy := *cfg.TLS
		cfg.TLS = &tlsCopy
	}

	normalizeTLSDefaults(cfg.TLS)

	return cfg
}

// normalizeTLSDefaults enforces a minimum TLS version of 1.2.
func normalizeTLSDefaults(tlsCfg *TLSConfig) {
	if tlsCfg == nil {
		return
	}

	if tlsCfg.MinVersion < tls.VersionTLS12 {
		tlsCfg.MinVersion = tls.VersionTLS12
	}
}

// buildTLSConfig creates a *tls.Config from a TLSConfig.
// MinVersion defaults to TLS 1.2. If cfg.MinVersion is set, it must be
// tls.VersionTLS12 or tls.VersionTLS13; any other value returns ErrInvalidConfig.
func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	caCert, err := base64.StdEncoding.DecodeString(cfg.CACertBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding CA cert: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("adding CA cert to pool failed: %w", ErrInvalidConfig)
	}

	if cfg.MinVersion != 0 && cfg.MinVersion != tls.VersionTLS12 && cfg.MinVersion != tls.VersionTLS13 {
		return nil, fmt.Errorf("%w: unsupported TLS MinVersion %#x (must be tls.VersionTLS12 or tls.VersionTLS13)", ErrInvalidConfig, cfg.MinVersion)
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

// isTLSImplied returns true if the URI scheme or query parameters indicate TLS.
func isTLSImplied(uri string) bool {
	return strings.HasPrefix(uri, "mongodb+srv://") ||
		strings.Contains(uri, "tls=true") ||
		strings.Contains(uri, "ssl=true")
}

// configError wraps a configuration validation message with ErrInvalidConfig.
func configError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
