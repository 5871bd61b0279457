package config

import (
	"time"

	"github.com/LerianStudio/lib-failover/failover/cache"
	"github.com/LerianStudio/lib-failover/failover/circuitbreaker"
	"github.com/LerianStudio/lib-failover/failover/datastore"
	"github.com/LerianStudio/lib-failover/failover/log"
)

// Environment variable names read by FromEnv.
const (
	EnvCachePrimaryAddress    = "CACHE_PRIMARY_ADDRESS"
	EnvCachePrimaryPassword   = "CACHE_PRIMARY_PASSWORD"
	EnvCacheSecondaryAddress  = "CACHE_SECONDARY_ADDRESS"
	EnvCacheSecondaryPassword = "CACHE_SECONDARY_PASSWORD"
	EnvDBPrimaryURI           = "DB_PRIMARY_URI"
	EnvDBPrimaryName          = "DB_PRIMARY_NAME"
	EnvDBSecondaryURI         = "DB_SECONDARY_URI"
	EnvDBSecondaryName        = "DB_SECONDARY_NAME"
	EnvBreakerFailures        = "BREAKER_FAILURE_THRESHOLD"
	EnvBreakerResetWindow     = "BREAKER_RESET_WINDOW"
	EnvDBOperationTimeout     = "DB_OPERATION_TIMEOUT"
	EnvEnvironmentName        = "ENV_NAME"
)

// CacheProvider configures one Redis provider endpoint. An empty Address
// leaves the provider unconfigured.
type CacheProvider struct {
	Address  string
	Password string
}

// Configured reports whether the provider has an endpoint.
func (p CacheProvider) Configured() bool {
	return p.Address != ""
}

// DataStoreProvider configures one MongoDB provider endpoint. An empty URI
// leaves the provider unconfigured.
type DataStoreProvider struct {
	URI      string
	Database string
}

// Configured reports whether the provider has an endpoint.
func (p DataStoreProvider) Configured() bool {
	return p.URI != ""
}

// Config aggregates everything needed to assemble both failover routers.
type Config struct {
	CachePrimary       CacheProvider
	CacheSecondary     CacheProvider
	DataStorePrimary   DataStoreProvider
	DataStoreSecondary DataStoreProvider

	Breaker            circuitbreaker.Config
	DBOperationTimeout time.Duration
	CacheWritePolicy   cache.WritePolicy

	// Environment is the deployment environment name (production, staging,
	// development, local).
	Environment string
}

// FromEnv assembles a Config from the environment. Unset knobs fall back to
// the library defaults; production environments get the strict cache write
// policy, everything else the lenient one.
func FromEnv() Config {
	environment := GetenvOrDefault(EnvEnvironmentName, "local")

	failureThreshold := GetenvIntOrDefault(EnvBreakerFailures, circuitbreaker.DefaultConsecutiveFailures)
	if failureThreshold < 1 {
		failureThreshold = circuitbreaker.DefaultConsecutiveFailures
	}

	writePolicy := cache.WriteLenient
	if environment == "production" {
		writePolicy = cache.WriteStrict
	}

	return Config{
		CachePrimary: CacheProvider{
			Address:  GetenvOrDefault(EnvCachePrimaryAddress, ""),
			Password: GetenvOrDefault(EnvCachePrimaryPassword, ""),
		},
		CacheSecondary: CacheProvider{
			Address:  GetenvOrDefault(EnvCacheSecondaryAddress, ""),
			Password: GetenvOrDefault(EnvCacheSecondaryPassword, ""),
		},
		DataStorePrimary: DataStoreProvider{
			URI:      GetenvOrDefault(EnvDBPrimaryURI, ""),
			Database: GetenvOrDefault(EnvDBPrimaryName, ""),
		},
		DataStoreSecondary: DataStoreProvider{
			URI:      GetenvOrDefault(EnvDBSecondaryURI, ""),
			Database: GetenvOrDefault(EnvDBSecondaryName, ""),
		},
		Breaker: circuitbreaker.Config{
			ConsecutiveFailures: uint32(failureThreshold), //nolint:gosec // clamped above
			OpenTimeout:         GetenvDurationOrDefault(EnvBreakerResetWindow, circuitbreaker.DefaultOpenTimeout),
		},
		DBOperationTimeout: GetenvDurationOrDefault(EnvDBOperationTimeout, datastore.DefaultOperationTimeout),
		CacheWritePolicy:   writePolicy,
		Environment:        environment,
	}
}

// CacheClientConfig builds a cache provider client config from p. Returns a
// zero value when the provider is unconfigured; callers should check
// Configured first.
func (c Config) CacheClientConfig(p CacheProvider, logger log.Logger) cache.ClientConfig {
	cfg := cache.ClientConfig{
		Topology: cache.Topology{
			Standalone: &cache.StandaloneTopology{Address: p.Address},
		},
		Logger: logger,
	}

	if p.Password != "" {
		cfg.Auth = cache.Auth{
			StaticPassword: &cache.StaticPasswordAuth{Password: p.Password},
		}
	}

	return cfg
}

// DataStoreClientConfig builds a datastore provider client config from p.
func (c Config) DataStoreClientConfig(p DataStoreProvider, logger log.Logger) datastore.ClientConfig {
	return datastore.ClientConfig{
		URI:      p.URI,
		Database: p.Database,
		Logger:   logger,
	}
}
