//go:build unit

package datastore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LerianStudio/lib-failover/failover/circuitbreaker"
	"github.com/LerianStudio/lib-failover/failover/log"
	"github.com/LerianStudio/lib-failover/failover/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func newFakeClient(t *testing.T, database string, deps clientDeps) *Client {
	t.Helper()

	cfg := baseConfig()
	cfg.Database = database

	client, err := NewClient(cfg, withDeps(deps))
	require.NoError(t, err)

	return client
}

func newTestRouter(t *testing.T, primaryDeps, secondaryDeps clientDeps) *Router {
	t.Helper()

	return NewRouter(RouterConfig{
		Primary:   newFakeClient(t, "primarydb", primaryDeps),
		Secondary: newFakeClient(t, "secondarydb", secondaryDeps),
		Breaker: circuitbreaker.Config{
			ConsecutiveFailures: 3,
			OpenTimeout:         time.Minute,
		},
		Logger: &log.NopLogger{},
	})
}

func TestRouterExecute_PrimaryServes(t *testing.T) {
	router := newTestRouter(t, successDeps(), successDeps())

	served, err := Execute(context.Background(), router, "orders.findOne", func(_ context.Context, db *mongo.Database) (string, error) {
		return db.Name(), nil
	})

	require.NoError(t, err)
	assert.Equal(t, "primarydb", served)
}

func TestRouterExecute_FallsBackOnOperationFailure(t *testing.T) {
	router := newTestRouter(t, successDeps(), successDeps())
	primaryDown := errors.New("socket was unexpectedly closed")

	served, err := Execute(context.Background(), router, "orders.findOne", func(_ context.Context, db *mongo.Database) (string, error) {
		if db.Name() == "primarydb" {
			return "", primaryDown
		}

		return db.Name(), nil
	})

	require.NoError(t, err)
	assert.Equal(t, "secondarydb", served)

	assert.Equal(t, uint32(1), router.Breakers().GetCounts(provider.Primary.String()).ConsecutiveFailures)
	assert.Equal(t, uint32(0), router.Breakers().GetCounts(provider.Secondary.String()).ConsecutiveFailures)
}

func TestRouterExecute_FallsBackOnConnectFailure(t *testing.T) {
	failingDeps := successDeps()
	failingDeps.connect = func(context.Context, *options.ClientOptions) (*mongo.Client, error) {
		return nil, errors.New("connection refused")
	}

	router := newTestRouter(t, failingDeps, successDeps())

	served, err := Execute(context.Background(), router, "orders.find", func(_ context.Context, db *mongo.Database) (string, error) {
		return db.Name(), nil
	})

	require.NoError(t, err)
	assert.Equal(t, "secondarydb", served)
}

func TestRouterExecute_AllProvidersFail(t *testing.T) {
	router := newTestRouter(t, successDeps(), successDeps())
	backendDown := errors.New("socket was unexpectedly closed")

	_, err := Execute(context.Background(), router, "orders.findOne", func(context.Context, *mongo.Database) (string, error) {
		return "", backendDown
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrAllUnavailable)
	assert.ErrorIs(t, err, backendDown)
}

func TestRouterExecute_OpenBreakerSkipsPrimary(t *testing.T) {
	router := newTestRouter(t, successDeps(), successDeps())
	primaryDown := errors.New("socket was unexpectedly closed")

	for i := 0; i < 3; i++ {
		_, err := Execute(context.Background(), router, "orders.findOne", func(_ context.Context, db *mongo.Database) (string, error) {
			if db.Name() == "primarydb" {
				return "", primaryDown
			}

			return db.Name(), nil
		})
		require.NoError(t, err)
	}

	require.Equal(t, circuitbreaker.StateOpen, router.Breakers().GetState(provider.Primary.String()))

	primaryAttempts := 0

	served, err := Execute(context.Background(), router, "orders.findOne", func(_ context.Context, db *mongo.Database) (string, error) {
		if db.Name() == "primarydb" {
			primaryAttempts++
		}

		return db.Name(), nil
	})

	require.NoError(t, err)
	assert.Equal(t, "secondarydb", served)
	assert.Zero(t, primaryAttempts)
}

func TestRouter_RunTransactionRoutesWithFailover(t *testing.T) {
	primaryDeps := successDeps()
	primaryDeps.runTransaction = func(context.Context, *mongo.Client, TransactionFunc) (any, error) {
		return nil, errors.New("transaction aborted")
	}

	secondaryDeps := successDeps()
	secondaryDeps.runTransaction = func(_ context.Context, _ *mongo.Client, fn TransactionFunc) (any, error) {
		return "committed-on-secondary", nil
	}

	router := newTestRouter(t, primaryDeps, secondaryDeps)

	result, err := router.RunTransaction(context.Background(), func(mongo.SessionContext) (any, error) {
		return nil, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "committed-on-secondary", result)
	assert.Equal(t, uint32(1), router.Breakers().GetCounts(provider.Primary.String()).ConsecutiveFailures)
}

func TestRouter_ConnectToleratesOneFailingProvider(t *testing.T) {
	failingDeps := successDeps()
	failingDeps.connect = func(context.Context, *options.ClientOptions) (*mongo.Client, error) {
		return nil, errors.New("connection refused")
	}

	router := newTestRouter(t, failingDeps, successDeps())

	assert.NoError(t, router.Connect(context.Background()))
}

func TestRouter_ConnectFailsWhenNoProviderConnects(t *testing.T) {
	failingDeps := successDeps()
	failingDeps.connect = func(context.Context, *options.ClientOptions) (*mongo.Client, error) {
		return nil, errors.New("connection refused")
	}

	router := newTestRouter(t, failingDeps, failingDeps)

	err := router.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnect)
}

func TestRouter_DisconnectTearsDownBothProviders(t *testing.T) {
	var disconnects atomic.Int32

	countingDeps := func() clientDeps {
		deps := successDeps()
		deps.disconnect = func(context.Context, *mongo.Client) error {
			disconnects.Add(1)

			return nil
		}

		return deps
	}

	router := newTestRouter(t, countingDeps(), countingDeps())

	require.NoError(t, router.Connect(context.Background()))

	// Open the primary breaker: teardown must not depend on breaker state.
	primaryDown := errors.New("socket was unexpectedly closed")

	for i := 0; i < 3; i++ {
		_, _ = Execute(context.Background(), router, "orders.findOne", func(_ context.Context, db *mongo.Database) (string, error) {
			if db.Name() == "primarydb" {
				return "", primaryDown
			}

			return db.Name(), nil
		})
	}

	require.Equal(t, circuitbreaker.StateOpen, router.Breakers().GetState(provider.Primary.String()))

	require.NoError(t, router.Disconnect(context.Background()))
	assert.Equal(t, int32(2), disconnects.Load())
}

func TestRouter_DisconnectJoinsErrors(t *testing.T) {
	failingDeps := successDeps()
	failingDeps.disconnect = func(context.Context, *mongo.Client) error {
		return errors.New("already closed")
	}

	router := newTestRouter(t, failingDeps, successDeps())
	require.NoError(t, router.Connect(context.Background()))

	err := router.Disconnect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDisconnect)
}

func TestRouter_SnapshotPrimaryOnly(t *testing.T) {
	router := NewRouter(RouterConfig{
		Primary: newFakeClient(t, "primarydb", successDeps()),
		Breaker: circuitbreaker.DefaultConfig(),
		Logger:  &log.NopLogger{},
	})

	snapshot := router.Snapshot()

	assert.Equal(t, provider.Primary, snapshot.ActiveProvider)
	assert.True(t, snapshot.Providers[provider.Primary].Configured)
	assert.False(t, snapshot.Providers[provider.Secondary].Configured)
}
