//go:build unit

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/LerianStudio/lib-failover/failover/circuitbreaker"
	"github.com/LerianStudio/lib-failover/failover/log"
	"github.com/LerianStudio/lib-failover/failover/provider"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerFixture struct {
	router    *Router
	primary   *miniredis.Miniredis
	secondary *miniredis.Miniredis
}

func newRouterFixture(t *testing.T, policy WritePolicy) *routerFixture {
	t.Helper()

	primary := miniredis.RunT(t)
	secondary := miniredis.RunT(t)

	primaryClient, err := NewClient(newStandaloneConfig(primary.Addr()))
	require.NoError(t, err)

	secondaryClient, err := NewClient(newStandaloneConfig(secondary.Addr()))
	require.NoError(t, err)

	router := NewRouter(RouterConfig{
		Primary:   primaryClient,
		Secondary: secondaryClient,
		Breaker: circuitbreaker.Config{
			ConsecutiveFailures: 3,
			OpenTimeout:         time.Minute,
		},
		WritePolicy: policy,
		Logger:      &log.NopLogger{},
	})
	t.Cleanup(func() { _ = router.Close() })

	return &routerFixture{router: router, primary: primary, secondary: secondary}
}

func TestRouter_SetGetViaPrimary(t *testing.T) {
	f := newRouterFixture(t, WriteStrict)
	ctx := context.Background()

	require.NoError(t, f.router.Set(ctx, "greeting", "hello", 0))

	value, err := f.router.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	// The write landed on the primary only; there is no replication.
	got, err := f.primary.Get("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.False(t, f.secondary.Exists("greeting"))
}

func TestRouter_AssemblesWithUnreachablePrimary(t *testing.T) {
	secondary := miniredis.RunT(t)

	// Nothing listens on the primary address at assembly time.
	primaryClient, err := NewClient(newStandaloneConfig("127.0.0.1:1"))
	require.NoError(t, err)

	secondaryClient, err := NewClient(newStandaloneConfig(secondary.Addr()))
	require.NoError(t, err)

	router := NewRouter(RouterConfig{
		Primary:   primaryClient,
		Secondary: secondaryClient,
		Breaker: circuitbreaker.Config{
			ConsecutiveFailures: 3,
			OpenTimeout:         time.Minute,
		},
		Logger: &log.NopLogger{},
	})
	t.Cleanup(func() { _ = router.Close() })

	ctx := context.Background()

	require.NoError(t, router.Set(ctx, "greeting", "hello", 0))

	value, err := router.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	got, err := secondary.Get("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestRouter_GetMissingKey(t *testing.T) {
	f := newRouterFixture(t, WriteStrict)

	value, err := f.router.Get(context.Background(), "no-such-key")
	require.NoError(t, err)
	assert.Nil(t, value)

	// A miss is a successful read; the primary breaker stays clean.
	assert.Equal(t, uint32(0), f.router.Breakers().GetCounts(provider.Primary.String()).ConsecutiveFailures)
}

func TestRouter_JSONRoundTrip(t *testing.T) {
	f := newRouterFixture(t, WriteStrict)
	ctx := context.Background()

	original := map[string]any{"holder": "acct-1", "balance": float64(250)}
	require.NoError(t, f.router.Set(ctx, "account", original, 0))

	value, err := f.router.Get(ctx, "account")
	require.NoError(t, err)
	assert.Equal(t, original, value)
}

func TestRouter_FailoverTransparency(t *testing.T) {
	f := newRouterFixture(t, WriteStrict)
	ctx := context.Background()

	f.primary.SetError("primary is down")

	require.NoError(t, f.router.Set(ctx, "greeting", "hello", 0))

	value, err := f.router.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	// Both operations were served by the secondary.
	got, err := f.secondary.Get("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	// One breaker failure per operation on the primary, none on the secondary.
	assert.Equal(t, uint32(2), f.router.Breakers().GetCounts(provider.Primary.String()).ConsecutiveFailures)
	assert.Equal(t, uint32(0), f.router.Breakers().GetCounts(provider.Secondary.String()).ConsecutiveFailures)
}

func TestRouter_BreakerTripsAndSkipsPrimary(t *testing.T) {
	f := newRouterFixture(t, WriteStrict)
	ctx := context.Background()

	f.primary.SetError("primary is down")

	for i := 0; i < 3; i++ {
		_, err := f.router.Get(ctx, "k")
		require.NoError(t, err)
	}

	assert.Equal(t, circuitbreaker.StateOpen, f.router.Breakers().GetState(provider.Primary.String()))
	assert.Equal(t, provider.Secondary, f.router.Snapshot().ActiveProvider)

	// Primary recovers, but the open breaker keeps skipping it until the
	// reset window elapses: the write still lands on the secondary.
	f.primary.SetError("")

	require.NoError(t, f.router.Set(ctx, "after-trip", "v", 0))
	assert.False(t, f.primary.Exists("after-trip"))
	assert.True(t, f.secondary.Exists("after-trip"))
}

func TestRouter_TotalOutageReads(t *testing.T) {
	f := newRouterFixture(t, WriteStrict)
	ctx := context.Background()

	f.primary.SetError("down")
	f.secondary.SetError("down")

	value, err := f.router.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, value)

	count, err := f.router.Exists(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, count)

	ttl, err := f.router.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)

	keys, err := f.router.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRouter_TotalOutageWrites(t *testing.T) {
	t.Run("strict policy propagates", func(t *testing.T) {
		f := newRouterFixture(t, WriteStrict)
		f.primary.SetError("down")
		f.secondary.SetError("down")

		err := f.router.Set(context.Background(), "k", "v", 0)
		require.Error(t, err)
		assert.ErrorIs(t, err, provider.ErrAllUnavailable)

		_, err = f.router.Incr(context.Background(), "counter")
		assert.ErrorIs(t, err, provider.ErrAllUnavailable)
	})

	t.Run("lenient policy drops the write", func(t *testing.T) {
		f := newRouterFixture(t, WriteLenient)
		f.primary.SetError("down")
		f.secondary.SetError("down")

		assert.NoError(t, f.router.Set(context.Background(), "k", "v", 0))
	})
}

func TestRouter_SetWithExpiry(t *testing.T) {
	f := newRouterFixture(t, WriteStrict)
	ctx := context.Background()

	require.NoError(t, f.router.SetWithExpiry(ctx, "session", 60, "token"))

	ttl, err := f.router.TTL(ctx, "session")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 60*time.Second)
}

func TestRouter_DelAndExists(t *testing.T) {
	f := newRouterFixture(t, WriteStrict)
	ctx := context.Background()

	require.NoError(t, f.router.Set(ctx, "a", "1", 0))
	require.NoError(t, f.router.Set(ctx, "b", "2", 0))

	count, err := f.router.Exists(ctx, "a", "b", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	removed, err := f.router.Del(ctx, "a", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	value, err := f.router.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestRouter_Incr(t *testing.T) {
	f := newRouterFixture(t, WriteStrict)
	ctx := context.Background()

	first, err := f.router.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	second, err := f.router.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), second)
}

func TestRouter_ExpireAndTTL(t *testing.T) {
	f := newRouterFixture(t, WriteStrict)
	ctx := context.Background()

	require.NoError(t, f.router.Set(ctx, "k", "v", 0))

	ok, err := f.router.Expire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.router.Expire(ctx, "missing", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRouter_Sets(t *testing.T) {
	f := newRouterFixture(t, WriteStrict)
	ctx := context.Background()

	added, err := f.router.SAdd(ctx, "tags", "a", "b", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), added)

	removed, err := f.router.SRem(ctx, "tags", "a", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestRouter_Keys(t *testing.T) {
	f := newRouterFixture(t, WriteStrict)
	ctx := context.Background()

	require.NoError(t, f.router.Set(ctx, "user:1", "a", 0))
	require.NoError(t, f.router.Set(ctx, "user:2", "b", 0))
	require.NoError(t, f.router.Set(ctx, "order:1", "c", 0))

	keys, err := f.router.Keys(ctx, "user:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:1", "user:2"}, keys)
}

func TestRouter_Eval(t *testing.T) {
	f := newRouterFixture(t, WriteStrict)
	ctx := context.Background()

	result, err := f.router.Eval(ctx, `return redis.call("SET", KEYS[1], ARGV[1])`, []string{"script-key"}, "script-value")
	require.NoError(t, err)
	assert.NotNil(t, result)

	value, err := f.router.Get(ctx, "script-key")
	require.NoError(t, err)
	assert.Equal(t, "script-value", value)
}

func TestRouter_SnapshotPrimaryOnly(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(newStandaloneConfig(mr.Addr()))
	require.NoError(t, err)

	router := NewRouter(RouterConfig{
		Primary: client,
		Breaker: circuitbreaker.DefaultConfig(),
		Logger:  &log.NopLogger{},
	})
	t.Cleanup(func() { _ = router.Close() })

	snapshot := router.Snapshot()

	assert.Equal(t, provider.Primary, snapshot.ActiveProvider)
	assert.True(t, snapshot.Providers[provider.Primary].Configured)
	assert.True(t, snapshot.Providers[provider.Primary].Available)
	assert.False(t, snapshot.Providers[provider.Secondary].Configured)
}

func TestRouter_CloseTearsDownBothProviders(t *testing.T) {
	f := newRouterFixture(t, WriteStrict)
	ctx := context.Background()

	// Open the primary breaker first: teardown must not depend on breaker
	// state.
	f.primary.SetError("down")

	for i := 0; i < 3; i++ {
		_, _ = f.router.Get(ctx, "k")
	}

	require.Equal(t, circuitbreaker.StateOpen, f.router.Breakers().GetState(provider.Primary.String()))

	require.NoError(t, f.router.Close())
}

func TestRouter_NoProvidersConfigured(t *testing.T) {
	router := NewRouter(RouterConfig{
		Breaker: circuitbreaker.DefaultConfig(),
		Logger:  &log.NopLogger{},
	})

	value, err := router.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Nil(t, value)

	err = router.Set(context.Background(), "k", "v", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrAllUnavailable)
	assert.ErrorIs(t, err, provider.ErrNotConfigured)

	assert.Equal(t, provider.None, router.Snapshot().ActiveProvider)
}
