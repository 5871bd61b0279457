package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/LerianStudio/lib-failover/failover/circuitbreaker"
	"github.com/LerianStudio/lib-failover/failover/log"
	libOpentelemetry "github.com/LerianStudio/lib-failover/failover/opentelemetry"
	"github.com/LerianStudio/lib-failover/failover/provider"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultOperationTimeout bounds each provider attempt of a dispatched
// operation.
const DefaultOperationTimeout = 5 * time.Second

// RouterConfig assembles a datastore failover router. A nil provider client
// disables that provider.
type RouterConfig struct {
	Primary          *Client
	Secondary        *Client
	Breaker          circuitbreaker.Config
	OperationTimeout time.Duration
	Logger           log.Logger
}

// Router dispatches arbitrary typed operations to whichever MongoDB provider
// is currently eligible, applying the shared breaker/timeout failover
// algorithm per attempt.
type Router struct {
	clients map[provider.Provider]*Client
	engine  *provider.Engine
	logger  log.Logger
}

// NewRouter wires the configured provider clients to a failover engine.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = &log.NopLogger{}
	}

	operationTimeout := cfg.OperationTimeout
	if operationTimeout <= 0 {
		operationTimeout = DefaultOperationTimeout
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
		Name:           "datastore",
		Providers:      order,
		Breaker:        cfg.Breaker,
		AttemptTimeout: operationTimeout,
		Logger:         logger,
		SpanAttributes: []attribute.KeyValue{
			attribute.String(libOpentelemetry.AttrDBSystem, libOpentelemetry.DBSystemMongoDB),
		},
	})

	return &Router{
		clients: clients,
		engine:  engine,
		logger:  logger,
	}
}

// Operation is one typed unit of work executed against a provider's
// database handle. Implementations must honor ctx: it carries the
// per-attempt timeout.
type Operation[T any] func(ctx context.Context, db *mongo.Database) (T, error)

// Execute dispatches op under the failover algorithm and returns the first
// successful result. opName names the logical entity.method call for spans
// and logs (e.g. "orders.findOne").
//
// The call site stays fully typed: T is fixed by the operation, not erased
// through reflection.
func Execute[T any](ctx context.Context, r *Router, opName string, op Operation[T]) (T, error) {
	value, _, err := provider.Execute(ctx, r.engine, opName, func(ctx context.Context, p provider.Provider) (T, error) {
		var zero T

		db, err := r.clients[p].ResolveDatabase(ctx)
		if err != nil {
			return zero, err
		}

		return op(ctx, db)
	})

	return value, err
}

// RunTransaction executes fn inside a session transaction on the first
// eligible provider. The callback is one attempt: it commits or fails on a
// single provider and is never resumed on the other.
func (r *Router) RunTransaction(ctx context.Context, fn TransactionFunc) (any, error) {
	result, _, err := provider.Execute(ctx, r.engine, "transaction", func(ctx context.Context, p provider.Provider) (any, error) {
		return r.clients[p].RunTransaction(ctx, fn)
	})

	return result, err
}

// Connect establishes connections to every configured provider. A single
// provider failing to connect is logged and tolerated (its breaker will
// handle it); an error is returned only when no provider connected.
func (r *Router) Connect(ctx context.Context) error {
	var errs []error

	connected := 0

	for p, client := range r.clients {
		if err := client.Connect(ctx); err != nil {
			r.logger.Log(ctx, log.LevelWarn, "datastore provider failed to connect",
				log.String("provider", p.String()), log.Err(err))

			errs = append(errs, &provider.AttemptError{Provider: p, Operation: "connect", Err: err})

			continue
		}

		connected++
	}

	if connected == 0 && len(r.clients) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Disconnect tears down every configured provider unconditionally,
// regardless of breaker state, to avoid leaking connections.
func (r *Router) Disconnect(ctx context.Context) error {
	var errs []error

	for p, client := range r.clients {
		if err := client.Close(ctx); err != nil {
			errs = append(errs, &provider.AttemptError{Provider: p, Operation: "disconnect", Err: err})
		}
	}

	return errors.Join(errs...)
}

// Snapshot reports the active provider and per-provider breaker status.
func (r *Router) Snapshot() provider.Snapshot {
	return r.engine.Snapshot()
}

// Breakers exposes the router's breaker manager for health reporting.
func (r *Router) Breakers() circuitbreaker.Manager {
	return r.engine.Breakers()
}
