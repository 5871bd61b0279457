package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-failover/failover/circuitbreaker"
	"github.com/LerianStudio/lib-failover/failover/log"
	libOpentelemetry "github.com/LerianStudio/lib-failover/failover/opentelemetry"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Config assembles a failover engine for one router.
type Config struct {
	// Name identifies the router in spans and logs (e.g. "cache").
	Name string
	// Providers lists the configured providers in priority order. Providers
	// absent from this list are never attempted and never touch a breaker.
	Providers []Provider
	// Breaker is the per-provider circuit breaker policy.
	Breaker circuitbreaker.Config
	// AttemptTimeout bounds each provider attempt. Zero means the attempt
	// runs under the caller's context only.
	AttemptTimeout time.Duration
	// Logger receives failover decisions. Defaults to NopLogger.
	Logger log.Logger
	// SpanAttributes are attached to every operation span.
	SpanAttributes []attribute.KeyValue
}

// Engine runs one logical operation against a prioritized provider list,
// consulting each provider's circuit breaker and recording the outcome of
// every attempt. Breaker state is the only shared mutable state; it is
// process-local and owned by the breaker manager.
type Engine struct {
	name           string
	order          []Provider
	breakers       circuitbreaker.Manager
	attemptTimeout time.Duration
	logger         log.Logger
	spanAttrs      []attribute.KeyValue
}

// NewEngine creates a failover engine and eagerly registers one breaker per
// configured provider so snapshots are complete before the first operation.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = &log.NopLogger{}
	}

	breakers := circuitbreaker.NewManager(logger)

	order := make([]Provider, 0, len(cfg.Providers))

	for _, p := range cfg.Providers {
		if p != Primary && p != Secondary {
			continue
		}

		order = append(order, p)
		breakers.GetOrCreate(p.String(), cfg.Breaker)
	}

	return &Engine{
		name:           cfg.Name,
		order:          order,
		breakers:       breakers,
		attemptTimeout: cfg.AttemptTimeout,
		logger:         logger,
		spanAttrs:      cfg.SpanAttributes,
	}
}

// Breakers exposes the engine's breaker manager (health snapshots, tests).
func (e *Engine) Breakers() circuitbreaker.Manager {
	return e.breakers
}

// Order returns the configured provider priority order.
func (e *Engine) Order() []Provider {
	order := make([]Provider, len(e.order))
	copy(order, e.order)

	return order
}

// Configured reports whether the given provider participates in failover.
func (e *Engine) Configured(p Provider) bool {
	for _, candidate := range e.order {
		if candidate == p {
			return true
		}
	}

	return false
}

// Snapshot reports the active provider and per-provider breaker status.
// The active provider is the first configured provider whose breaker admits
// calls, or None when there is no such provider.
func (e *Engine) Snapshot() Snapshot {
	snapshot := Snapshot{
		ActiveProvider: None,
		Providers:      make(map[Provider]Status, 2),
	}

	for _, p := range []Provider{Primary, Secondary} {
		configured := e.Configured(p)

		status := Status{Configured: configured}
		if configured {
			status.Available = e.breakers.IsAvailable(p.String())
			status.FailureCount = e.breakers.GetCounts(p.String()).ConsecutiveFailures
		}

		snapshot.Providers[p] = status

		if snapshot.ActiveProvider == None && configured && status.Available {
			snapshot.ActiveProvider = p
		}
	}

	return snapshot
}

// Execute runs op against each eligible provider in priority order and
// returns the first successful result together with the provider that served
// it.
//
// Per attempt: the provider's breaker decides eligibility (an open breaker
// skips the provider without touching its counters), the attempt runs under
// the engine's timeout budget, and a timeout or driver error counts as a
// breaker failure before falling through to the next provider. There is no
// retry beyond the single primary-to-secondary hop; when nothing succeeds
// the caller receives ErrAllUnavailable.
func Execute[T any](ctx context.Context, e *Engine, opName string, op func(ctx context.Context, p Provider) (T, error)) (T, Provider, error) {
	var zero T

	tracer := otel.Tracer(e.name)

	ctx, span := tracer.Start(ctx, e.name+"."+opName)
	defer span.End()

	span.SetAttributes(e.spanAttrs...)
	span.SetAttributes(attribute.String(libOpentelemetry.AttrOperation, opName))

	if len(e.order) == 0 {
		err := fmt.Errorf("%w: %s: %w", ErrAllUnavailable, opName, ErrNotConfigured)
		libOpentelemetry.HandleSpanError(&span, "No providers configured", err)

		return zero, None, err
	}

	var lastErr error

	for _, p := range e.order {
		if err := ctx.Err(); err != nil {
			return zero, None, err
		}

		result, err := e.breakers.Execute(p.String(), func() (any, error) {
			value, attemptErr := Run(ctx, e.attemptTimeout, e.logger, opName, func(attemptCtx context.Context) (T, error) {
				return op(attemptCtx, p)
			})
			if attemptErr != nil {
				return nil, attemptErr
			}

			return value, nil
		})

		if err == nil {
			span.SetAttributes(attribute.String(libOpentelemetry.AttrProvider, p.String()))

			if p != e.order[0] {
				libOpentelemetry.HandleSpanEvent(&span, "failover",
					attribute.String(libOpentelemetry.AttrProvider, p.String()))

				e.logger.Log(ctx, log.LevelWarn, "operation served by fallback provider",
					log.String("router", e.name),
					log.String("operation", opName),
					log.String("provider", p.String()),
				)
			}

			typed, ok := result.(T)
			if !ok && result != nil {
				return zero, p, fmt.Errorf("%s: unexpected result type %T", opName, result)
			}

			return typed, p, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Breaker skipped the attempt; counters untouched.
			e.logger.Log(ctx, log.LevelDebug, "provider skipped by circuit breaker",
				log.String("router", e.name),
				log.String("operation", opName),
				log.String("provider", p.String()),
			)

			lastErr = err

			continue
		}

		attemptErr := &AttemptError{Provider: p, Operation: opName, Err: err}
		lastErr = attemptErr

		e.logger.Log(ctx, log.LevelWarn, "provider attempt failed",
			log.String("router", e.name),
			log.String("operation", opName),
			log.String("provider", p.String()),
			log.Err(err),
		)
	}

	err := fmt.Errorf("%w: %s: %w", ErrAllUnavailable, opName, lastErr)
	libOpentelemetry.HandleSpanError(&span, "All providers unavailable", err)

	return zero, None, err
}
