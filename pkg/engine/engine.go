package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/syncbridge/syncbridge/pkg/dispatch"
	"github.com/syncbridge/syncbridge/pkg/log"
	"github.com/syncbridge/syncbridge/pkg/metrics"
	"github.com/syncbridge/syncbridge/pkg/ratelimit"
	"github.com/syncbridge/syncbridge/pkg/registry"
	"github.com/syncbridge/syncbridge/pkg/store"
	"github.com/syncbridge/syncbridge/pkg/transform"
	"github.com/syncbridge/syncbridge/pkg/types"
)

// ErrOperationNotFound is returned by Status when no tier holds the
// operation.
var ErrOperationNotFound = errors.New("operation not found")

// UnknownProviderError rejects submissions against unregistered
// providers.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider: %q", e.Provider)
}

// Engine couples the queue tiers, the rate limiter, the schema
// transformer, and the dispatch clients into the sync processor.
type Engine struct {
	store       store.Store
	registry    *registry.Registry
	limiter     *ratelimit.Manager
	transformer *transform.Transformer
	hourly      *metrics.HourlyCounters
	logger      zerolog.Logger

	clientMu sync.RWMutex
	clients  map[string]*dispatch.Client

	// Worker lifecycle.
	workerMu   sync.Mutex
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	popTimeout time.Duration
}

// New builds an engine over the given store.
func New(st store.Store) *Engine {
	return &Engine{
		store:       st,
		registry:    registry.New(),
		limiter:     ratelimit.NewManager(st),
		transformer: transform.New(),
		hourly:      metrics.NewHourlyCounters(st),
		logger:      log.WithComponent("engine"),
		clients:     make(map[string]*dispatch.Client),
		popTimeout:  5 * time.Second,
	}
}

// Limiter exposes the rate limiter manager for the query surface.
func (e *Engine) Limiter() *ratelimit.Manager { return e.limiter }

// Transformer exposes the schema transformer so callers can register
// custom value functions.
func (e *Engine) Transformer() *transform.Transformer { return e.transformer }

// Providers lists registered provider names.
func (e *Engine) Providers() []string { return e.registry.List() }

// Ping reports backing-store reachability.
func (e *Engine) Ping(ctx context.Context) error { return e.store.Ping(ctx) }

// RegisterProvider validates and installs (or replaces) a provider:
// registry entry, rate bucket, and dispatch client.
func (e *Engine) RegisterProvider(cfg *types.ProviderConfig) error {
	if err := e.registry.Register(cfg); err != nil {
		return err
	}
	e.limiter.Register(cfg.Name, cfg.RateLimitPerMinute, cfg.BurstLimit)

	e.clientMu.Lock()
	e.clients[cfg.Name] = dispatch.NewClient(cfg, e.limiter, e.transformer)
	e.clientMu.Unlock()

	e.logger.Info().
		Str("provider", cfg.Name).
		Str("kind", string(cfg.Kind)).
		Msg("provider registered")
	return nil
}

// DeregisterProvider removes a provider. Operations already queued
// against it will terminate in the failed tier.
func (e *Engine) DeregisterProvider(name string) error {
	if !e.registry.Deregister(name) {
		return &UnknownProviderError{Provider: name}
	}
	e.limiter.Deregister(name)

	e.clientMu.Lock()
	delete(e.clients, name)
	e.clientMu.Unlock()

	e.logger.Info().Str("provider", name).Msg("provider removed")
	return nil
}

func (e *Engine) clientFor(name string) (*dispatch.Client, *types.ProviderConfig, bool) {
	cfg, ok := e.registry.Get(name)
	if !ok {
		return nil, nil, false
	}
	e.clientMu.RLock()
	client, ok := e.clients[name]
	e.clientMu.RUnlock()
	return client, cfg, ok
}

// Submit validates an operation and enqueues it into the pending
// tier at its priority. The assigned operation id is returned.
func (e *Engine) Submit(ctx context.Context, op *types.Operation) (uuid.UUID, error) {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	if op.Priority == 0 {
		op.Priority = types.DefaultPriority
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	if err := op.Validate(); err != nil {
		return uuid.Nil, err
	}
	if _, ok := e.registry.Get(op.Provider); !ok {
		return uuid.Nil, &UnknownProviderError{Provider: op.Provider}
	}

	payload, err := encodeOperation(op)
	if err != nil {
		return uuid.Nil, err
	}
	if err := e.store.ZAdd(ctx, string(TierPending), float64(op.Priority), payload); err != nil {
		return uuid.Nil, fmt.Errorf("enqueueing operation: %w", err)
	}

	if err := e.hourly.Incr(ctx, metrics.CounterSubmitted, 1); err != nil {
		e.logger.Warn().Err(err).Msg("failed to update submission counter")
	}
	metrics.OperationsSubmitted.WithLabelValues(op.Provider, string(op.Kind)).Inc()

	e.logger.Info().
		Str("operation_id", op.ID.String()).
		Str("kind", string(op.Kind)).
		Str("provider", op.Provider).
		Int("priority", op.Priority).
		Msg("operation submitted")
	return op.ID, nil
}

// Status scans all five tiers for the operation and reports its
// state, derived from the tier that holds it.
func (e *Engine) Status(ctx context.Context, id uuid.UUID) (*types.Result, error) {
	for _, tier := range orderedTiers {
		var members []string
		var err error
		if tier.sorted() {
			members, err = e.store.ZRangeAll(ctx, string(tier))
		} else {
			members, err = e.store.LRangeAll(ctx, string(tier))
		}
		if err != nil {
			return nil, fmt.Errorf("scanning tier %s: %w", tier, err)
		}

		for _, member := range members {
			op, err := decodeOperation(member)
			if err != nil {
				continue
			}
			if op.ID == id {
				return &types.Result{
					OperationID:  op.ID,
					Status:       statusFor(tier),
					Provider:     op.Provider,
					ExternalID:   op.ExternalID,
					StartedAt:    op.StartedAt,
					CompletedAt:  op.CompletedAt,
					ErrorMessage: op.ErrorMessage,
					RetryCount:   op.RetryCount,
					ResponseData: op.ResponseData,
				}, nil
			}
		}
	}
	return nil, ErrOperationNotFound
}

// QueueMetrics computes live tier depths and the current hour's
// throughput, and refreshes the queue-depth gauges.
func (e *Engine) QueueMetrics(ctx context.Context) (*types.QueueMetrics, error) {
	pending, err := e.store.ZCard(ctx, string(TierPending))
	if err != nil {
		return nil, fmt.Errorf("reading pending depth: %w", err)
	}
	inFlight, err := e.store.ZCard(ctx, string(TierInFlight))
	if err != nil {
		return nil, fmt.Errorf("reading in-flight depth: %w", err)
	}
	deadLettered, err := e.store.LLen(ctx, string(TierDeadLetter))
	if err != nil {
		return nil, fmt.Errorf("reading dead-letter depth: %w", err)
	}

	completed, err := e.hourly.Get(ctx, metrics.CounterCompleted)
	if err != nil {
		return nil, err
	}
	failed, err := e.hourly.Get(ctx, metrics.CounterFailed)
	if err != nil {
		return nil, err
	}

	errorRate := 0.0
	if completed+failed > 0 {
		errorRate = float64(failed) / float64(completed+failed)
	}

	metrics.QueueDepth.WithLabelValues(string(TierPending)).Set(float64(pending))
	metrics.QueueDepth.WithLabelValues(string(TierInFlight)).Set(float64(inFlight))
	metrics.QueueDepth.WithLabelValues(string(TierDeadLetter)).Set(float64(deadLettered))

	return &types.QueueMetrics{
		Pending:           pending,
		InFlight:          inFlight,
		DeadLettered:      deadLettered,
		CompletedLastHour: completed,
		FailedLastHour:    failed,
		ErrorRate:         errorRate,
	}, nil
}

// ProviderStatus reports the rate bucket for one provider.
func (e *Engine) ProviderStatus(ctx context.Context, name string) (*ratelimit.Status, error) {
	if _, ok := e.registry.Get(name); !ok {
		return nil, &UnknownProviderError{Provider: name}
	}
	return e.limiter.Status(ctx, name)
}

// ProviderMetrics reports every provider's bucket and refreshes the
// utilization gauges.
func (e *Engine) ProviderMetrics(ctx context.Context) (map[string]ratelimit.Status, error) {
	all, err := e.limiter.AllStatus(ctx)
	if err != nil {
		return nil, err
	}
	for name, st := range all {
		metrics.RateLimitUtilization.WithLabelValues(name).Set(st.Utilization)
	}
	return all, nil
}
