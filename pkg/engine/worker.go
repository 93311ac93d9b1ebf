package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncbridge/syncbridge/pkg/log"
	"github.com/syncbridge/syncbridge/pkg/metrics"
	"github.com/syncbridge/syncbridge/pkg/types"
)

// Retry policy: delay doubles per attempt, capped at five minutes.
const maxRetryDelay = 300 * time.Second

// retryDelay computes the re-enqueue delay after the given (already
// incremented) retry count.
func retryDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	shift := uint(retryCount - 1)
	if shift > 8 {
		return maxRetryDelay
	}
	d := time.Duration(1<<shift) * time.Second
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

// StartWorkers launches n concurrent workers draining the pending
// tier. Idempotent while running.
func (e *Engine) StartWorkers(n int) {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()
	if e.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true

	for i := 0; i < n; i++ {
		e.wg.Add(1)
		go e.workerLoop(ctx, fmt.Sprintf("worker-%d", i))
	}
	e.logger.Info().Int("num_workers", n).Msg("workers started")
}

// StopWorkers signals all workers and waits for them. In-progress
// dispatches are allowed to complete.
func (e *Engine) StopWorkers() {
	e.workerMu.Lock()
	if !e.running {
		e.workerMu.Unlock()
		return
	}
	e.running = false
	e.cancel()
	e.workerMu.Unlock()

	e.wg.Wait()
	e.logger.Info().Msg("workers stopped")
}

// workerLoop pops operations from pending into in_flight and
// processes them until the engine stops. The pop is cancellable; the
// processing of a popped operation is not.
func (e *Engine) workerLoop(ctx context.Context, workerID string) {
	defer e.wg.Done()
	logger := log.WithWorkerID(workerID)
	logger.Info().Msg("worker started")

	for {
		if ctx.Err() != nil {
			logger.Info().Msg("worker stopped")
			return
		}

		member, score, ok, err := e.store.PopMinMove(ctx, string(TierPending), string(TierInFlight), e.popTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info().Msg("worker stopped")
				return
			}
			logger.Error().Err(err).Msg("worker pop failed")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if !ok {
			continue
		}

		// Processing runs to completion even during shutdown.
		e.process(context.Background(), ctx, member, score, logger)
	}
}

// process handles one popped operation: the scheduled_at gate,
// dispatch, and terminal or retry routing.
func (e *Engine) process(ctx, stopCtx context.Context, member string, score float64, logger zerolog.Logger) {
	op, err := decodeOperation(member)
	if err != nil {
		// Undecodable payloads can never dispatch; dead-letter them raw.
		logger.Error().Err(err).Msg("dropping undecodable payload to dead letter")
		e.moveToList(ctx, member, member, TierDeadLetter, logger)
		return
	}
	logger = logger.With().Str("operation_id", op.ID.String()).Logger()

	// Delayed-retry gate: not due yet, hand it back.
	if op.ScheduledAt != nil && op.ScheduledAt.After(time.Now()) {
		if _, err := e.store.ZRem(ctx, string(TierInFlight), member); err != nil {
			logger.Error().Err(err).Msg("failed to release scheduled operation")
			return
		}
		if err := e.store.ZAdd(ctx, string(TierPending), score, member); err != nil {
			logger.Error().Err(err).Msg("failed to re-enqueue scheduled operation")
			return
		}
		wait := time.Until(*op.ScheduledAt)
		if wait > time.Second {
			wait = time.Second
		}
		select {
		case <-stopCtx.Done():
		case <-time.After(wait):
		}
		return
	}

	client, cfg, ok := e.clientFor(op.Provider)
	if !ok {
		// Provider vanished after submit: fatal, no retry budget spent.
		op.ErrorMessage = fmt.Sprintf("unknown provider: %q", op.Provider)
		logger.Error().Str("provider", op.Provider).Msg("provider not configured, routing to failed tier")
		e.routeTerminal(ctx, member, op, TierFailed, logger)
		e.countFailure(ctx, op)
		return
	}

	started := time.Now().UTC()
	op.StartedAt = &started

	logger.Info().
		Str("kind", string(op.Kind)).
		Str("provider", op.Provider).
		Msg("processing operation")

	response, err := client.Execute(ctx, op.Kind, op.RecordID, op.Record)
	metrics.DispatchDuration.WithLabelValues(op.Provider, string(op.Kind)).
		Observe(time.Since(started).Seconds())

	if err == nil {
		completed := time.Now().UTC()
		op.CompletedAt = &completed
		op.ResponseData = response
		op.ErrorMessage = ""
		if op.Kind == types.OpCreate {
			if id, ok := externalID(response); ok {
				op.ExternalID = id
			}
		}
		e.routeTerminal(ctx, member, op, TierCompleted, logger)
		if err := e.hourly.Incr(ctx, metrics.CounterCompleted, 1); err != nil {
			logger.Warn().Err(err).Msg("failed to update completion counter")
		}
		metrics.OperationsCompleted.WithLabelValues(op.Provider, string(op.Kind)).Inc()
		logger.Info().Msg("operation completed")
		return
	}

	op.ErrorMessage = err.Error()
	if op.RetryCount < cfg.MaxRetries {
		op.RetryCount++
		delay := retryDelay(op.RetryCount)
		due := time.Now().UTC().Add(delay)
		op.ScheduledAt = &due

		payload, encErr := encodeOperation(op)
		if encErr != nil {
			logger.Error().Err(encErr).Msg("failed to encode retry payload")
			e.routeTerminal(ctx, member, op, TierDeadLetter, logger)
			e.countFailure(ctx, op)
			return
		}
		if _, err := e.store.ZRem(ctx, string(TierInFlight), member); err != nil {
			logger.Error().Err(err).Msg("failed to release operation for retry")
			return
		}
		if err := e.store.ZAdd(ctx, string(TierPending), score, payload); err != nil {
			logger.Error().Err(err).Msg("failed to re-enqueue retry")
			return
		}
		metrics.OperationsRetried.WithLabelValues(op.Provider).Inc()
		logger.Warn().
			Err(err).
			Int("retry_count", op.RetryCount).
			Dur("delay", delay).
			Msg("operation scheduled for retry")
		return
	}

	e.routeTerminal(ctx, member, op, TierDeadLetter, logger)
	e.countFailure(ctx, op)
	logger.Error().
		Err(err).
		Int("retry_count", op.RetryCount).
		Msg("operation moved to dead letter after max retries")
}

// routeTerminal removes the in-flight member and appends the updated
// serialization to a terminal tier.
func (e *Engine) routeTerminal(ctx context.Context, member string, op *types.Operation, tier Tier, logger zerolog.Logger) {
	payload, err := encodeOperation(op)
	if err != nil {
		payload = member
	}
	e.moveToList(ctx, member, payload, tier, logger)
}

func (e *Engine) moveToList(ctx context.Context, member, payload string, tier Tier, logger zerolog.Logger) {
	if _, err := e.store.ZRem(ctx, string(TierInFlight), member); err != nil {
		logger.Error().Err(err).Str("tier", string(tier)).Msg("failed to remove in-flight member")
	}
	if err := e.store.LPush(ctx, string(tier), payload); err != nil {
		logger.Error().Err(err).Str("tier", string(tier)).Msg("failed to append to terminal tier")
	}
}

func (e *Engine) countFailure(ctx context.Context, op *types.Operation) {
	if err := e.hourly.Incr(ctx, metrics.CounterFailed, 1); err != nil {
		e.logger.Warn().Err(err).Msg("failed to update failure counter")
	}
	metrics.OperationsFailed.WithLabelValues(op.Provider, string(op.Kind)).Inc()
}

// externalID extracts the destination record id from a create
// response, tolerating numeric ids.
func externalID(response map[string]any) (string, bool) {
	v, ok := response["id"]
	if !ok || v == nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, x != ""
	case float64:
		return fmt.Sprintf("%.0f", x), true
	default:
		return fmt.Sprintf("%v", x), true
	}
}
