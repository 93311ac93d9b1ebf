package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncbridge/syncbridge/pkg/log"
	"github.com/syncbridge/syncbridge/pkg/store"
)

// Manager owns one TokenBucket per registered provider. Registration
// is an idempotent upsert; unknown providers fail open on acquire so
// a racing deregistration never wedges dispatch.
type Manager struct {
	store  store.Store
	logger zerolog.Logger

	mu      sync.RWMutex
	buckets map[string]*TokenBucket
}

// NewManager creates an empty manager over the shared store.
func NewManager(st store.Store) *Manager {
	return &Manager{
		store:   st,
		logger:  log.WithComponent("ratelimit"),
		buckets: make(map[string]*TokenBucket),
	}
}

// Register installs (or replaces) the bucket for a provider.
func (m *Manager) Register(provider string, ratePerMinute, burst int) {
	refillRate := float64(ratePerMinute) / 60.0

	m.mu.Lock()
	m.buckets[provider] = NewTokenBucket(m.store, provider, float64(burst), refillRate)
	m.mu.Unlock()

	m.logger.Info().
		Str("provider", provider).
		Int("rate_per_minute", ratePerMinute).
		Int("burst", burst).
		Float64("refill_rate", refillRate).
		Msg("rate limiter configured")
}

// Deregister removes the local bucket. Backing-store state lingers
// until its TTL expires.
func (m *Manager) Deregister(provider string) {
	m.mu.Lock()
	delete(m.buckets, provider)
	m.mu.Unlock()

	m.logger.Info().
		Str("provider", provider).
		Msg("rate limiter removed")
}

func (m *Manager) bucket(provider string) (*TokenBucket, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[provider]
	return b, ok
}

// TryAcquire attempts to deduct n tokens for the provider. Unknown
// providers are allowed through and logged.
func (m *Manager) TryAcquire(ctx context.Context, provider string, n float64) (bool, error) {
	b, ok := m.bucket(provider)
	if !ok {
		m.logger.Warn().
			Str("provider", provider).
			Msg("no rate limiter configured for provider, allowing request")
		return true, nil
	}

	allowed, err := b.Acquire(ctx, n)
	if err != nil {
		return false, err
	}
	if !allowed {
		m.logger.Warn().
			Str("provider", provider).
			Float64("tokens_requested", n).
			Msg("rate limit exceeded")
	}
	return allowed, nil
}

// AwaitCapacity loops TryAcquire until it succeeds, the timeout
// elapses, or ctx is cancelled. The sleep between attempts is the
// time n tokens take to refill, capped at one second.
func (m *Manager) AwaitCapacity(ctx context.Context, provider string, n float64, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		allowed, err := m.TryAcquire(ctx, provider, n)
		if err != nil {
			return false, err
		}
		if allowed {
			return true, nil
		}

		wait := 100 * time.Millisecond
		if b, ok := m.bucket(provider); ok && b.RefillRate() > 0 {
			wait = time.Duration(n / b.RefillRate() * float64(time.Second))
			if wait > time.Second {
				wait = time.Second
			}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			m.logger.Warn().
				Str("provider", provider).
				Float64("tokens", n).
				Dur("timeout", timeout).
				Msg("timeout waiting for rate limit capacity")
			return false, nil
		}
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Status reports the bucket state for one provider, nil when the
// provider has no bucket.
func (m *Manager) Status(ctx context.Context, provider string) (*Status, error) {
	b, ok := m.bucket(provider)
	if !ok {
		return nil, nil
	}
	return b.Status(ctx)
}

// AllStatus reports every registered bucket.
func (m *Manager) AllStatus(ctx context.Context) (map[string]Status, error) {
	m.mu.RLock()
	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		names = append(names, name)
	}
	m.mu.RUnlock()

	out := make(map[string]Status, len(names))
	for _, name := range names {
		st, err := m.Status(ctx, name)
		if err != nil {
			return nil, err
		}
		if st != nil {
			out[name] = *st
		}
	}
	return out, nil
}
