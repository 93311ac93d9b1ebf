package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/syncbridge/syncbridge/pkg/store"
)

// Hour-bucket counter names shared between the engine and the query
// surface.
const (
	CounterSubmitted = "operations_submitted"
	CounterCompleted = "operations_completed"
	CounterFailed    = "operations_failed"
)

// hourlyTTL is set when a counter is first touched so stale hour
// buckets garbage-collect themselves.
const hourlyTTL = 24 * time.Hour

// HourlyCounters tracks monotonically increasing counters keyed by
// the current UTC hour in the backing store, shared across worker
// processes.
type HourlyCounters struct {
	store store.Store
	now   func() time.Time
}

// NewHourlyCounters returns counters over the shared store.
func NewHourlyCounters(st store.Store) *HourlyCounters {
	return &HourlyCounters{store: st, now: time.Now}
}

func (h *HourlyCounters) key(name string) string {
	return fmt.Sprintf("metrics:%s:%s", h.now().UTC().Format("2006-01-02-15"), name)
}

// Incr adds n to the named counter for the current hour.
func (h *HourlyCounters) Incr(ctx context.Context, name string, n int64) error {
	key := h.key(name)
	v, err := h.store.IncrBy(ctx, key, n)
	if err != nil {
		return fmt.Errorf("incrementing %s: %w", key, err)
	}
	if v == n {
		// First touch this hour; arm the TTL.
		if err := h.store.Expire(ctx, key, hourlyTTL); err != nil {
			return fmt.Errorf("setting ttl on %s: %w", key, err)
		}
	}
	return nil
}

// Get reads the named counter for the current hour; missing counters
// read as zero.
func (h *HourlyCounters) Get(ctx context.Context, name string) (int64, error) {
	return h.store.GetInt64(ctx, h.key(name))
}
