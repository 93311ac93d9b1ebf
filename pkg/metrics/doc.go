// Package metrics exposes process-local Prometheus collectors plus
// the cross-process hour-bucket counters kept in the backing store.
package metrics
