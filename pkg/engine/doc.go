/*
Package engine is the durable sync processor: submission, the five
queue tiers, the worker pool, and the status/metrics query surface.

An operation's life is a small state machine over backing-store
collections:

	pending ──pop──▶ in_flight ──ok──▶ completed
	                     │
	                     ├─ transient failure, retries left ──▶ pending (delayed)
	                     ├─ retries exhausted ────────────────▶ dead_letter
	                     └─ fatal (provider gone) ────────────▶ failed

The pending → in_flight handoff is a single atomic store script, so
a crashed worker can never lose an operation between tiers. Workers
are independent; any number of processes may drain the same store.
Delivery is at-least-once: a crash after dispatch but before terminal
routing re-dispatches on recovery.

Retries use exponential backoff recorded as a future scheduled_at on
the re-enqueued payload; workers that pop a not-yet-due operation
hand it straight back and nap briefly instead of spinning.
*/
package engine
