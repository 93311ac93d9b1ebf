/*
Package store adapts Redis into the backing-store contract the rest
of syncbridge is written against.

All durable state lives behind the Store interface: the five queue
tiers (sorted sets and lists), per-provider token-bucket hashes, and
hour-bucket metric counters. Multi-step transitions that must be
crash-safe run as server-side Lua scripts; the pending → in_flight
handoff uses PopMinMove, which pops and re-adds in a single atomic
script so a worker crash cannot lose an operation between tiers.
*/
package store
