/*
Package ratelimit implements per-provider admission control with a
token bucket shared through the backing store.

Each bucket's state (tokens, last_refill) lives in a Redis hash and
is refilled and consumed inside a single Lua script, so any number of
worker processes draw from one budget without racing. The Manager
maps provider names to buckets and offers a non-blocking TryAcquire
for the dispatch path plus a polling AwaitCapacity for callers that
would rather wait than be rejected.
*/
package ratelimit
