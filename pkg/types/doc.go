// Package types defines the core data structures shared across the
// syncbridge service: sync operations, provider configuration with
// tagged auth variants, schema field mappings, and the result and
// metrics shapes reported to callers.
package types
