package dispatch

import "fmt"

// RateLimitedError means the request was rejected by admission
// control, either the local bucket or a provider 429. The worker is
// responsible for backoff and re-enqueue; the client never blocks.
type RateLimitedError struct {
	Provider string
	Upstream bool // true when the provider itself returned 429
}

func (e *RateLimitedError) Error() string {
	if e.Upstream {
		return fmt.Sprintf("provider %q returned 429", e.Provider)
	}
	return fmt.Sprintf("rate limit exceeded for provider %q", e.Provider)
}

// AuthError means authentication failed and the single reactive
// re-auth did not recover it.
type AuthError struct {
	Provider string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for provider %q: %s", e.Provider, e.Reason)
}

// APIError covers transport failures after retries and non-2xx
// responses outside the 429/401 special cases.
type APIError struct {
	Provider   string
	StatusCode int // 0 for transport-level failures
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("request to provider %q failed: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("provider %q returned %d: %s", e.Provider, e.StatusCode, e.Message)
}
