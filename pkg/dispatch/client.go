package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncbridge/syncbridge/pkg/log"
	"github.com/syncbridge/syncbridge/pkg/ratelimit"
	"github.com/syncbridge/syncbridge/pkg/transform"
	"github.com/syncbridge/syncbridge/pkg/types"
)

// Transport retry envelope: up to 3 attempts on connection/timeout
// errors, exponential wait clamped to [4s, 10s].
const (
	maxTransportAttempts = 3
	transportWaitMin     = 4 * time.Second
	transportWaitMax     = 10 * time.Second
)

// Client produces destination HTTP requests for one provider. It
// honors the shared rate limiter per request and owns the provider's
// auth lifecycle.
type Client struct {
	cfg         *types.ProviderConfig
	limiter     *ratelimit.Manager
	transformer *transform.Transformer
	httpClient  *http.Client
	logger      zerolog.Logger

	authMu      sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient builds a client for the provider. The embedded
// http.Client provides pooling, TLS, and the per-request timeout.
func NewClient(cfg *types.ProviderConfig, limiter *ratelimit.Manager, transformer *transform.Transformer) *Client {
	return &Client{
		cfg:         cfg,
		limiter:     limiter,
		transformer: transformer,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		logger: log.WithProvider(cfg.Name),
	}
}

// Execute dispatches one operation and returns the decoded provider
// response.
func (c *Client) Execute(ctx context.Context, kind types.OperationKind, recordID string, record types.Record) (map[string]any, error) {
	var payload map[string]any
	if kind == types.OpCreate || kind == types.OpUpdate {
		mappings := transform.DefaultMappings(c.cfg.Kind)
		body, err := c.transformer.Transform(record, mappings, transform.InternalToExternal)
		if err != nil {
			return nil, err
		}
		payload = body
	}

	method, path, err := route(c.cfg.Kind, kind, recordID)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Str("kind", string(kind)).
		Msg("dispatching request")

	return c.do(ctx, method, path, payload)
}

// do runs one logical request: admission check, auth, transport
// retries, status taxonomy, and at most one reactive re-auth on 401.
func (c *Client) do(ctx context.Context, method, path string, payload map[string]any) (map[string]any, error) {
	allowed, err := c.limiter.TryAcquire(ctx, c.cfg.Name, 1)
	if err != nil {
		return nil, fmt.Errorf("admission check: %w", err)
	}
	if !allowed {
		return nil, &RateLimitedError{Provider: c.cfg.Name}
	}

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}

	reauthed := false
	for {
		resp, err := c.send(ctx, method, path, body)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			c.logger.Warn().Msg("rate limited by provider")
			return nil, &RateLimitedError{Provider: c.cfg.Name, Upstream: true}

		case resp.StatusCode == http.StatusUnauthorized:
			resp.Body.Close()
			if reauthed {
				return nil, &AuthError{Provider: c.cfg.Name, Reason: "unauthorized after re-authentication"}
			}
			reauthed = true
			c.logger.Warn().Msg("unauthorized response, re-authenticating")
			c.invalidateToken()
			if err := c.ensureAuth(ctx); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return decodeResponse(resp)

		default:
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, &APIError{
				Provider:   c.cfg.Name,
				StatusCode: resp.StatusCode,
				Message:    strings.TrimSpace(string(detail)),
			}
		}
	}
}

// send performs the HTTP exchange with transport-level retries. The
// request is rebuilt each attempt because the body reader is
// consumed.
func (c *Client) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxTransportAttempts; attempt++ {
		if attempt > 1 {
			wait := transportWait(attempt - 1)
			c.logger.Warn().
				Int("attempt", attempt).
				Dur("wait", wait).
				Err(lastErr).
				Msg("transport error, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
		if err != nil {
			return nil, &APIError{Provider: c.cfg.Name, Message: err.Error()}
		}
		req.Header.Set("Content-Type", "application/json")
		c.setAuthHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, &APIError{
		Provider: c.cfg.Name,
		Message:  fmt.Sprintf("transport failed after %d attempts: %v", maxTransportAttempts, lastErr),
	}
}

// transportWait is 2^n seconds clamped to the [min, max] envelope.
func transportWait(n int) time.Duration {
	wait := time.Duration(1<<uint(n)) * time.Second
	if wait < transportWaitMin {
		wait = transportWaitMin
	}
	if wait > transportWaitMax {
		wait = transportWaitMax
	}
	return wait
}

// decodeResponse returns the JSON body as a map; non-JSON success
// bodies are wrapped verbatim.
func decodeResponse(resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("reading response body: %v", err)}
	}

	if strings.HasPrefix(contentType, "application/json") && len(data) > 0 {
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("decoding response body: %v", err)}
		}
		return out, nil
	}
	return map[string]any{"status": "success", "data": string(data)}, nil
}
