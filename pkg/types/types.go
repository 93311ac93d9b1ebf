package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OperationKind identifies the CRUD intent of a sync operation.
type OperationKind string

const (
	OpCreate OperationKind = "CREATE"
	OpRead   OperationKind = "READ"
	OpUpdate OperationKind = "UPDATE"
	OpDelete OperationKind = "DELETE"
)

// Valid reports whether k is a known operation kind.
func (k OperationKind) Valid() bool {
	switch k {
	case OpCreate, OpRead, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Status represents the lifecycle stage of a sync operation,
// derived from the tier that currently holds it.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusDeadLetter Status = "DEAD_LETTER"
)

// ProviderKind selects the wire dialect (URL shapes, update verb)
// for a destination.
type ProviderKind string

const (
	ProviderSalesforce ProviderKind = "salesforce"
	ProviderHubSpot    ProviderKind = "hubspot"
	ProviderPipedrive  ProviderKind = "pipedrive"
	ProviderCustom     ProviderKind = "custom"
)

// Valid reports whether k is a known provider kind.
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderSalesforce, ProviderHubSpot, ProviderPipedrive, ProviderCustom:
		return true
	}
	return false
}

// AuthType tags the authentication variant of a provider.
type AuthType string

const (
	AuthOAuth2 AuthType = "oauth2"
	AuthAPIKey AuthType = "api_key"
	AuthBasic  AuthType = "basic"
)

// OAuth2Credentials holds client-credentials (or refresh-token) grant
// material for OAuth2 providers.
type OAuth2Credentials struct {
	ClientID     string `json:"client_id" yaml:"client_id"`
	ClientSecret string `json:"client_secret" yaml:"client_secret"`
	TokenURL     string `json:"token_url" yaml:"token_url"`
	RefreshToken string `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
}

// APIKeyCredentials holds a static API key.
type APIKeyCredentials struct {
	Key string `json:"key" yaml:"key"`
}

// BasicCredentials holds HTTP basic auth material.
type BasicCredentials struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// AuthConfig is a tagged union: exactly the variant named by Type is
// set. Each variant owns its own credential shape.
type AuthConfig struct {
	Type   AuthType           `json:"type" yaml:"type"`
	OAuth2 *OAuth2Credentials `json:"oauth2,omitempty" yaml:"oauth2,omitempty"`
	APIKey *APIKeyCredentials `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Basic  *BasicCredentials  `json:"basic,omitempty" yaml:"basic,omitempty"`
}

// Validate checks that the variant matching Type is populated.
func (a *AuthConfig) Validate() error {
	switch a.Type {
	case AuthOAuth2:
		if a.OAuth2 == nil {
			return fmt.Errorf("auth type %q requires oauth2 credentials", a.Type)
		}
		if a.OAuth2.TokenURL == "" {
			return fmt.Errorf("oauth2 token_url is required")
		}
	case AuthAPIKey:
		if a.APIKey == nil || a.APIKey.Key == "" {
			return fmt.Errorf("auth type %q requires an api key", a.Type)
		}
	case AuthBasic:
		if a.Basic == nil || a.Basic.Username == "" {
			return fmt.Errorf("auth type %q requires username and password", a.Type)
		}
	default:
		return fmt.Errorf("unsupported auth type: %q", a.Type)
	}
	return nil
}

// Defaults applied by ProviderConfig.Normalize.
const (
	DefaultRatePerMinute  = 1000
	DefaultBurstLimit     = 100
	DefaultTimeoutSeconds = 30
	DefaultMaxRetries     = 3
)

// ProviderConfig describes one registered destination.
type ProviderConfig struct {
	Name               string       `json:"name" yaml:"name"`
	Kind               ProviderKind `json:"kind" yaml:"kind"`
	BaseURL            string       `json:"base_url" yaml:"base_url"`
	RateLimitPerMinute int          `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	BurstLimit         int          `json:"burst_limit" yaml:"burst_limit"`
	TimeoutSeconds     int          `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries         int          `json:"max_retries" yaml:"max_retries"`
	Auth               AuthConfig   `json:"auth" yaml:"auth"`
}

// Normalize fills unset numeric fields with defaults.
func (c *ProviderConfig) Normalize() {
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = DefaultRatePerMinute
	}
	if c.BurstLimit <= 0 {
		c.BurstLimit = DefaultBurstLimit
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
}

// Validate checks required fields and the auth variant.
func (c *ProviderConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("unsupported provider kind: %q", c.Kind)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("provider base_url is required")
	}
	return c.Auth.Validate()
}

// FieldMapping maps one internal field onto one external field, with
// an optional named transformer applied in between.
type FieldMapping struct {
	InternalField string `json:"internal_field" yaml:"internal_field"`
	ExternalField string `json:"external_field" yaml:"external_field"`
	Transformer   string `json:"transformer,omitempty" yaml:"transformer,omitempty"`
	Required      bool   `json:"required" yaml:"required"`
}

// Record is the dynamic field dictionary carried by CREATE/UPDATE
// operations. Values are JSON scalars (string, number, bool, nil).
type Record map[string]any

// Priority bounds. Lower numbers are dispatched sooner.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// Operation is a single sync intent against one provider. It is
// immutable once enqueued except for the retry/progress fields,
// which workers rewrite between tiers.
type Operation struct {
	ID          uuid.UUID     `json:"id"`
	Kind        OperationKind `json:"kind"`
	Provider    string        `json:"provider"`
	RecordID    string        `json:"record_id,omitempty"`
	Record      Record        `json:"record,omitempty"`
	Priority    int           `json:"priority"`
	CreatedAt   time.Time     `json:"created_at"`
	ScheduledAt *time.Time    `json:"scheduled_at,omitempty"`
	RetryCount  int           `json:"retry_count"`

	// Progress fields, populated by workers.
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ExternalID   string         `json:"external_id,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ResponseData map[string]any `json:"response_data,omitempty"`
}

// Validate enforces the submission invariants: kind-specific payload
// requirements and the priority range. A missing record_id is not a
// submission error; it surfaces at dispatch and the operation
// terminates in the dead-letter tier.
func (op *Operation) Validate() error {
	if !op.Kind.Valid() {
		return fmt.Errorf("unsupported operation kind: %q", op.Kind)
	}
	if op.Provider == "" {
		return fmt.Errorf("operation provider is required")
	}
	if op.Priority < MinPriority || op.Priority > MaxPriority {
		return fmt.Errorf("priority %d out of range [%d, %d]", op.Priority, MinPriority, MaxPriority)
	}
	switch op.Kind {
	case OpCreate, OpUpdate:
		if op.Record == nil {
			return fmt.Errorf("record is required for %s operations", op.Kind)
		}
	}
	return nil
}

// Result is the externally visible view of an operation, as reported
// by the status query.
type Result struct {
	OperationID  uuid.UUID      `json:"operation_id"`
	Status       Status         `json:"status"`
	Provider     string         `json:"provider"`
	ExternalID   string         `json:"external_id,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	RetryCount   int            `json:"retry_count"`
	ResponseData map[string]any `json:"response_data,omitempty"`
}

// QueueMetrics is a point-in-time view of the queue tiers plus the
// current hour's throughput counters.
type QueueMetrics struct {
	Pending           int64   `json:"pending_operations"`
	InFlight          int64   `json:"in_flight_operations"`
	DeadLettered      int64   `json:"dead_lettered_operations"`
	CompletedLastHour int64   `json:"completed_operations_last_hour"`
	FailedLastHour    int64   `json:"failed_operations_last_hour"`
	ErrorRate         float64 `json:"error_rate"`
}
