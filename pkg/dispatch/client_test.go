package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncbridge/syncbridge/pkg/ratelimit"
	"github.com/syncbridge/syncbridge/pkg/store"
	"github.com/syncbridge/syncbridge/pkg/transform"
	"github.com/syncbridge/syncbridge/pkg/types"
)

func testLimiter(t *testing.T) *ratelimit.Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return ratelimit.NewManager(store.NewRedisStoreFromClient(client))
}

func apiKeyProvider(name string, kind types.ProviderKind, baseURL string) *types.ProviderConfig {
	cfg := &types.ProviderConfig{
		Name:    name,
		Kind:    kind,
		BaseURL: baseURL,
		Auth:    types.AuthConfig{Type: types.AuthAPIKey, APIKey: &types.APIKeyCredentials{Key: "sekrit"}},
	}
	cfg.Normalize()
	return cfg
}

func TestRouteTable(t *testing.T) {
	tests := []struct {
		provider   types.ProviderKind
		op         types.OperationKind
		recordID   string
		wantMethod string
		wantPath   string
	}{
		{types.ProviderSalesforce, types.OpCreate, "", "POST", "/services/data/v52.0/sobjects/Contact"},
		{types.ProviderSalesforce, types.OpUpdate, "003A", "PATCH", "/services/data/v52.0/sobjects/Contact/003A"},
		{types.ProviderSalesforce, types.OpRead, "003A", "GET", "/services/data/v52.0/sobjects/Contact/003A"},
		{types.ProviderSalesforce, types.OpDelete, "003A", "DELETE", "/services/data/v52.0/sobjects/Contact/003A"},
		{types.ProviderHubSpot, types.OpCreate, "", "POST", "/crm/v3/objects/contacts"},
		{types.ProviderHubSpot, types.OpUpdate, "77", "PATCH", "/crm/v3/objects/contacts/77"},
		{types.ProviderPipedrive, types.OpCreate, "", "POST", "/v1/persons"},
		{types.ProviderPipedrive, types.OpUpdate, "9", "PUT", "/v1/persons/9"},
		{types.ProviderCustom, types.OpCreate, "", "POST", "/contacts"},
		{types.ProviderCustom, types.OpUpdate, "c1", "PUT", "/contacts/c1"},
		{types.ProviderCustom, types.OpDelete, "c1", "DELETE", "/contacts/c1"},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider)+"/"+string(tt.op), func(t *testing.T) {
			method, path, err := route(tt.provider, tt.op, tt.recordID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMethod, method)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func TestExecuteCreateTransformsBody(t *testing.T) {
	var gotPath, gotMethod, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "003XYZ", "success": true}`))
	}))
	defer srv.Close()

	cfg := apiKeyProvider("sf", types.ProviderSalesforce, srv.URL)
	limiter := testLimiter(t)
	limiter.Register(cfg.Name, cfg.RateLimitPerMinute, cfg.BurstLimit)
	client := NewClient(cfg, limiter, transform.New())

	resp, err := client.Execute(context.Background(), types.OpCreate, "", types.Record{
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"email":      " ADA@Example.COM ",
	})
	require.NoError(t, err)

	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "/services/data/v52.0/sobjects/Contact", gotPath)
	assert.Equal(t, "Bearer sekrit", gotAuth)
	assert.Equal(t, map[string]any{
		"FirstName": "Ada",
		"LastName":  "Lovelace",
		"Email":     "ada@example.com",
	}, gotBody)
	assert.Equal(t, "003XYZ", resp["id"])
}

func TestRouteRequiresRecordID(t *testing.T) {
	for _, op := range []types.OperationKind{types.OpRead, types.OpUpdate, types.OpDelete} {
		t.Run(string(op), func(t *testing.T) {
			_, _, err := route(types.ProviderCustom, op, "")
			assert.ErrorContains(t, err, "record_id")
		})
	}

	_, _, err := route(types.ProviderCustom, types.OpCreate, "")
	assert.NoError(t, err)
}

func TestExecuteMissingRecordID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the provider")
	}))
	defer srv.Close()

	cfg := apiKeyProvider("acme", types.ProviderCustom, srv.URL)
	client := NewClient(cfg, testLimiter(t), transform.New())

	_, err := client.Execute(context.Background(), types.OpDelete, "", nil)
	assert.ErrorContains(t, err, "record_id is required for DELETE operations")
}

func TestExecuteMissingRequiredField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the provider")
	}))
	defer srv.Close()

	cfg := apiKeyProvider("sf", types.ProviderSalesforce, srv.URL)
	client := NewClient(cfg, testLimiter(t), transform.New())

	_, err := client.Execute(context.Background(), types.OpCreate, "", types.Record{"first_name": "Ada"})

	var merr *transform.MissingFieldError
	require.ErrorAs(t, err, &merr)
}

func TestExecuteDeleteHasNoBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "sekrit", r.Header.Get("X-API-Key"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := apiKeyProvider("acme", types.ProviderCustom, srv.URL)
	client := NewClient(cfg, testLimiter(t), transform.New())

	resp, err := client.Execute(context.Background(), types.OpDelete, "c9", nil)
	require.NoError(t, err)
	assert.Equal(t, "success", resp["status"])
}

func TestBasicAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "wonder", pass)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 42}`))
	}))
	defer srv.Close()

	cfg := &types.ProviderConfig{
		Name:    "acme",
		Kind:    types.ProviderCustom,
		BaseURL: srv.URL,
		Auth: types.AuthConfig{
			Type:  types.AuthBasic,
			Basic: &types.BasicCredentials{Username: "alice", Password: "wonder"},
		},
	}
	cfg.Normalize()
	client := NewClient(cfg, testLimiter(t), transform.New())

	_, err := client.Execute(context.Background(), types.OpRead, "42", nil)
	require.NoError(t, err)
}

func TestOAuth2TokenFetchAndReuse(t *testing.T) {
	tokenCalls := 0
	var mux http.ServeMux
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		_ = r.ParseForm()
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "cid", r.Form.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "tok-1", "expires_in": 3600}`))
	})
	mux.HandleFunc("/contacts/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	cfg := &types.ProviderConfig{
		Name:    "acme",
		Kind:    types.ProviderCustom,
		BaseURL: srv.URL,
		Auth: types.AuthConfig{
			Type: types.AuthOAuth2,
			OAuth2: &types.OAuth2Credentials{
				ClientID:     "cid",
				ClientSecret: "shh",
				TokenURL:     srv.URL + "/oauth/token",
			},
		},
	}
	cfg.Normalize()
	client := NewClient(cfg, testLimiter(t), transform.New())

	for i := 0; i < 3; i++ {
		_, err := client.Execute(context.Background(), types.OpRead, "1", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, tokenCalls, "token should be cached across requests")
}

func TestOAuth2RefreshTokenGrant(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "rt-9", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "tok-r"}`))
	})
	mux.HandleFunc("/contacts/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	cfg := &types.ProviderConfig{
		Name:    "acme",
		Kind:    types.ProviderCustom,
		BaseURL: srv.URL,
		Auth: types.AuthConfig{
			Type: types.AuthOAuth2,
			OAuth2: &types.OAuth2Credentials{
				ClientID:     "cid",
				ClientSecret: "shh",
				TokenURL:     srv.URL + "/oauth/token",
				RefreshToken: "rt-9",
			},
		},
	}
	cfg.Normalize()
	client := NewClient(cfg, testLimiter(t), transform.New())

	_, err := client.Execute(context.Background(), types.OpRead, "1", nil)
	require.NoError(t, err)
}

func TestReauthOnceOn401(t *testing.T) {
	tokenCalls := 0
	apiCalls := 0
	var mux http.ServeMux
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "tok", "expires_in": 3600}`))
	})
	mux.HandleFunc("/contacts/", func(w http.ResponseWriter, r *http.Request) {
		apiCalls++
		if apiCalls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	cfg := &types.ProviderConfig{
		Name:    "acme",
		Kind:    types.ProviderCustom,
		BaseURL: srv.URL,
		Auth: types.AuthConfig{
			Type: types.AuthOAuth2,
			OAuth2: &types.OAuth2Credentials{
				ClientID:     "cid",
				ClientSecret: "shh",
				TokenURL:     srv.URL + "/oauth/token",
			},
		},
	}
	cfg.Normalize()
	client := NewClient(cfg, testLimiter(t), transform.New())

	resp, err := client.Execute(context.Background(), types.OpRead, "1", nil)
	require.NoError(t, err)
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, 2, tokenCalls)
	assert.Equal(t, 2, apiCalls)
}

func TestPersistent401IsAuthError(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "tok", "expires_in": 3600}`))
	})
	mux.HandleFunc("/contacts/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	cfg := &types.ProviderConfig{
		Name:    "acme",
		Kind:    types.ProviderCustom,
		BaseURL: srv.URL,
		Auth: types.AuthConfig{
			Type: types.AuthOAuth2,
			OAuth2: &types.OAuth2Credentials{
				ClientID:     "cid",
				ClientSecret: "shh",
				TokenURL:     srv.URL + "/oauth/token",
			},
		},
	}
	cfg.Normalize()
	client := NewClient(cfg, testLimiter(t), transform.New())

	_, err := client.Execute(context.Background(), types.OpRead, "1", nil)

	var aerr *AuthError
	require.ErrorAs(t, err, &aerr)
}

func TestUpstream429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := apiKeyProvider("acme", types.ProviderCustom, srv.URL)
	client := NewClient(cfg, testLimiter(t), transform.New())

	_, err := client.Execute(context.Background(), types.OpRead, "1", nil)

	var rerr *RateLimitedError
	require.ErrorAs(t, err, &rerr)
	assert.True(t, rerr.Upstream)
}

func TestLocalAdmissionDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the provider")
	}))
	defer srv.Close()

	cfg := apiKeyProvider("acme", types.ProviderCustom, srv.URL)
	limiter := testLimiter(t)
	limiter.Register(cfg.Name, 1, 1)
	client := NewClient(cfg, limiter, transform.New())

	ctx := context.Background()
	allowed, err := limiter.TryAcquire(ctx, cfg.Name, 1)
	require.NoError(t, err)
	require.True(t, allowed)

	_, err = client.Execute(ctx, types.OpRead, "1", nil)

	var rerr *RateLimitedError
	require.ErrorAs(t, err, &rerr)
	assert.False(t, rerr.Upstream)
}

func TestServerErrorIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "kaboom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := apiKeyProvider("acme", types.ProviderCustom, srv.URL)
	client := NewClient(cfg, testLimiter(t), transform.New())

	_, err := client.Execute(context.Background(), types.OpRead, "1", nil)

	var aerr *APIError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, http.StatusInternalServerError, aerr.StatusCode)
	assert.Contains(t, aerr.Message, "kaboom")
}

func TestNonJSONSuccessIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	cfg := apiKeyProvider("acme", types.ProviderCustom, srv.URL)
	client := NewClient(cfg, testLimiter(t), transform.New())

	resp, err := client.Execute(context.Background(), types.OpRead, "1", nil)
	require.NoError(t, err)
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "OK", resp["data"])
}

func TestTransportWaitEnvelope(t *testing.T) {
	assert.Equal(t, transportWaitMin, transportWait(0))
	assert.Equal(t, transportWaitMin, transportWait(1))
	assert.Equal(t, transportWaitMin, transportWait(2))
	assert.Equal(t, 8*time.Second, transportWait(3))
	assert.Equal(t, transportWaitMax, transportWait(4))
	assert.Equal(t, transportWaitMax, transportWait(10))
}
