package license

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:      baseURL,
		Environment:  "test",
		Timeout:      time.Second,
		Retries:      2,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_AllowList(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"production verifier", "https://verify.forgecli.dev", false},
		{"staging verifier", "https://verify-staging.forgecli.dev", false},
		{"loopback for tests", "http://127.0.0.1:9999", false},
		{"localhost", "http://localhost:8080", false},
		{"unknown host", "https://evil.example.com", true},
		{"lookalike host", "https://verify.forgecli.dev.evil.example", true},
		{"file scheme", "file:///etc/passwd", true},
		{"ftp scheme", "ftp://verify.forgecli.dev", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(ClientConfig{BaseURL: tt.url})
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUntrustedVerifier)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestClient_VerifySuccess(t *testing.T) {
	var gotBody verifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/verify", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"valid": true,
			"license": map[string]any{
				"exp":         time.Now().Add(30 * 24 * time.Hour).Unix(),
				"tier":        "enterprise",
				"features":    []string{"sso", "audit-log"},
				"customer_id": "cust_0042",
				"org":         "Acme Corp",
				"seats":       100,
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ent, err := c.Verify(context.Background(), "the-token")
	require.NoError(t, err)

	assert.Equal(t, "the-token", gotBody.Token)
	assert.Equal(t, "test", gotBody.Environment)
	assert.True(t, ent.Valid)
	assert.Equal(t, TierEnterprise, ent.Tier)
	assert.Equal(t, []string{"sso", "audit-log"}, ent.Features)
	assert.Equal(t, "cust_0042", ent.CustomerID)
	assert.Equal(t, "Acme Corp", ent.Organization)
	assert.Equal(t, 100, ent.Seats)
}

func TestClient_VerifyAlternateFieldNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"valid": true,
			"license": map[string]any{
				"exp":          time.Now().Add(time.Hour).Unix(),
				"tier":         "pro",
				"customer":     "cust_1234",
				"organization": "Globex",
			},
		})
	}))
	defer srv.Close()

	ent, err := newTestClient(t, srv.URL).Verify(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "cust_1234", ent.CustomerID)
	assert.Equal(t, "Globex", ent.Organization)
}

func TestClient_VerifyInvalidLicense(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"valid": false,
			"error": "license revoked",
		})
	}))
	defer srv.Close()

	ent, err := newTestClient(t, srv.URL).Verify(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, ent.Valid)
	assert.Equal(t, "license revoked", ent.Error)
	assert.Equal(t, TierCommunity, ent.Tier)
}

func TestClient_UnknownTierNeverEscalates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"valid":   true,
			"license": map[string]any{"exp": time.Now().Add(time.Hour).Unix(), "tier": "platinum"},
		})
	}))
	defer srv.Close()

	ent, err := newTestClient(t, srv.URL).Verify(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, TierCommunity, ent.Tier)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"valid":   true,
			"license": map[string]any{"exp": time.Now().Add(time.Hour).Unix(), "tier": "pro"},
		})
	}))
	defer srv.Close()

	ent, err := newTestClient(t, srv.URL).Verify(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, ent.Valid)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ProtocolErrorsDoNotRetry(t *testing.T) {
	var calls atomic.Int32

	t.Run("client error status", func(t *testing.T) {
		calls.Store(0)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv.URL).Verify(context.Background(), "tok")
		ve, ok := AsVerifyError(err)
		require.True(t, ok)
		assert.Equal(t, VerifyErrProtocol, ve.Kind)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("malformed body", func(t *testing.T) {
		calls.Store(0)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Write([]byte("<html>not json</html>"))
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv.URL).Verify(context.Background(), "tok")
		ve, ok := AsVerifyError(err)
		require.True(t, ok)
		assert.Equal(t, VerifyErrProtocol, ve.Kind)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("valid without license object", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"valid": true})
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv.URL).Verify(context.Background(), "tok")
		ve, ok := AsVerifyError(err)
		require.True(t, ok)
		assert.Equal(t, VerifyErrProtocol, ve.Kind)
	})
}

func TestClient_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := newTestClient(t, srv.URL).Verify(context.Background(), "tok")
	ve, ok := AsVerifyError(err)
	require.True(t, ok)
	assert.Equal(t, VerifyErrNetwork, ve.Kind)
}

func TestVerifiedEntitlements_Entitled(t *testing.T) {
	ent := &VerifiedEntitlements{Valid: true, Features: []string{"sso", "audit-log"}}
	assert.True(t, ent.Entitled("sso"))
	assert.False(t, ent.Entitled("parallel-builds"))

	invalid := &VerifiedEntitlements{Valid: false, Features: []string{"sso"}}
	assert.False(t, invalid.Entitled("sso"))

	var nilEnt *VerifiedEntitlements
	assert.False(t, nilEnt.Entitled("sso"))
}

func TestClient_ErrorTextNeverCarriesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	const token = "super-secret-license-token"
	_, err := newTestClient(t, srv.URL).Verify(context.Background(), token)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), token)
	assert.Contains(t, err.Error(), TokenHashHint(token))
}
