package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-cloudauth/core"
	"github.com/goliatone/go-cloudauth/ratelimit"
)

func newTokenServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestOAuth2Provider(t *testing.T, server *httptest.Server, mutate func(*OAuth2Config)) *OAuth2Provider {
	t.Helper()
	cfg := OAuth2Config{
		ID:           "Box",
		AuthURL:      "https://account.example.test/authorize",
		TokenURL:     server.URL + "/token",
		RevokeURL:    server.URL + "/revoke",
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		Scopes:       []string{"root_readonly", " ", "root_readonly"},
		HTTPClient:   server.Client(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	provider, err := NewOAuth2Provider(cfg)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestNewOAuth2Provider_RequiresEndpoints(t *testing.T) {
	if _, err := NewOAuth2Provider(OAuth2Config{AuthURL: "a", TokenURL: "b"}); err == nil {
		t.Fatalf("expected missing id error")
	}
	if _, err := NewOAuth2Provider(OAuth2Config{ID: "box", TokenURL: "b"}); err == nil {
		t.Fatalf("expected missing auth url error")
	}
	if _, err := NewOAuth2Provider(OAuth2Config{ID: "box", AuthURL: "a"}); err == nil {
		t.Fatalf("expected missing token url error")
	}
}

func TestOAuth2Provider_AuthorizationURL(t *testing.T) {
	server := newTokenServer(t, func(http.ResponseWriter, *http.Request) {})
	provider := newTestOAuth2Provider(t, server, func(cfg *OAuth2Config) {
		cfg.AuthParams = map[string]string{"access_type": "offline", "prompt": "consent"}
	})

	if provider.ID() != "box" {
		t.Fatalf("expected normalized id box, got %q", provider.ID())
	}
	raw, err := provider.AuthorizationURL("https://app.example.test/callback", "state-1")
	if err != nil {
		t.Fatalf("authorization url: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	query := parsed.Query()
	checks := map[string]string{
		"client_id":     "client-123",
		"redirect_uri":  "https://app.example.test/callback",
		"response_type": "code",
		"state":         "state-1",
		"scope":         "root_readonly",
		"access_type":   "offline",
		"prompt":        "consent",
	}
	for key, want := range checks {
		if got := query.Get(key); got != want {
			t.Fatalf("expected %s=%q, got %q", key, want, got)
		}
	}

	if _, err := provider.AuthorizationURL("https://app.example.test/callback", " "); !core.IsBadInput(err) {
		t.Fatalf("expected bad input for empty state, got %v", err)
	}
}

func TestOAuth2Provider_MissingCredentialsAreConfigurationErrors(t *testing.T) {
	server := newTokenServer(t, func(http.ResponseWriter, *http.Request) {})
	provider := newTestOAuth2Provider(t, server, func(cfg *OAuth2Config) {
		cfg.ClientSecret = ""
	})
	if _, err := provider.AuthorizationURL("https://app.example.test/callback", "s"); !core.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := provider.Refresh(context.Background(), "rt"); !core.IsConfigurationError(err) {
		t.Fatalf("expected configuration error on refresh, got %v", err)
	}
}

func TestOAuth2Provider_ExchangeCode(t *testing.T) {
	server := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code") != "abc" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
			return
		}
		if r.PostForm.Get("client_id") != "client-123" || r.PostForm.Get("client_secret") != "secret-456" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "AT1",
			"refresh_token": "RT1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         "root_readonly root_readwrite",
		})
	})
	provider := newTestOAuth2Provider(t, server, nil)

	tokens, err := provider.ExchangeCode(context.Background(), "abc", "https://app.example.test/callback")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tokens.AccessToken != "AT1" || tokens.RefreshToken != "RT1" || tokens.ExpiresIn != 3600 {
		t.Fatalf("unexpected token set %+v", tokens)
	}
	if tokens.TokenType != "bearer" {
		t.Fatalf("expected lowercased token type, got %q", tokens.TokenType)
	}
	if strings.Join(tokens.Scopes, ",") != "root_readonly,root_readwrite" {
		t.Fatalf("unexpected scopes %v", tokens.Scopes)
	}

	_, err = provider.ExchangeCode(context.Background(), "bad", "https://app.example.test/callback")
	if !core.IsAPIError(err) || core.IsRetryable(err) || core.StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("expected non-retryable 400 api error, got %v", err)
	}

	if _, err := provider.ExchangeCode(context.Background(), " ", ""); !core.IsBadInput(err) {
		t.Fatalf("expected bad input for empty code, got %v", err)
	}
}

func TestOAuth2Provider_RefreshErrorTranslation(t *testing.T) {
	var status atomic.Int32
	server := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch code := int(status.Load()); code {
		case http.StatusOK:
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "AT2", "token_type": "bearer", "expires_in": 1800})
		case http.StatusTooManyRequests:
			w.Header().Set("Retry-After", "7")
			writeJSON(w, code, map[string]any{"error": "rate_limited"})
		default:
			writeJSON(w, code, map[string]any{"error": "invalid_grant", "error_description": "refresh token revoked"})
		}
	})
	provider := newTestOAuth2Provider(t, server, nil)

	status.Store(http.StatusOK)
	tokens, err := provider.Refresh(context.Background(), "RT1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tokens.AccessToken != "AT2" || tokens.ExpiresIn != 1800 {
		t.Fatalf("unexpected refreshed set %+v", tokens)
	}

	status.Store(http.StatusBadRequest)
	if _, err := provider.Refresh(context.Background(), "RT1"); !core.IsTokenRefreshError(err) {
		t.Fatalf("expected token refresh error for invalid_grant, got %v", err)
	}

	status.Store(http.StatusBadGateway)
	if _, err := provider.Refresh(context.Background(), "RT1"); !core.IsAPIError(err) || !core.IsRetryable(err) {
		t.Fatalf("expected retryable api error for 502, got %v", err)
	}

	status.Store(http.StatusTooManyRequests)
	_, err = provider.Refresh(context.Background(), "RT1")
	if !core.IsRateLimitError(err) || core.RetryAfter(err) != 7*time.Second {
		t.Fatalf("expected rate limit with 7s hint, got %v", err)
	}

	if _, err := provider.Refresh(context.Background(), ""); !core.IsTokenRefreshError(err) {
		t.Fatalf("expected token refresh error for empty refresh token, got %v", err)
	}
}

func TestOAuth2Provider_TransportFailureIsRetryable(t *testing.T) {
	server := newTokenServer(t, func(http.ResponseWriter, *http.Request) {})
	provider := newTestOAuth2Provider(t, server, func(cfg *OAuth2Config) {
		cfg.TokenURL = "http://127.0.0.1:1/token"
		cfg.HTTPClient = &http.Client{}
	})
	_, err := provider.Refresh(context.Background(), "RT1")
	if !core.IsAPIError(err) || !core.IsRetryable(err) || core.StatusCode(err) != 0 {
		t.Fatalf("expected retryable transport error, got %v", err)
	}
}

func TestOAuth2Provider_TokenTimeout(t *testing.T) {
	release := make(chan struct{})
	server := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	provider := newTestOAuth2Provider(t, server, func(cfg *OAuth2Config) {
		cfg.TokenTimeout = 50 * time.Millisecond
	})
	_, err := provider.Refresh(context.Background(), "RT1")
	if !core.IsRetryable(err) {
		t.Fatalf("expected retryable timeout error, got %v", err)
	}
}

func TestOAuth2Provider_RevokeToken(t *testing.T) {
	var gotForm url.Values
	var gotAuth string
	server := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotForm = r.PostForm
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})

	provider := newTestOAuth2Provider(t, server, nil)
	if err := provider.RevokeToken(context.Background(), "AT1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if gotForm.Get("token") != "AT1" || gotForm.Get("client_id") != "client-123" {
		t.Fatalf("unexpected revoke form %v", gotForm)
	}

	bearer := newTestOAuth2Provider(t, server, func(cfg *OAuth2Config) {
		cfg.RevokeWithBearer = true
	})
	if err := bearer.RevokeToken(context.Background(), "AT2"); err != nil {
		t.Fatalf("bearer revoke: %v", err)
	}
	if gotAuth != "Bearer AT2" {
		t.Fatalf("expected bearer revoke header, got %q", gotAuth)
	}

	missing := newTestOAuth2Provider(t, server, func(cfg *OAuth2Config) {
		cfg.RevokeURL = ""
	})
	if err := missing.RevokeToken(context.Background(), "AT1"); !core.IsConfigurationError(err) {
		t.Fatalf("expected configuration error without revoke url, got %v", err)
	}
}

func TestOAuth2Provider_SharesThrottleGate(t *testing.T) {
	var calls atomic.Int32
	server := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "slow_down"})
	})
	policy := ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
	provider := newTestOAuth2Provider(t, server, func(cfg *OAuth2Config) {
		cfg.Policy = policy
	})

	if _, err := provider.Refresh(context.Background(), "RT1"); !core.IsRateLimitError(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	_, err := provider.Refresh(context.Background(), "RT1")
	if !core.IsRateLimitError(err) {
		t.Fatalf("expected gate to reject the second call, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected the throttled call to stay local, server saw %d calls", calls.Load())
	}
}
