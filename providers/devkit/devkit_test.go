package devkit

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/goliatone/go-cloudauth/core"
	"github.com/goliatone/go-cloudauth/providers"
)

func newTestProvider(t *testing.T, vendor *FakeVendor, secret string) *testProvider {
	t.Helper()
	base, err := providers.NewOAuth2Provider(providers.OAuth2Config{
		ID:           "fake",
		AuthURL:      vendor.AuthURL(),
		TokenURL:     vendor.TokenURL(),
		RevokeURL:    vendor.RevokeURL(),
		ClientID:     vendor.ClientID,
		ClientSecret: secret,
		HTTPClient:   vendor.Client(),
	})
	if err != nil {
		t.Fatalf("new oauth2 provider: %v", err)
	}
	return &testProvider{OAuth2Provider: base}
}

type testProvider struct {
	*providers.OAuth2Provider
}

func (p *testProvider) FetchAccountInfo(context.Context, string) (core.AccountInfo, error) {
	return core.AccountInfo{}, nil
}

func (p *testProvider) ListFolder(context.Context, string, string, core.ListOptions) (core.FolderListing, error) {
	return core.FolderListing{}, nil
}

func (p *testProvider) Revoke(ctx context.Context, token string) error {
	return p.RevokeToken(ctx, token)
}

func TestValidateProviderConformance_PassesForOAuth2Base(t *testing.T) {
	vendor := NewFakeVendor(t, "client-1", "secret-1")
	provider := newTestProvider(t, vendor, "secret-1")

	if err := ValidateProviderConformance(context.Background(), provider, vendor, DefaultConformanceFixture()); err != nil {
		t.Fatalf("expected conformance, got %v", err)
	}
}

func TestValidateProviderConformance_FailsOnWrongSecret(t *testing.T) {
	vendor := NewFakeVendor(t, "client-1", "secret-1")
	provider := newTestProvider(t, vendor, "wrong")

	err := ValidateProviderConformance(context.Background(), provider, vendor, DefaultConformanceFixture())
	if err == nil || !strings.Contains(err.Error(), "exchange code") {
		t.Fatalf("expected exchange failure, got %v", err)
	}
}

func TestFakeVendor_RecordsTokenRequests(t *testing.T) {
	vendor := NewFakeVendor(t, "client-1", "secret-1")
	vendor.IssueCode("abc", TokenFixture{AccessToken: "AT1", RefreshToken: "RT1", ExpiresIn: 3600})

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {"abc"},
		"client_id":     {"client-1"},
		"client_secret": {"secret-1"},
	}
	res, err := vendor.Client().PostForm(vendor.TokenURL(), form)
	if err != nil {
		t.Fatalf("post token: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	res, err = vendor.Client().PostForm(vendor.TokenURL(), form)
	if err != nil {
		t.Fatalf("post token again: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected a redeemed code to be rejected, got %d", res.StatusCode)
	}

	requests := vendor.Requests()
	if len(requests) != 2 || requests[0].Form["code"] != "abc" {
		t.Fatalf("expected two recorded token requests, got %+v", requests)
	}
	if vendor.TokenCalls() != 2 {
		t.Fatalf("expected two token calls, got %d", vendor.TokenCalls())
	}
}

func TestFakeVendor_APIRoutesRequireBearer(t *testing.T) {
	vendor := NewFakeVendor(t, "client-1", "secret-1")
	vendor.HandleJSON(http.MethodGet, "/users/me", http.StatusOK, map[string]any{"id": "u1"})

	res, err := vendor.Client().Get(vendor.APIBaseURL() + "/users/me")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", res.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, vendor.APIBaseURL()+"/users/me", nil)
	req.Header.Set("Authorization", "Bearer AT1")
	res, err = vendor.Client().Do(req)
	if err != nil {
		t.Fatalf("get with bearer: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with bearer, got %d", res.StatusCode)
	}
}

func TestFakeVendor_ForcedTokenFailure(t *testing.T) {
	vendor := NewFakeVendor(t, "client-1", "secret-1")
	vendor.FailToken(&TokenFailure{Status: http.StatusServiceUnavailable, Body: `{"error":"temporarily_unavailable"}`})
	provider := newTestProvider(t, vendor, "secret-1")

	_, err := provider.Refresh(context.Background(), "RT1")
	if !core.IsAPIError(err) || !core.IsRetryable(err) {
		t.Fatalf("expected retryable api error, got %v", err)
	}
	if core.StatusCode(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", core.StatusCode(err))
	}
}

func TestFakeVendor_RotatedClientSecretIsNotARevokedGrant(t *testing.T) {
	vendor := NewFakeVendor(t, "client-1", "secret-1")
	vendor.IssueRefresh("RT1", TokenFixture{AccessToken: "AT2", ExpiresIn: 3600})
	provider := newTestProvider(t, vendor, "rotated")

	_, err := provider.Refresh(context.Background(), "RT1")
	if core.IsTokenRefreshError(err) || !core.IsConfigurationError(err) {
		t.Fatalf("expected configuration error for invalid_client, got %v", err)
	}
}

func TestFakeVendor_RouteHandlersReadRecordedBody(t *testing.T) {
	vendor := NewFakeVendor(t, "client-1", "secret-1")
	var seen string
	vendor.Handle(http.MethodPost, "/files/list_folder", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = string(body)
		WriteJSON(w, http.StatusOK, map[string]any{})
	})

	req, _ := http.NewRequest(http.MethodPost, vendor.APIBaseURL()+"/files/list_folder", strings.NewReader(`{"path":"/Docs"}`))
	req.Header.Set("Authorization", "Bearer AT1")
	req.Header.Set("Content-Type", "application/json")
	res, err := vendor.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	res.Body.Close()

	if seen != `{"path":"/Docs"}` {
		t.Fatalf("expected handler to read the request body, got %q", seen)
	}
	requests := vendor.Requests()
	if len(requests) != 1 || requests[0].Body != seen {
		t.Fatalf("expected body to be recorded too, got %+v", requests)
	}
}
