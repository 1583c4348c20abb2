package devkit

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-cloudauth/core"
)

// ConformanceFixture is the token material the vendor is primed with before
// ValidateProviderConformance drives the provider through its contract.
type ConformanceFixture struct {
	RedirectURI string
	Code        string
	Exchange    TokenFixture
	Refreshed   TokenFixture
}

// DefaultConformanceFixture mirrors a typical vendor: one hour tokens and a
// rotated refresh token.
func DefaultConformanceFixture() ConformanceFixture {
	return ConformanceFixture{
		RedirectURI: "https://app.example.test/api/v1/callback",
		Code:        "conformance-code",
		Exchange: TokenFixture{
			AccessToken:  "conformance-at-1",
			RefreshToken: "conformance-rt-1",
			ExpiresIn:    3600,
		},
		Refreshed: TokenFixture{
			AccessToken:  "conformance-at-2",
			RefreshToken: "conformance-rt-2",
			ExpiresIn:    3600,
		},
	}
}

// ValidateProviderConformance checks the token half of core.Provider against
// a FakeVendor the provider is pointed at: consent URL parameters, code
// exchange, refresh, rejected refresh tokens, rejected codes and, when the
// provider implements core.TokenRevoker, revocation.
func ValidateProviderConformance(
	ctx context.Context,
	provider core.Provider,
	vendor *FakeVendor,
	fixture ConformanceFixture,
) error {
	if provider == nil {
		return fmt.Errorf("devkit: provider is required")
	}
	if vendor == nil {
		return fmt.Errorf("devkit: fake vendor is required")
	}
	if strings.TrimSpace(provider.ID()) == "" {
		return fmt.Errorf("devkit: provider id is required")
	}

	rawURL, err := provider.AuthorizationURL(fixture.RedirectURI, "conformance-state")
	if err != nil {
		return fmt.Errorf("devkit: authorization url: %w", err)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("devkit: authorization url is not a url: %w", err)
	}
	query := parsed.Query()
	expect := map[string]string{
		"client_id":     vendor.ClientID,
		"redirect_uri":  fixture.RedirectURI,
		"response_type": "code",
		"state":         "conformance-state",
	}
	for key, want := range expect {
		if got := query.Get(key); got != want {
			return fmt.Errorf("devkit: authorization url %s=%q, want %q", key, got, want)
		}
	}

	vendor.IssueCode(fixture.Code, fixture.Exchange)
	vendor.IssueRefresh(fixture.Exchange.RefreshToken, fixture.Refreshed)

	tokens, err := provider.ExchangeCode(ctx, fixture.Code, fixture.RedirectURI)
	if err != nil {
		return fmt.Errorf("devkit: exchange code: %w", err)
	}
	if tokens.AccessToken != fixture.Exchange.AccessToken || tokens.RefreshToken != fixture.Exchange.RefreshToken {
		return fmt.Errorf("devkit: exchange returned %q/%q", tokens.AccessToken, tokens.RefreshToken)
	}
	if tokens.ExpiresIn != fixture.Exchange.ExpiresIn {
		return fmt.Errorf("devkit: exchange expires_in %d, want %d", tokens.ExpiresIn, fixture.Exchange.ExpiresIn)
	}

	if _, err := provider.ExchangeCode(ctx, fixture.Code, fixture.RedirectURI); err == nil {
		return fmt.Errorf("devkit: a redeemed code should be rejected")
	} else if !core.IsAPIError(err) {
		return fmt.Errorf("devkit: rejected code should be an api error, got %v", err)
	}

	refreshed, err := provider.Refresh(ctx, fixture.Exchange.RefreshToken)
	if err != nil {
		return fmt.Errorf("devkit: refresh: %w", err)
	}
	if refreshed.AccessToken != fixture.Refreshed.AccessToken {
		return fmt.Errorf("devkit: refresh returned access token %q", refreshed.AccessToken)
	}

	vendor.RevokeRefresh(fixture.Exchange.RefreshToken)
	if _, err := provider.Refresh(ctx, fixture.Exchange.RefreshToken); !core.IsTokenRefreshError(err) {
		return fmt.Errorf("devkit: revoked refresh token should fail with a token refresh error, got %v", err)
	}

	if revoker, ok := provider.(core.TokenRevoker); ok {
		if err := revoker.Revoke(ctx, refreshed.AccessToken); err != nil {
			return fmt.Errorf("devkit: revoke: %w", err)
		}
		revoked := vendor.Revoked()
		if len(revoked) == 0 || revoked[len(revoked)-1] != refreshed.AccessToken {
			return fmt.Errorf("devkit: vendor did not receive the revoked token, got %v", revoked)
		}
	}
	return nil
}
