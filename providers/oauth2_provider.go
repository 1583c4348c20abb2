package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-cloudauth/core"
	"github.com/goliatone/go-cloudauth/ratelimit"
	"golang.org/x/oauth2"
)

const (
	BucketToken = "token"
	BucketAPI   = "api"
)

// OAuth2Config describes the authorization-code endpoints of one vendor.
type OAuth2Config struct {
	ID           string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// AuthParams are extra query parameters of the consent URL.
	AuthParams map[string]string
	// RevokeWithBearer sends the token as a bearer header instead of a form
	// field when revoking.
	RevokeWithBearer bool
	TokenTimeout     time.Duration
	HTTPClient       *http.Client
	Policy           ratelimit.Policy
	Now              func() time.Time
}

// OAuth2Provider implements the token half of core.Provider on top of
// golang.org/x/oauth2. Vendor packages embed it and add the API half.
type OAuth2Provider struct {
	cfg         OAuth2Config
	tokenClient *http.Client
}

func NewOAuth2Provider(cfg OAuth2Config) (*OAuth2Provider, error) {
	cfg.ID = strings.TrimSpace(strings.ToLower(cfg.ID))
	if cfg.ID == "" {
		return nil, fmt.Errorf("providers: provider id is required")
	}
	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.RevokeURL = strings.TrimSpace(cfg.RevokeURL)
	if cfg.AuthURL == "" {
		return nil, fmt.Errorf("providers: auth url is required for provider %q", cfg.ID)
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("providers: token url is required for provider %q", cfg.ID)
	}
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.Scopes = core.NormalizeScopes(cfg.Scopes)
	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = core.DefaultTokenTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	return &OAuth2Provider{
		cfg:         cfg,
		tokenClient: gatedClient(cfg.HTTPClient, cfg.Policy, ratelimit.Key{ProviderID: cfg.ID, Bucket: BucketToken}),
	}, nil
}

func (p *OAuth2Provider) ID() string {
	if p == nil {
		return ""
	}
	return p.cfg.ID
}

func (p *OAuth2Provider) Scopes() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.cfg.Scopes...)
}

func (p *OAuth2Provider) AuthorizationURL(redirectURI string, state string) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	if strings.TrimSpace(state) == "" {
		return "", core.NewBadInputError("providers: state is required")
	}
	conf := p.oauthConfig(redirectURI)
	opts := make([]oauth2.AuthCodeOption, 0, len(p.cfg.AuthParams))
	for key, value := range p.cfg.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(key, value))
	}
	return conf.AuthCodeURL(state, opts...), nil
}

func (p *OAuth2Provider) ExchangeCode(ctx context.Context, code string, redirectURI string) (core.TokenSet, error) {
	if err := p.validate(); err != nil {
		return core.TokenSet{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenSet{}, core.NewBadInputError("providers: authorization code is required")
	}
	ctx, cancel := p.tokenContext(ctx)
	defer cancel()

	token, err := p.oauthConfig(redirectURI).Exchange(ctx, code)
	if err != nil {
		return core.TokenSet{}, translateTokenError(p.cfg.ID, err, false)
	}
	return p.tokenSet(token), nil
}

func (p *OAuth2Provider) Refresh(ctx context.Context, refreshToken string) (core.TokenSet, error) {
	if err := p.validate(); err != nil {
		return core.TokenSet{}, err
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenSet{}, core.NewTokenRefreshError(p.cfg.ID, "providers: %s refresh token is empty", p.cfg.ID)
	}
	ctx, cancel := p.tokenContext(ctx)
	defer cancel()

	token, err := p.oauthConfig("").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return core.TokenSet{}, translateTokenError(p.cfg.ID, err, true)
	}
	return p.tokenSet(token), nil
}

// RevokeToken calls the vendor revocation endpoint. Vendors that support
// revocation expose it as Revoke.
func (p *OAuth2Provider) RevokeToken(ctx context.Context, token string) error {
	if err := p.validate(); err != nil {
		return err
	}
	if p.cfg.RevokeURL == "" {
		return core.NewConfigurationError("providers: %s has no revocation endpoint", p.cfg.ID)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	ctx, cancel := p.tokenContext(ctx)
	defer cancel()

	var req *http.Request
	var err error
	if p.cfg.RevokeWithBearer {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.RevokeURL, nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	} else {
		form := url.Values{}
		form.Set("token", token)
		form.Set("client_id", p.cfg.ClientID)
		form.Set("client_secret", p.cfg.ClientSecret)
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.RevokeURL, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return core.WithCause(core.NewAPIError(0, false, "providers: build %s revoke request", p.cfg.ID), err)
	}

	res, err := p.tokenClient.Do(req)
	if err != nil {
		return translateTransportError(p.cfg.ID, err)
	}
	defer res.Body.Close()
	body, _ := readLimited(res.Body, maxErrorBodyBytes)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return responseError(p.cfg.ID, res, body)
	}
	return nil
}

func (p *OAuth2Provider) validate() error {
	if p == nil {
		return core.NewConfigurationError("providers: oauth2 provider is nil")
	}
	return core.ProviderConfig{ClientID: p.cfg.ClientID, ClientSecret: p.cfg.ClientSecret}.Validate(p.cfg.ID)
}

func (p *OAuth2Provider) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  strings.TrimSpace(redirectURI),
		Scopes:       append([]string(nil), p.cfg.Scopes...),
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.cfg.AuthURL,
			TokenURL:  p.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (p *OAuth2Provider) tokenContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.tokenClient)
	return context.WithTimeout(ctx, p.cfg.TokenTimeout)
}

func (p *OAuth2Provider) tokenSet(token *oauth2.Token) core.TokenSet {
	set := core.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    strings.ToLower(strings.TrimSpace(token.TokenType)),
		ExpiresIn:    token.ExpiresIn,
	}
	if set.ExpiresIn <= 0 && !token.Expiry.IsZero() {
		if remaining := token.Expiry.Sub(p.cfg.Now()); remaining > 0 {
			set.ExpiresIn = int64(remaining / time.Second)
		}
	}
	if scope, ok := token.Extra("scope").(string); ok {
		set.Scopes = core.NormalizeScopes(strings.Fields(scope))
	}
	return set
}
