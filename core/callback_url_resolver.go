package core

import (
	"context"
	"net/url"
	"strings"
)

const callbackPathTemplate = "/api/v1/%s/callback"

type CallbackURLResolver interface {
	ResolveCallbackURL(ctx context.Context, providerID string) (string, error)
}

type CallbackURLResolverFunc func(ctx context.Context, providerID string) (string, error)

func (fn CallbackURLResolverFunc) ResolveCallbackURL(ctx context.Context, providerID string) (string, error) {
	if fn == nil {
		return "", nil
	}
	url, err := fn(ctx, providerID)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(url), nil
}

// ConfigCallbackURLResolver uses the provider's configured redirect URI and
// falls back to {callback_base_url}/api/v1/{provider}/callback.
type ConfigCallbackURLResolver struct {
	Config Config
}

func (r ConfigCallbackURLResolver) ResolveCallbackURL(_ context.Context, providerID string) (string, error) {
	providerID = strings.TrimSpace(providerID)
	if configured := strings.TrimSpace(r.Config.Providers[providerID].RedirectURI); configured != "" {
		return configured, nil
	}
	base := strings.TrimRight(strings.TrimSpace(r.Config.CallbackBaseURL), "/")
	if base == "" {
		return "", NewConfigurationError("core: no redirect uri configured for provider %s", providerID)
	}
	return base + strings.Replace(callbackPathTemplate, "%s", url.PathEscape(providerID), 1), nil
}

func (s *Service) resolveRedirectURI(ctx context.Context, providerID string, requested string) (string, error) {
	if requested = strings.TrimSpace(requested); requested != "" {
		return requested, nil
	}
	resolver := s.callbackResolver
	if resolver == nil {
		resolver = ConfigCallbackURLResolver{Config: s.config}
	}
	resolved, err := resolver.ResolveCallbackURL(ctx, providerID)
	if err != nil {
		return "", err
	}
	if resolved == "" {
		return "", NewConfigurationError("core: no redirect uri configured for provider %s", providerID)
	}
	return resolved, nil
}
