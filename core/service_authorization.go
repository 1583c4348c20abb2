package core

import (
	"context"
	"strings"
	"time"
)

// GetAuthorizationURL issues a state and returns the provider consent URL.
// No credential is touched.
func (s *Service) GetAuthorizationURL(ctx context.Context, req AuthorizationRequest) (response AuthorizationResponse, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider_id": req.ProviderID,
		"owner":       req.Owner,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "get_authorization_url", err, fields)
	}()

	key, err := credentialKey(req.Owner, req.ProviderID)
	if err != nil {
		return AuthorizationResponse{}, s.mapError(err)
	}
	provider, err := s.provider(key.ProviderID)
	if err != nil {
		return AuthorizationResponse{}, s.mapError(err)
	}
	redirectURI, err := s.resolveRedirectURI(ctx, key.ProviderID, req.RedirectURI)
	if err != nil {
		return AuthorizationResponse{}, s.mapError(err)
	}

	state, err := s.stateGuard.Issue(ctx, key.Owner, key.ProviderID, redirectURI)
	if err != nil {
		return AuthorizationResponse{}, s.mapError(err)
	}
	authURL, err := provider.AuthorizationURL(redirectURI, state.Token)
	if err != nil {
		return AuthorizationResponse{}, s.mapError(err)
	}
	return AuthorizationResponse{
		URL:       authURL,
		State:     state.Token,
		ExpiresAt: state.ExpiresAt,
	}, nil
}

// CompleteAuthorization redeems the callback of a consent flow. The state is
// consumed before anything else; on any failure no credential is written.
func (s *Service) CompleteAuthorization(ctx context.Context, req CompleteAuthorizationRequest) (status ConnectionStatus, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider_id": req.ProviderID,
		"owner":       req.Owner,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "complete_authorization", err, fields)
	}()

	key, err := credentialKey(req.Owner, req.ProviderID)
	if err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	state, err := s.stateGuard.Consume(ctx, req.State, key.ProviderID)
	if err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	if state.Owner != key.Owner {
		return ConnectionStatus{}, s.mapError(NewAuthenticationError("core: authorization state was issued for another owner"))
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return ConnectionStatus{}, s.mapError(NewAuthenticationError("core: authorization code is missing"))
	}
	provider, err := s.provider(key.ProviderID)
	if err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}

	// The token endpoint requires the exact redirect URI used for consent.
	redirectURI := state.RedirectURI
	if redirectURI == "" {
		if redirectURI, err = s.resolveRedirectURI(ctx, key.ProviderID, req.RedirectURI); err != nil {
			return ConnectionStatus{}, s.mapError(err)
		}
	}

	// Writes to one credential are linearized with refresh flights, so a
	// flight started on the previous grant cannot land after the reconnect.
	unlock, err := s.acquireRefreshLock(ctx, key)
	if err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	defer unlock()

	tokens, err := provider.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		if IsConfigurationError(err) {
			return ConnectionStatus{}, s.mapError(err)
		}
		return ConnectionStatus{}, s.mapError(WithCause(
			NewAuthenticationError("core: %s rejected the authorization code", key.ProviderID),
			err,
		))
	}
	if strings.TrimSpace(tokens.AccessToken) == "" {
		return ConnectionStatus{}, s.mapError(NewAuthenticationError("core: %s returned no access token", key.ProviderID))
	}

	account, accountErr := provider.FetchAccountInfo(ctx, tokens.AccessToken)
	if accountErr != nil {
		account = AccountInfo{}
		s.logWarn(ctx, "fetch account info failed", map[string]any{
			"provider_id": key.ProviderID,
			"owner":       key.Owner,
			"error":       accountErr.Error(),
		})
	}

	now := s.now()
	upsert := CredentialUpsert{
		Owner:       key.Owner,
		ProviderID:  key.ProviderID,
		TokenType:   NormalizeTokenType(tokens.TokenType),
		ExpiresAt:   tokens.ExpiresAt(now),
		Scopes:      NormalizeScopes(tokens.Scopes),
		Account:     account,
		ConnectedAt: now,
	}
	if upsert.EncryptedAccessToken, err = s.encrypt(ctx, tokens.AccessToken); err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	if strings.TrimSpace(tokens.RefreshToken) != "" {
		if upsert.EncryptedRefreshToken, err = s.encrypt(ctx, tokens.RefreshToken); err != nil {
			return ConnectionStatus{}, s.mapError(err)
		}
	}

	credential, err := s.credentialStore.Upsert(ctx, upsert)
	if err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	return statusFromCredential(credential), nil
}
