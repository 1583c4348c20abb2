package core

import (
	"context"
	"time"
)

// Disconnect revokes the provider grant where supported and deactivates the
// credential. Revocation is best effort. It reports false when no active
// credential existed.
func (s *Service) Disconnect(ctx context.Context, owner string, providerID string) (existed bool, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider_id": providerID,
		"owner":       owner,
	}
	defer func() {
		fields["existed"] = existed
		s.observeOperation(ctx, startedAt, "disconnect", err, fields)
	}()

	key, err := credentialKey(owner, providerID)
	if err != nil {
		return false, s.mapError(err)
	}
	unlock, err := s.acquireRefreshLock(ctx, key)
	if err != nil {
		return false, s.mapError(err)
	}
	defer unlock()

	credential, found, err := s.credentialStore.Get(ctx, key)
	if err != nil {
		return false, s.mapError(err)
	}
	if !found || !credential.IsActive {
		return false, nil
	}

	s.revokeBestEffort(ctx, key, credential)

	existed, err = s.credentialStore.Deactivate(ctx, key, DeactivationReasonDisconnected, true)
	if err != nil {
		return false, s.mapError(err)
	}
	return existed, nil
}

func (s *Service) revokeBestEffort(ctx context.Context, key CredentialKey, credential Credential) {
	provider, ok := s.registry.Get(key.ProviderID)
	if !ok {
		return
	}
	revoker, ok := provider.(TokenRevoker)
	if !ok || len(credential.EncryptedAccessToken) == 0 {
		return
	}
	fields := map[string]any{
		"provider_id": key.ProviderID,
		"owner":       key.Owner,
	}
	accessToken, err := s.decrypt(ctx, credential.EncryptedAccessToken)
	if err == nil {
		err = revoker.Revoke(ctx, accessToken)
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logWarn(ctx, "token revocation failed", fields)
		return
	}
	s.logInfo(ctx, "token revoked", fields)
}

// GetConnectionStatus reports the stored connection without any provider
// call and without refreshing.
func (s *Service) GetConnectionStatus(ctx context.Context, owner string, providerID string) (ConnectionStatus, error) {
	key, err := credentialKey(owner, providerID)
	if err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	credential, found, err := s.credentialStore.Get(ctx, key)
	if err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}

	var status ConnectionStatus
	if found {
		status = statusFromCredential(credential)
	} else {
		status = ConnectionStatus{
			ProviderID: key.ProviderID,
			State:      CredentialStateUnconnected,
		}
	}

	switch {
	case status.Connected:
		if _, refreshing := s.inflight.Load(key.String()); refreshing {
			status.State = CredentialStateRefreshing
		}
	default:
		pending, pendingErr := s.stateGuard.Pending(ctx, key.Owner, key.ProviderID)
		if pendingErr != nil {
			return ConnectionStatus{}, s.mapError(pendingErr)
		}
		if pending {
			status.State = CredentialStatePendingAuthorization
		}
	}
	return status, nil
}

// RefreshAccountInfo reloads the provider identity of a connected owner.
func (s *Service) RefreshAccountInfo(ctx context.Context, owner string, providerID string) (status ConnectionStatus, err error) {
	startedAt := time.Now().UTC()
	defer func() {
		s.observeOperation(ctx, startedAt, "refresh_account_info", err, map[string]any{
			"provider_id": providerID,
			"owner":       owner,
		})
	}()

	token, err := s.EnsureValid(ctx, owner, providerID)
	if err != nil {
		return ConnectionStatus{}, err
	}
	provider, err := s.provider(providerID)
	if err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	account, err := provider.FetchAccountInfo(ctx, token.Token)
	if err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	key, _ := credentialKey(owner, providerID)
	credential, err := s.credentialStore.UpdateAccountInfo(ctx, key, account)
	if err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	return statusFromCredential(credential), nil
}

// ListFolder lists a provider folder on behalf of owner. An empty folderRef
// lists the root.
func (s *Service) ListFolder(ctx context.Context, owner string, providerID string, folderRef string, opts ListOptions) (listing FolderListing, err error) {
	startedAt := time.Now().UTC()
	defer func() {
		s.observeOperation(ctx, startedAt, "list_folder", err, map[string]any{
			"provider_id": providerID,
			"owner":       owner,
			"entries":     len(listing.Entries),
		})
	}()

	token, err := s.EnsureValid(ctx, owner, providerID)
	if err != nil {
		return FolderListing{}, err
	}
	provider, err := s.provider(providerID)
	if err != nil {
		return FolderListing{}, s.mapError(err)
	}
	listing, err = provider.ListFolder(ctx, token.Token, folderRef, opts)
	if err != nil {
		return FolderListing{}, s.mapError(err)
	}
	return listing, nil
}
