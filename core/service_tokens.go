package core

import (
	"context"
	"strings"
	"time"
)

// EnsureValid returns a usable access token, refreshing first when the stored
// one expires within the safety margin.
func (s *Service) EnsureValid(ctx context.Context, owner string, providerID string) (token AccessToken, err error) {
	key, err := credentialKey(owner, providerID)
	if err != nil {
		return AccessToken{}, s.mapError(err)
	}
	credential, err := s.activeCredential(ctx, key)
	if err != nil {
		return AccessToken{}, s.mapError(err)
	}

	margin := s.config.safetyMargin()
	if credential.DueWithin(s.now(), margin) {
		result, refreshErr := s.refreshWithin(ctx, key, margin, "ensure_valid")
		if refreshErr != nil {
			return AccessToken{}, s.mapError(refreshErr)
		}
		credential = result.credential
	}

	plaintext, err := s.decrypt(ctx, credential.EncryptedAccessToken)
	if err != nil {
		return AccessToken{}, s.mapError(err)
	}
	token = AccessToken{
		Token:     plaintext,
		TokenType: NormalizeTokenType(credential.TokenType),
	}
	if credential.ExpiresAt != nil {
		token.ExpiresAt = *credential.ExpiresAt
	}
	return token, nil
}

// RefreshIfDue refreshes the credential when it expires within horizon. A
// non-positive horizon uses the configured refresh horizon.
func (s *Service) RefreshIfDue(ctx context.Context, owner string, providerID string, horizon time.Duration) (outcome RefreshOutcome, err error) {
	key, err := credentialKey(owner, providerID)
	if err != nil {
		return RefreshOutcome{}, s.mapError(err)
	}
	if horizon <= 0 {
		horizon = s.config.refreshHorizon()
	}
	credential, err := s.activeCredential(ctx, key)
	if err != nil {
		return RefreshOutcome{}, s.mapError(err)
	}
	if !credential.DueWithin(s.now(), horizon) {
		return RefreshOutcome{ExpiresAt: credential.ExpiresAt}, nil
	}

	result, err := s.refreshWithin(ctx, key, horizon, "refresh_if_due")
	if err != nil {
		return RefreshOutcome{}, s.mapError(err)
	}
	return RefreshOutcome{
		Refreshed: result.refreshed,
		ExpiresAt: result.credential.ExpiresAt,
	}, nil
}

// RefreshDue refreshes every active credential of providerID expiring within
// horizon, including ones already expired. Retryable failures are retried
// with backoff; other failures are counted and the scan continues.
func (s *Service) RefreshDue(ctx context.Context, providerID string, horizon time.Duration) (result RefreshDueResult, err error) {
	startedAt := time.Now().UTC()
	providerID = strings.TrimSpace(providerID)
	result.ProviderID = providerID
	defer func() {
		s.observeOperation(ctx, startedAt, "refresh_due", err, map[string]any{
			"provider_id": providerID,
			"scanned":     result.Scanned,
			"refreshed":   result.Refreshed,
			"failed":      result.Failed,
			"deactivated": result.Deactivated,
		})
	}()

	if _, err = s.provider(providerID); err != nil {
		return result, s.mapError(err)
	}
	if horizon <= 0 {
		horizon = s.config.refreshHorizon()
	}

	due, err := s.credentialStore.ListDue(ctx, providerID, s.now().Add(horizon))
	if err != nil {
		return result, s.mapError(err)
	}
	result.Scanned = len(due)

	for _, credential := range due {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		key := credential.Key()
		refreshed, refreshErr := s.refreshWithRetry(ctx, key, horizon)
		switch {
		case refreshErr == nil:
			if refreshed {
				result.Refreshed++
			}
		case IsTokenRefreshError(refreshErr):
			result.Failed++
			result.Deactivated++
		case IsNotConnected(refreshErr):
			// Disconnected between the scan and the refresh.
		case IsConfigurationError(refreshErr):
			// Client credentials were rejected; every remaining credential
			// would fail the same way.
			result.Failed++
			return result, s.mapError(refreshErr)
		default:
			result.Failed++
			s.logWarn(ctx, "scheduled refresh failed", map[string]any{
				"provider_id": key.ProviderID,
				"owner":       key.Owner,
				"error":       refreshErr.Error(),
			})
		}
	}
	return result, nil
}

func (s *Service) refreshWithRetry(ctx context.Context, key CredentialKey, horizon time.Duration) (bool, error) {
	attempts := s.config.maxAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := s.refreshWithin(ctx, key, horizon, "scheduler")
		if err == nil {
			return result.refreshed, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == attempts {
			break
		}
		delay := RetryAfter(err)
		if delay <= 0 && s.refreshScheduler != nil {
			delay = s.refreshScheduler.NextDelay(attempt)
		}
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			return false, waitErr
		}
	}
	return false, lastErr
}

func (s *Service) activeCredential(ctx context.Context, key CredentialKey) (Credential, error) {
	credential, found, err := s.credentialStore.Get(ctx, key)
	if err != nil {
		return Credential{}, err
	}
	if !found || !credential.IsActive {
		return Credential{}, NewNotConnectedError(key.Owner, key.ProviderID)
	}
	return credential, nil
}
