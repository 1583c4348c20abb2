package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultRefreshInitialBackoff = time.Second
	defaultRefreshMaxBackoff     = 30 * time.Second
	lockPollInterval             = 25 * time.Millisecond
)

// ErrRefreshLockHeld is returned by RefreshLocker implementations when
// another holder owns the key. Acquisition is retried until the caller's
// context ends.
var ErrRefreshLockHeld = errors.New("core: refresh lock already held")

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultRefreshInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultRefreshMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

type flightResult struct {
	credential Credential
	refreshed  bool
}

// refreshWithin refreshes the credential of key when its access token expires
// within window. Concurrent callers for the same key share one flight; the
// flight runs detached from any single caller so a caller giving up never
// abandons a half-applied refresh.
func (s *Service) refreshWithin(ctx context.Context, key CredentialKey, window time.Duration, trigger string) (flightResult, error) {
	ch := s.flights.DoChan(key.String(), func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.flightTimeout())
		defer cancel()
		return s.runRefreshFlight(flightCtx, key, window, trigger)
	})
	select {
	case <-ctx.Done():
		return flightResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return flightResult{}, res.Err
		}
		result, _ := res.Val.(flightResult)
		return result, nil
	}
}

func (s *Service) runRefreshFlight(ctx context.Context, key CredentialKey, window time.Duration, trigger string) (result flightResult, err error) {
	unlock, err := s.acquireRefreshLock(ctx, key)
	if err != nil {
		return flightResult{}, err
	}
	defer unlock()

	// Re-read under the lock: a concurrent flight or another process may
	// already have rotated the tokens.
	credential, found, err := s.credentialStore.Get(ctx, key)
	if err != nil {
		return flightResult{}, err
	}
	if !found || !credential.IsActive {
		return flightResult{}, NewNotConnectedError(key.Owner, key.ProviderID)
	}
	if !credential.DueWithin(s.now(), window) {
		return flightResult{credential: credential}, nil
	}

	provider, err := s.provider(key.ProviderID)
	if err != nil {
		return flightResult{}, err
	}

	s.inflight.Store(key.String(), struct{}{})
	defer s.inflight.Delete(key.String())

	startedAt := time.Now().UTC()
	defer func() {
		s.observeOperation(ctx, startedAt, "refresh", err, map[string]any{
			"provider_id": key.ProviderID,
			"owner":       key.Owner,
			"trigger":     trigger,
		})
	}()

	if !credential.HasRefreshToken() {
		refreshErr := NewTokenRefreshError(key.ProviderID, "core: %s credential has no refresh token", key.ProviderID)
		return flightResult{}, s.deactivateAfterRefreshFailure(ctx, key, refreshErr)
	}
	refreshToken, err := s.decrypt(ctx, credential.EncryptedRefreshToken)
	if err != nil {
		return flightResult{}, err
	}

	s.recordCounter(ctx, MetricRefreshProviderCalls, 1, map[string]string{
		"provider_id": key.ProviderID,
	})
	tokens, err := provider.Refresh(ctx, refreshToken)
	if err != nil {
		if IsTokenRefreshError(err) {
			return flightResult{}, s.deactivateAfterRefreshFailure(ctx, key, err)
		}
		return flightResult{}, err
	}
	if strings.TrimSpace(tokens.AccessToken) == "" {
		return flightResult{}, NewAPIError(0, false, "core: %s refresh returned no access token", key.ProviderID)
	}

	update := TokenUpdate{
		EncryptedRefreshToken: credential.EncryptedRefreshToken,
		TokenType:             NormalizeTokenType(tokens.TokenType),
		ExpiresAt:             tokens.ExpiresAt(s.now()),
		Scopes:                credential.Scopes,
	}
	if update.EncryptedAccessToken, err = s.encrypt(ctx, tokens.AccessToken); err != nil {
		return flightResult{}, err
	}
	// Providers that do not rotate refresh tokens omit them from the response.
	if strings.TrimSpace(tokens.RefreshToken) != "" {
		if update.EncryptedRefreshToken, err = s.encrypt(ctx, tokens.RefreshToken); err != nil {
			return flightResult{}, err
		}
	}
	if scopes := NormalizeScopes(tokens.Scopes); len(scopes) > 0 {
		update.Scopes = scopes
	}

	updated, err := s.credentialStore.UpdateTokens(ctx, key, update)
	if err != nil {
		return flightResult{}, err
	}
	return flightResult{credential: updated, refreshed: true}, nil
}

func (s *Service) deactivateAfterRefreshFailure(ctx context.Context, key CredentialKey, cause error) error {
	deactivated, err := s.credentialStore.Deactivate(ctx, key, DeactivationReasonRefreshFailed, true)
	if err != nil {
		s.logError(ctx, "deactivate after refresh failure failed", map[string]any{
			"provider_id": key.ProviderID,
			"owner":       key.Owner,
			"error":       err.Error(),
		})
		return cause
	}
	if deactivated {
		s.recordCounter(ctx, MetricCredentialsDeactivated, 1, map[string]string{
			"provider_id": key.ProviderID,
			"reason":      DeactivationReasonRefreshFailed,
		})
	}
	return cause
}

func (s *Service) acquireRefreshLock(ctx context.Context, key CredentialKey) (func(), error) {
	if s.refreshLocker == nil {
		return func() {}, nil
	}
	for {
		handle, err := s.refreshLocker.Acquire(ctx, key.String(), s.config.flightTimeout())
		if err == nil {
			return func() {
				_ = handle.Unlock(context.WithoutCancel(ctx))
			}, nil
		}
		if !errors.Is(err, ErrRefreshLockHeld) {
			return nil, err
		}
		if waitErr := waitWithContext(ctx, lockPollInterval); waitErr != nil {
			return nil, fmt.Errorf("core: waiting for refresh lock on %s: %w", key.String(), waitErr)
		}
	}
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MemoryRefreshLocker is a keyed lock table with expiring entries, so a
// holder that never unlocks cannot wedge a key forever.
type MemoryRefreshLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	nowFn func() time.Time
}

func NewMemoryRefreshLocker() *MemoryRefreshLocker {
	return &MemoryRefreshLocker{
		locks: make(map[string]time.Time),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryRefreshLocker) Acquire(_ context.Context, key string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: refresh locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: lock key is required")
	}
	if ttl <= 0 {
		ttl = DefaultFlightTimeout
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.locks[key]; ok && now.Before(until) {
		return nil, ErrRefreshLockHeld
	}
	l.locks[key] = now.Add(ttl)
	return &memoryLockHandle{locker: l, key: key}, nil
}

type memoryLockHandle struct {
	locker *MemoryRefreshLocker
	key    string
	once   sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.key)
		h.locker.mu.Unlock()
	})
	return nil
}

// NormalizeTokenType lowercases the token type and defaults it to bearer.
func NormalizeTokenType(tokenType string) string {
	tokenType = strings.ToLower(strings.TrimSpace(tokenType))
	if tokenType == "" {
		return DefaultTokenType
	}
	return tokenType
}
