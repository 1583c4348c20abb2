package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCredentialStore is a process-local CredentialStore keyed by
// (owner, provider). Returned values are copies.
type MemoryCredentialStore struct {
	mu      sync.RWMutex
	entries map[CredentialKey]Credential
	now     func() time.Time
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		entries: map[CredentialKey]Credential{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryCredentialStore) Get(_ context.Context, key CredentialKey) (Credential, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	credential, ok := s.entries[key.normalized()]
	if !ok {
		return Credential{}, false, nil
	}
	return cloneCredential(credential), true, nil
}

func (s *MemoryCredentialStore) Upsert(_ context.Context, in CredentialUpsert) (Credential, error) {
	key := CredentialKey{Owner: in.Owner, ProviderID: in.ProviderID}.normalized()
	if key.Owner == "" || key.ProviderID == "" {
		return Credential{}, fmt.Errorf("core: owner and provider id are required")
	}
	if len(in.EncryptedAccessToken) == 0 {
		return Credential{}, fmt.Errorf("core: encrypted access token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	credential, ok := s.entries[key]
	if !ok {
		credential = Credential{
			ID:         uuid.NewString(),
			Owner:      key.Owner,
			ProviderID: key.ProviderID,
		}
	}
	expiresAt := in.ExpiresAt
	credential.EncryptedAccessToken = append([]byte(nil), in.EncryptedAccessToken...)
	credential.EncryptedRefreshToken = append([]byte(nil), in.EncryptedRefreshToken...)
	credential.TokenType = NormalizeTokenType(in.TokenType)
	credential.ExpiresAt = &expiresAt
	credential.Scopes = append([]string(nil), in.Scopes...)
	credential.AccountID = in.Account.AccountID
	credential.Email = in.Account.Email
	credential.DisplayName = in.Account.DisplayName
	credential.IsActive = true
	credential.DeactivationReason = ""
	credential.ConnectedAt = in.ConnectedAt
	if credential.ConnectedAt.IsZero() {
		credential.ConnectedAt = now
	}
	credential.UpdatedAt = now
	s.entries[key] = credential
	return cloneCredential(credential), nil
}

func (s *MemoryCredentialStore) UpdateTokens(_ context.Context, key CredentialKey, in TokenUpdate) (Credential, error) {
	key = key.normalized()
	if len(in.EncryptedAccessToken) == 0 {
		return Credential{}, fmt.Errorf("core: encrypted access token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.entries[key]
	if !ok || !credential.IsActive {
		return Credential{}, NewNotConnectedError(key.Owner, key.ProviderID)
	}
	expiresAt := in.ExpiresAt
	credential.EncryptedAccessToken = append([]byte(nil), in.EncryptedAccessToken...)
	credential.EncryptedRefreshToken = append([]byte(nil), in.EncryptedRefreshToken...)
	credential.TokenType = NormalizeTokenType(in.TokenType)
	credential.ExpiresAt = &expiresAt
	credential.Scopes = append([]string(nil), in.Scopes...)
	credential.UpdatedAt = s.now()
	s.entries[key] = credential
	return cloneCredential(credential), nil
}

func (s *MemoryCredentialStore) UpdateAccountInfo(_ context.Context, key CredentialKey, account AccountInfo) (Credential, error) {
	key = key.normalized()

	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.entries[key]
	if !ok || !credential.IsActive {
		return Credential{}, NewNotConnectedError(key.Owner, key.ProviderID)
	}
	credential.AccountID = account.AccountID
	credential.Email = account.Email
	credential.DisplayName = account.DisplayName
	credential.UpdatedAt = s.now()
	s.entries[key] = credential
	return cloneCredential(credential), nil
}

func (s *MemoryCredentialStore) Deactivate(_ context.Context, key CredentialKey, reason string, clearTokens bool) (bool, error) {
	key = key.normalized()

	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.entries[key]
	if !ok || !credential.IsActive {
		return false, nil
	}
	credential.IsActive = false
	credential.DeactivationReason = strings.TrimSpace(reason)
	if clearTokens {
		credential.EncryptedAccessToken = nil
		credential.EncryptedRefreshToken = nil
	}
	credential.UpdatedAt = s.now()
	s.entries[key] = credential
	return true, nil
}

func (s *MemoryCredentialStore) ListDue(_ context.Context, providerID string, cutoff time.Time) ([]Credential, error) {
	providerID = strings.TrimSpace(providerID)

	s.mu.RLock()
	defer s.mu.RUnlock()
	due := make([]Credential, 0)
	for key, credential := range s.entries {
		if key.ProviderID != providerID || !credential.IsActive || !credential.HasRefreshToken() {
			continue
		}
		if credential.ExpiresAt != nil && credential.ExpiresAt.After(cutoff) {
			continue
		}
		due = append(due, cloneCredential(credential))
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].Owner < due[j].Owner
	})
	return due, nil
}
