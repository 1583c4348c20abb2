package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
)

// StateGuard issues and redeems the opaque state parameter that ties a
// provider callback back to the owner who started the consent flow.
type StateGuard struct {
	store AuthorizationStateStore
	ttl   time.Duration
	now   func() time.Time
}

func NewStateGuard(store AuthorizationStateStore, ttl time.Duration, now func() time.Time) *StateGuard {
	if store == nil {
		store = NewMemoryAuthorizationStateStore()
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &StateGuard{store: store, ttl: ttl, now: now}
}

func (g *StateGuard) Issue(ctx context.Context, owner string, providerID string, redirectURI string) (AuthorizationState, error) {
	owner = strings.TrimSpace(owner)
	providerID = strings.TrimSpace(providerID)
	if owner == "" || providerID == "" {
		return AuthorizationState{}, NewBadInputError("core: owner and provider id are required to issue authorization state")
	}
	token, err := generateStateToken()
	if err != nil {
		return AuthorizationState{}, err
	}
	createdAt := g.now()
	state := AuthorizationState{
		Token:       token,
		Owner:       owner,
		ProviderID:  providerID,
		RedirectURI: strings.TrimSpace(redirectURI),
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(g.ttl),
	}
	if err := g.store.Save(ctx, state); err != nil {
		return AuthorizationState{}, err
	}
	return state, nil
}

// Consume redeems token for providerID. Unknown, reused, expired and
// provider-mismatched tokens all fail as authentication errors.
func (g *StateGuard) Consume(ctx context.Context, token string, providerID string) (AuthorizationState, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return AuthorizationState{}, NewAuthenticationError("core: authorization state is missing")
	}
	state, err := g.store.Consume(ctx, token)
	if err != nil {
		if IsAuthenticationError(err) {
			return AuthorizationState{}, err
		}
		return AuthorizationState{}, WithCause(NewAuthenticationError("core: authorization state could not be verified"), err)
	}
	if state.Expired(g.now()) {
		return AuthorizationState{}, NewAuthenticationError("core: authorization state expired")
	}
	if state.ProviderID != strings.TrimSpace(providerID) {
		return AuthorizationState{}, NewAuthenticationError("core: authorization state was issued for another provider")
	}
	return state, nil
}

func (g *StateGuard) Pending(ctx context.Context, owner string, providerID string) (bool, error) {
	return g.store.Pending(ctx, strings.TrimSpace(owner), strings.TrimSpace(providerID), g.now())
}

// MemoryAuthorizationStateStore keeps states in process. Expired entries are
// swept on every save.
type MemoryAuthorizationStateStore struct {
	mu      sync.Mutex
	entries map[string]AuthorizationState
	now     func() time.Time
}

func NewMemoryAuthorizationStateStore() *MemoryAuthorizationStateStore {
	return &MemoryAuthorizationStateStore{
		entries: map[string]AuthorizationState{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryAuthorizationStateStore) Save(_ context.Context, state AuthorizationState) error {
	if s == nil {
		return fmt.Errorf("core: authorization state store is not configured")
	}
	token := strings.TrimSpace(state.Token)
	if token == "" {
		return fmt.Errorf("core: authorization state token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
		}
	}
	s.entries[token] = state
	return nil
}

func (s *MemoryAuthorizationStateStore) Consume(_ context.Context, token string) (AuthorizationState, error) {
	if s == nil {
		return AuthorizationState{}, fmt.Errorf("core: authorization state store is not configured")
	}
	token = strings.TrimSpace(token)

	s.mu.Lock()
	state, ok := s.entries[token]
	if ok {
		delete(s.entries, token)
	}
	s.mu.Unlock()

	if !ok {
		return AuthorizationState{}, NewAuthenticationError("core: authorization state not found or already used")
	}
	return state, nil
}

func (s *MemoryAuthorizationStateStore) Pending(_ context.Context, owner string, providerID string, now time.Time) (bool, error) {
	if s == nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.Owner == owner && entry.ProviderID == providerID && !entry.Expired(now) {
			return true, nil
		}
	}
	return false, nil
}

func generateStateToken() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate authorization state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
