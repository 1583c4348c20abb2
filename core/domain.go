package core

import (
	"strings"
	"time"
)

// CredentialState is the lifecycle state of an owner's link to a provider.
// It is derived from the stored credential and the state guard, never stored.
type CredentialState string

const (
	CredentialStateUnconnected          CredentialState = "unconnected"
	CredentialStatePendingAuthorization CredentialState = "pending_authorization"
	CredentialStateConnected            CredentialState = "connected"
	CredentialStateRefreshing           CredentialState = "refreshing"
	CredentialStateNeedsReauth          CredentialState = "needs_reauth"
	CredentialStateDisconnected         CredentialState = "disconnected"
)

const (
	DeactivationReasonDisconnected  = "disconnected"
	DeactivationReasonRefreshFailed = "refresh_failed"
)

const DefaultTokenType = "bearer"

// DefaultTokenLifetime is assumed when a provider omits expires_in.
const DefaultTokenLifetime = time.Hour

// Credential is the persisted link between one owner and one provider.
// Token fields only ever hold ciphertext.
type Credential struct {
	ID                    string
	Owner                 string
	ProviderID            string
	EncryptedAccessToken  []byte
	EncryptedRefreshToken []byte
	TokenType             string
	ExpiresAt             *time.Time
	AccountID             string
	Email                 string
	DisplayName           string
	Scopes                []string
	IsActive              bool
	DeactivationReason    string
	ConnectedAt           time.Time
	UpdatedAt             time.Time
}

func (c Credential) State() CredentialState {
	if c.IsActive {
		return CredentialStateConnected
	}
	if c.DeactivationReason == DeactivationReasonRefreshFailed {
		return CredentialStateNeedsReauth
	}
	return CredentialStateDisconnected
}

func (c Credential) Key() CredentialKey {
	return CredentialKey{Owner: c.Owner, ProviderID: c.ProviderID}
}

func (c Credential) HasRefreshToken() bool {
	return len(c.EncryptedRefreshToken) > 0
}

// DueWithin reports whether the access token expires at or before now+window.
// A credential without an expiry is always due.
func (c Credential) DueWithin(now time.Time, window time.Duration) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return !c.ExpiresAt.After(now.Add(window))
}

// CredentialKey identifies the single active credential slot of an owner.
type CredentialKey struct {
	Owner      string
	ProviderID string
}

func (k CredentialKey) String() string {
	return k.ProviderID + "|" + k.Owner
}

func (k CredentialKey) normalized() CredentialKey {
	return CredentialKey{
		Owner:      strings.TrimSpace(k.Owner),
		ProviderID: strings.TrimSpace(k.ProviderID),
	}
}

// CredentialUpsert is the plaintext-free payload written after a code exchange.
type CredentialUpsert struct {
	Owner                 string
	ProviderID            string
	EncryptedAccessToken  []byte
	EncryptedRefreshToken []byte
	TokenType             string
	ExpiresAt             time.Time
	Scopes                []string
	Account               AccountInfo
	ConnectedAt           time.Time
}

// TokenUpdate is the single-write payload of a successful refresh.
type TokenUpdate struct {
	EncryptedAccessToken  []byte
	EncryptedRefreshToken []byte
	TokenType             string
	ExpiresAt             time.Time
	Scopes                []string
}

// TokenSet is a provider token response. It only lives in memory.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Scopes       []string
}

// ExpiresAt resolves the absolute expiry of the set, defaulting to one hour.
func (t TokenSet) ExpiresAt(now time.Time) time.Time {
	if t.ExpiresIn <= 0 {
		return now.Add(DefaultTokenLifetime)
	}
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

type AccountInfo struct {
	AccountID   string
	Email       string
	DisplayName string
}

func (a AccountInfo) Empty() bool {
	return a.AccountID == "" && a.Email == "" && a.DisplayName == ""
}

type ListOptions struct {
	Cursor string
	Limit  int
	Offset int
}

const (
	FileTypeFile   = "file"
	FileTypeFolder = "folder"
)

type FileInfo struct {
	ID       string
	Name     string
	Path     string
	Type     string
	Size     int64
	MimeType string
	Modified *time.Time
}

type FolderListing struct {
	Path       string
	Entries    []FileInfo
	TotalCount int
	HasMore    bool
	Cursor     string
}

// AuthorizationState binds a consent redirect to the owner and provider that
// started it.
type AuthorizationState struct {
	Token       string
	Owner       string
	ProviderID  string
	RedirectURI string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (s AuthorizationState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

type ConnectionStatus struct {
	Connected   bool
	State       CredentialState
	ProviderID  string
	AccountID   string
	Email       string
	DisplayName string
	Scopes      []string
	ConnectedAt *time.Time
	ExpiresAt   *time.Time
}

type AuthorizationRequest struct {
	Owner       string
	ProviderID  string
	RedirectURI string
}

type AuthorizationResponse struct {
	URL       string
	State     string
	ExpiresAt time.Time
}

type CompleteAuthorizationRequest struct {
	Owner       string
	ProviderID  string
	Code        string
	State       string
	RedirectURI string
}

type AccessToken struct {
	Token     string
	TokenType string
	ExpiresAt time.Time
}

type RefreshOutcome struct {
	Refreshed bool
	ExpiresAt *time.Time
}

type RefreshDueResult struct {
	ProviderID  string
	Scanned     int
	Refreshed   int
	Failed      int
	Deactivated int
}

func statusFromCredential(credential Credential) ConnectionStatus {
	status := ConnectionStatus{
		Connected:   credential.IsActive,
		State:       credential.State(),
		ProviderID:  credential.ProviderID,
		AccountID:   credential.AccountID,
		Email:       credential.Email,
		DisplayName: credential.DisplayName,
		Scopes:      append([]string(nil), credential.Scopes...),
	}
	if !credential.ConnectedAt.IsZero() {
		connectedAt := credential.ConnectedAt
		status.ConnectedAt = &connectedAt
	}
	if credential.ExpiresAt != nil {
		expiresAt := *credential.ExpiresAt
		status.ExpiresAt = &expiresAt
	}
	return status
}

func cloneCredential(credential Credential) Credential {
	cloned := credential
	cloned.EncryptedAccessToken = append([]byte(nil), credential.EncryptedAccessToken...)
	cloned.EncryptedRefreshToken = append([]byte(nil), credential.EncryptedRefreshToken...)
	cloned.Scopes = append([]string(nil), credential.Scopes...)
	if credential.ExpiresAt != nil {
		expiresAt := *credential.ExpiresAt
		cloned.ExpiresAt = &expiresAt
	}
	return cloned
}

// NormalizeScopes trims, drops blanks and removes duplicates while keeping order.
func NormalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	return out
}
