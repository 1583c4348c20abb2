package core

import (
	"context"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Provider is the contract each cloud-storage vendor implements. The engine
// never branches on which vendor sits behind it.
type Provider interface {
	ID() string
	AuthorizationURL(redirectURI string, state string) (string, error)
	ExchangeCode(ctx context.Context, code string, redirectURI string) (TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)
	FetchAccountInfo(ctx context.Context, accessToken string) (AccountInfo, error)
	ListFolder(ctx context.Context, accessToken string, folderRef string, opts ListOptions) (FolderListing, error)
}

// TokenRevoker is implemented by providers exposing a revocation endpoint.
type TokenRevoker interface {
	Revoke(ctx context.Context, token string) error
}

type Registry interface {
	Register(provider Provider) error
	Get(providerID string) (Provider, bool)
	List() []Provider
}

// Cipher encrypts token material before it reaches a store.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type CredentialStore interface {
	Get(ctx context.Context, key CredentialKey) (Credential, bool, error)
	// Upsert creates or reactivates the credential of key, replacing tokens,
	// scopes and identity.
	Upsert(ctx context.Context, in CredentialUpsert) (Credential, error)
	// UpdateTokens replaces token material of an active credential in a single write.
	UpdateTokens(ctx context.Context, key CredentialKey, in TokenUpdate) (Credential, error)
	UpdateAccountInfo(ctx context.Context, key CredentialKey, account AccountInfo) (Credential, error)
	// Deactivate flips an active credential to inactive. It reports false when
	// no active credential exists.
	Deactivate(ctx context.Context, key CredentialKey, reason string, clearTokens bool) (bool, error)
	// ListDue returns active credentials holding a refresh token whose access
	// token expires at or before the cutoff.
	ListDue(ctx context.Context, providerID string, cutoff time.Time) ([]Credential, error)
}

type AuthorizationStateStore interface {
	Save(ctx context.Context, state AuthorizationState) error
	// Consume deletes and returns the state in one step, so a token can be
	// redeemed at most once.
	Consume(ctx context.Context, token string) (AuthorizationState, error)
	Pending(ctx context.Context, owner string, providerID string, now time.Time) (bool, error)
}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// RefreshLocker serializes refreshes of one credential across processes.
type RefreshLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

type RefreshBackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// OwnerResolver plugs the host application's authentication into the web
// layer. Owner identity is opaque to the engine.
type OwnerResolver interface {
	ResolveOwner(r *http.Request) (string, error)
	Authenticate(next http.Handler) http.Handler
}

type StoreProvider interface {
	CredentialStore() CredentialStore
	AuthorizationStateStore() AuthorizationStateStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// LifecycleService is the public surface of the token lifecycle engine.
type LifecycleService interface {
	GetAuthorizationURL(ctx context.Context, req AuthorizationRequest) (AuthorizationResponse, error)
	CompleteAuthorization(ctx context.Context, req CompleteAuthorizationRequest) (ConnectionStatus, error)
	EnsureValid(ctx context.Context, owner string, providerID string) (AccessToken, error)
	RefreshIfDue(ctx context.Context, owner string, providerID string, horizon time.Duration) (RefreshOutcome, error)
	RefreshDue(ctx context.Context, providerID string, horizon time.Duration) (RefreshDueResult, error)
	Disconnect(ctx context.Context, owner string, providerID string) (bool, error)
	GetConnectionStatus(ctx context.Context, owner string, providerID string) (ConnectionStatus, error)
	RefreshAccountInfo(ctx context.Context, owner string, providerID string) (ConnectionStatus, error)
	ListFolder(ctx context.Context, owner string, providerID string, folderRef string, opts ListOptions) (FolderListing, error)
}
