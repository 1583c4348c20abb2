package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type testProvider struct {
	id           string
	exchangeFn   func(ctx context.Context, code string, redirectURI string) (TokenSet, error)
	refreshFn    func(ctx context.Context, refreshToken string) (TokenSet, error)
	accountFn    func(ctx context.Context, accessToken string) (AccountInfo, error)
	listFn       func(ctx context.Context, accessToken string, folderRef string, opts ListOptions) (FolderListing, error)
	refreshCalls *atomic.Int64
}

func (p testProvider) ID() string { return p.id }

func (p testProvider) AuthorizationURL(redirectURI string, state string) (string, error) {
	return fmt.Sprintf("https://%s.example/authorize?redirect_uri=%s&state=%s", p.id, redirectURI, state), nil
}

func (p testProvider) ExchangeCode(ctx context.Context, code string, redirectURI string) (TokenSet, error) {
	if p.exchangeFn != nil {
		return p.exchangeFn(ctx, code, redirectURI)
	}
	return TokenSet{AccessToken: "access-" + code, RefreshToken: "refresh-" + code, ExpiresIn: 3600}, nil
}

func (p testProvider) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	if p.refreshCalls != nil {
		p.refreshCalls.Add(1)
	}
	if p.refreshFn != nil {
		return p.refreshFn(ctx, refreshToken)
	}
	return TokenSet{AccessToken: "refreshed-" + refreshToken, ExpiresIn: 3600}, nil
}

func (p testProvider) FetchAccountInfo(ctx context.Context, accessToken string) (AccountInfo, error) {
	if p.accountFn != nil {
		return p.accountFn(ctx, accessToken)
	}
	return AccountInfo{AccountID: "acct-1", Email: "owner@example.com", DisplayName: "Owner"}, nil
}

func (p testProvider) ListFolder(ctx context.Context, accessToken string, folderRef string, opts ListOptions) (FolderListing, error) {
	if p.listFn != nil {
		return p.listFn(ctx, accessToken, folderRef, opts)
	}
	return FolderListing{Path: folderRef}, nil
}

type revokingProvider struct {
	testProvider
	mu      sync.Mutex
	revoked []string
	err     error
}

func (p *revokingProvider) Revoke(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, token)
	return p.err
}

func (p *revokingProvider) revokedTokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

// testCipher is reversible and tags its output so tests can assert nothing
// is stored in plaintext.
type testCipher struct{}

const testCipherPrefix = "enc:"

func (testCipher) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return []byte(testCipherPrefix + base64.StdEncoding.EncodeToString(plaintext)), nil
}

func (testCipher) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	value := string(ciphertext)
	if !strings.HasPrefix(value, testCipherPrefix) {
		return nil, NewAuthenticationError("test cipher: malformed ciphertext")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(value, testCipherPrefix))
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return l.values, nil
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type serviceFixture struct {
	svc   *Service
	store *MemoryCredentialStore
	clock *testClock
}

func newServiceFixture(t *testing.T, providers []Provider, opts ...Option) serviceFixture {
	t.Helper()
	registry := NewProviderRegistry()
	for _, provider := range providers {
		if err := registry.Register(provider); err != nil {
			t.Fatalf("register provider: %v", err)
		}
	}
	clock := newTestClock()
	store := NewMemoryCredentialStore()
	store.now = clock.Now
	base := []Option{
		WithRegistry(registry),
		WithCipher(testCipher{}),
		WithCredentialStore(store),
		WithClock(clock.Now),
		WithRefreshBackoffScheduler(ExponentialBackoffScheduler{Initial: time.Millisecond, Max: 2 * time.Millisecond}),
		WithLogger(stubLogger{}),
		WithLoggerProvider(stubLoggerProvider{logger: stubLogger{}}),
	}
	svc, err := NewService(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return serviceFixture{svc: svc, store: store, clock: clock}
}

// connect runs a full authorization round trip for owner.
func (f serviceFixture) connect(t *testing.T, owner string, providerID string, code string) ConnectionStatus {
	t.Helper()
	ctx := context.Background()
	auth, err := f.svc.GetAuthorizationURL(ctx, AuthorizationRequest{
		Owner:       owner,
		ProviderID:  providerID,
		RedirectURI: "https://app.example/callback",
	})
	if err != nil {
		t.Fatalf("get authorization url: %v", err)
	}
	status, err := f.svc.CompleteAuthorization(ctx, CompleteAuthorizationRequest{
		Owner:      owner,
		ProviderID: providerID,
		Code:       code,
		State:      auth.State,
	})
	if err != nil {
		t.Fatalf("complete authorization: %v", err)
	}
	return status
}
