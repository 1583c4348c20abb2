package sqlstore_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-cloudauth/core"
	"github.com/goliatone/go-cloudauth/providers/box"
	"github.com/goliatone/go-cloudauth/providers/devkit"
	"github.com/goliatone/go-cloudauth/ratelimit"
	"github.com/goliatone/go-cloudauth/security"
	sqlstore "github.com/goliatone/go-cloudauth/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const testAppKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-cloudauth-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{
		"cloudauth_credentials",
		"cloudauth_authorization_states",
		"cloudauth_rate_limit_states",
	} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestMigrationDialect(t *testing.T) {
	cases := map[string]string{
		"postgres": "postgres",
		" pgx ":    "postgres",
		"sqlite3":  "sqlite",
		"SQLite":   "sqlite",
	}
	for driver, want := range cases {
		got, err := sqlstore.MigrationDialect(driver)
		if err != nil || got != want {
			t.Fatalf("driver %q: expected %q, got %q (%v)", driver, want, got, err)
		}
	}
	if _, err := sqlstore.MigrationDialect("mysql"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if err := sqlstore.RegisterMigrations(context.Background(), nil, sqlstore.DriverSQLite); err == nil {
		t.Fatalf("expected error without persistence client")
	}
}

func TestCredentialStore_UpsertReusesRowPerOwnerAndProvider(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).CredentialStore()

	first, err := store.Upsert(ctx, credentialUpsert("u1", "box", "enc-at-1", "enc-rt-1", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.ID == "" || !first.IsActive || first.Email != "u1@example.com" {
		t.Fatalf("unexpected first credential %#v", first)
	}

	second, err := store.Upsert(ctx, credentialUpsert(" u1 ", "box", "enc-at-2", "enc-rt-2", time.Now().Add(2*time.Hour)))
	if err != nil {
		t.Fatalf("reconnect upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected reconnect to reuse row %s, got %s", first.ID, second.ID)
	}
	if string(second.EncryptedAccessToken) != "enc-at-2" {
		t.Fatalf("expected replaced token material, got %q", second.EncryptedAccessToken)
	}

	other, err := store.Upsert(ctx, credentialUpsert("u1", "dropbox", "enc-at-3", "enc-rt-3", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("other provider upsert: %v", err)
	}
	if other.ID == first.ID {
		t.Fatalf("expected a separate row per provider")
	}

	loaded, ok, err := store.Get(ctx, core.CredentialKey{Owner: "u1", ProviderID: "box"})
	if err != nil || !ok {
		t.Fatalf("get credential: ok=%v err=%v", ok, err)
	}
	if len(loaded.Scopes) != 1 || loaded.Scopes[0] != "files.read" {
		t.Fatalf("expected scopes round trip, got %v", loaded.Scopes)
	}
	if _, ok, err := store.Get(ctx, core.CredentialKey{Owner: "u2", ProviderID: "box"}); err != nil || ok {
		t.Fatalf("expected no credential for other owner, ok=%v err=%v", ok, err)
	}

	if _, err := store.Upsert(ctx, core.CredentialUpsert{Owner: "u1", ProviderID: "box"}); err == nil {
		t.Fatalf("expected upsert without access token to fail")
	}
}

func TestCredentialStore_UpdateTokensDeactivateAndReconnect(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).CredentialStore()
	key := core.CredentialKey{Owner: "u1", ProviderID: "google_drive"}

	created, err := store.Upsert(ctx, credentialUpsert("u1", "google_drive", "enc-at-1", "enc-rt-1", time.Now().Add(time.Minute)))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	expiresAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	updated, err := store.UpdateTokens(ctx, key, core.TokenUpdate{
		EncryptedAccessToken:  []byte("enc-at-2"),
		EncryptedRefreshToken: []byte("enc-rt-2"),
		TokenType:             "Bearer",
		ExpiresAt:             expiresAt,
		Scopes:                []string{"drive.readonly"},
	})
	if err != nil {
		t.Fatalf("update tokens: %v", err)
	}
	if string(updated.EncryptedAccessToken) != "enc-at-2" || string(updated.EncryptedRefreshToken) != "enc-rt-2" {
		t.Fatalf("expected rotated tokens, got %#v", updated)
	}
	if updated.ExpiresAt == nil || !updated.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("expected expiry %s, got %v", expiresAt, updated.ExpiresAt)
	}

	account, err := store.UpdateAccountInfo(ctx, key, core.AccountInfo{AccountID: "acc-9", Email: "new@example.com", DisplayName: "New"})
	if err != nil {
		t.Fatalf("update account info: %v", err)
	}
	if account.Email != "new@example.com" || account.AccountID != "acc-9" {
		t.Fatalf("unexpected account info %#v", account)
	}

	existed, err := store.Deactivate(ctx, key, "refresh_failed", true)
	if err != nil || !existed {
		t.Fatalf("deactivate: existed=%v err=%v", existed, err)
	}
	existed, err = store.Deactivate(ctx, key, "refresh_failed", true)
	if err != nil || existed {
		t.Fatalf("expected second deactivate to be a no-op, existed=%v err=%v", existed, err)
	}

	inactive, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("get inactive: ok=%v err=%v", ok, err)
	}
	if inactive.IsActive || inactive.DeactivationReason != "refresh_failed" {
		t.Fatalf("expected inactive credential with reason, got %#v", inactive)
	}
	if len(inactive.EncryptedAccessToken) != 0 || len(inactive.EncryptedRefreshToken) != 0 {
		t.Fatalf("expected cleared token material")
	}

	if _, err := store.UpdateTokens(ctx, key, core.TokenUpdate{EncryptedAccessToken: []byte("late")}); !core.IsNotConnected(err) {
		t.Fatalf("expected not connected for refresh after disconnect, got %v", err)
	}

	reconnected, err := store.Upsert(ctx, credentialUpsert("u1", "google_drive", "enc-at-3", "enc-rt-3", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if reconnected.ID != created.ID || !reconnected.IsActive || reconnected.DeactivationReason != "" {
		t.Fatalf("expected reconnect to reactivate the same row, got %#v", reconnected)
	}
}

func TestCredentialStore_ListDue(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).CredentialStore()
	now := time.Now().UTC()

	for _, in := range []core.CredentialUpsert{
		credentialUpsert("due-b", "box", "at", "rt", now.Add(10*time.Minute)),
		credentialUpsert("due-a", "box", "at", "rt", now.Add(-time.Minute)),
		credentialUpsert("later", "box", "at", "rt", now.Add(48*time.Hour)),
		credentialUpsert("no-refresh", "box", "at", "", now.Add(time.Minute)),
		credentialUpsert("other-provider", "dropbox", "at", "rt", now.Add(time.Minute)),
		credentialUpsert("gone", "box", "at", "rt", now.Add(time.Minute)),
	} {
		if _, err := store.Upsert(ctx, in); err != nil {
			t.Fatalf("seed %s: %v", in.Owner, err)
		}
	}
	if _, err := store.Deactivate(ctx, core.CredentialKey{Owner: "gone", ProviderID: "box"}, "disconnected", true); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	due, err := store.ListDue(ctx, "box", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	var owners []string
	for _, credential := range due {
		owners = append(owners, credential.Owner)
	}
	if len(owners) != 2 || owners[0] != "due-a" || owners[1] != "due-b" {
		t.Fatalf("expected due-a and due-b in owner order, got %v", owners)
	}
}

func TestAuthorizationStateStore_ConsumeOnceAndPending(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).AuthorizationStateStore()
	now := time.Now().UTC()

	state := core.AuthorizationState{
		Token:       "state-1",
		Owner:       "u1",
		ProviderID:  "onedrive",
		RedirectURI: "https://app.example.test/api/v1/onedrive/callback",
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}
	pending, err := store.Pending(ctx, "u1", "onedrive", now)
	if err != nil || !pending {
		t.Fatalf("expected pending authorization, pending=%v err=%v", pending, err)
	}

	const callers = 4
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumed, err := store.Consume(ctx, "state-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && consumed.RedirectURI == state.RedirectURI:
				successes++
			case core.IsAuthenticationError(err):
				failures++
			default:
				t.Errorf("unexpected consume result %#v %v", consumed, err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || failures != callers-1 {
		t.Fatalf("expected single use state, successes=%d failures=%d", successes, failures)
	}

	pending, err = store.Pending(ctx, "u1", "onedrive", now)
	if err != nil || pending {
		t.Fatalf("expected no pending authorization after consume, pending=%v err=%v", pending, err)
	}
}

func TestAuthorizationStateStore_SweepsExpiredStates(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).AuthorizationStateStore()
	now := time.Now().UTC()

	if err := store.Save(ctx, core.AuthorizationState{
		Token: "stale", Owner: "u1", ProviderID: "box",
		CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-50 * time.Minute),
	}); err != nil {
		t.Fatalf("save stale: %v", err)
	}
	if pending, err := store.Pending(ctx, "u1", "box", now); err != nil || pending {
		t.Fatalf("expected expired state not to count as pending, pending=%v err=%v", pending, err)
	}
	if err := store.Save(ctx, core.AuthorizationState{
		Token: "fresh", Owner: "u2", ProviderID: "box",
		CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute),
	}); err != nil {
		t.Fatalf("save fresh: %v", err)
	}
	if _, err := store.Consume(ctx, "stale"); !core.IsAuthenticationError(err) {
		t.Fatalf("expected swept state to be gone, got %v", err)
	}
	if err := store.Save(ctx, core.AuthorizationState{}); err == nil {
		t.Fatalf("expected save without token to fail")
	}
}

func TestRateLimitStateStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.RateLimitStateStore()
	key := ratelimit.Key{ProviderID: "Dropbox", Bucket: " API "}

	if _, err := store.Get(ctx, key); !errors.Is(err, ratelimit.ErrStateNotFound) {
		t.Fatalf("expected not found before first write, got %v", err)
	}

	until := time.Now().Add(30 * time.Second).UTC().Truncate(time.Second)
	retryAfter := 30 * time.Second
	if err := store.Upsert(ctx, ratelimit.State{
		Key:            key,
		Limit:          100,
		Remaining:      0,
		RetryAfter:     &retryAfter,
		ThrottledUntil: &until,
		LastStatus:     http.StatusTooManyRequests,
		Attempts:       1,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	state, err := store.Get(ctx, ratelimit.Key{ProviderID: "dropbox", Bucket: "api"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.Attempts != 1 || state.LastStatus != http.StatusTooManyRequests {
		t.Fatalf("unexpected state %#v", state)
	}
	if state.ThrottledUntil == nil || !state.ThrottledUntil.Equal(until) {
		t.Fatalf("expected throttle window %s, got %v", until, state.ThrottledUntil)
	}
	if state.RetryAfter == nil || *state.RetryAfter != retryAfter {
		t.Fatalf("expected retry after %s, got %v", retryAfter, state.RetryAfter)
	}

	if err := store.Upsert(ctx, ratelimit.State{Key: key, Limit: 100, Remaining: 99, LastStatus: http.StatusOK}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	state, err = store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if state.Remaining != 99 || state.ThrottledUntil != nil || state.Attempts != 0 {
		t.Fatalf("expected cleared throttle, got %#v", state)
	}

	var count int
	if err := factory.DB().NewRaw("SELECT COUNT(*) FROM cloudauth_rate_limit_states").Scan(ctx, &count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one row per bucket, got %d", count)
	}
}

func TestNewService_WiresStoresFromPersistenceAndRepositoryFactory(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	cipher := newCipher(t)

	repoFactory := sqlstore.NewRepositoryFactory()
	svc, err := core.NewService(core.DefaultConfig(),
		core.WithPersistenceClient(client),
		core.WithRepositoryFactory(repoFactory),
		core.WithCipher(cipher),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	deps := svc.Dependencies()
	if deps.PersistenceClient != client {
		t.Fatalf("expected persistence client override")
	}
	if deps.RepositoryFactory != repoFactory {
		t.Fatalf("expected repository factory override")
	}
	if _, ok := deps.CredentialStore.(*sqlstore.CredentialStore); !ok {
		t.Fatalf("expected sql credential store from repository factory build, got %T", deps.CredentialStore)
	}
	if _, ok := deps.AuthorizationStateStore.(*sqlstore.AuthorizationStateStore); !ok {
		t.Fatalf("expected sql authorization state store, got %T", deps.AuthorizationStateStore)
	}

	customCred := core.NewMemoryCredentialStore()
	svc, err = core.NewService(core.DefaultConfig(),
		core.WithPersistenceClient(client),
		core.WithRepositoryFactory(repoFactory),
		core.WithCredentialStore(customCred),
		core.WithCipher(cipher),
	)
	if err != nil {
		t.Fatalf("new service with explicit store: %v", err)
	}
	deps = svc.Dependencies()
	if deps.CredentialStore != customCred {
		t.Fatalf("expected explicit credential store override precedence")
	}
	if _, ok := deps.AuthorizationStateStore.(*sqlstore.AuthorizationStateStore); !ok {
		t.Fatalf("expected state store to still come from the factory, got %T", deps.AuthorizationStateStore)
	}

	if _, err := sqlstore.NewRepositoryFactoryFromDB(nil); err == nil {
		t.Fatalf("expected factory error without db")
	}
	if _, err := sqlstore.NewRepositoryFactory().BuildStores("not a client"); err == nil {
		t.Fatalf("expected factory error for unsupported client")
	}
}

func TestService_CredentialLifecycleOnSQLite_Integration(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	vendor := devkit.NewFakeVendor(t, "box-client", "box-secret")
	vendor.IssueCode("code-1", devkit.TokenFixture{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresIn: 120})
	vendor.IssueRefresh("rt-1", devkit.TokenFixture{AccessToken: "at-2", RefreshToken: "rt-2", ExpiresIn: 3600})
	vendor.HandleJSON(http.MethodGet, "/users/me", http.StatusOK, map[string]any{
		"id": "42", "login": "owner@example.com", "name": "Owner",
	})
	provider, err := box.New(box.Config{
		ClientID:     vendor.ClientID,
		ClientSecret: vendor.ClientSecret,
		AuthURL:      vendor.AuthURL(),
		TokenURL:     vendor.TokenURL(),
		RevokeURL:    vendor.RevokeURL(),
		APIBaseURL:   vendor.APIBaseURL(),
		HTTPClient:   vendor.Client(),
	})
	if err != nil {
		t.Fatalf("new box provider: %v", err)
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	cfg := core.DefaultConfig()
	cfg.CallbackBaseURL = "https://app.example.test"
	svc, err := core.NewService(cfg,
		core.WithRepositoryFactory(factory),
		core.WithRegistry(core.NewProviderRegistry(provider)),
		core.WithCipher(newCipher(t)),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	auth, err := svc.GetAuthorizationURL(ctx, core.AuthorizationRequest{Owner: "u1", ProviderID: box.ProviderID})
	if err != nil {
		t.Fatalf("authorization url: %v", err)
	}
	if pending, err := factory.AuthorizationStateStore().Pending(ctx, "u1", box.ProviderID, time.Now()); err != nil || !pending {
		t.Fatalf("expected persisted pending state, pending=%v err=%v", pending, err)
	}
	status, err := svc.CompleteAuthorization(ctx, core.CompleteAuthorizationRequest{
		Owner: "u1", ProviderID: box.ProviderID, Code: "code-1", State: auth.State,
	})
	if err != nil {
		t.Fatalf("complete authorization: %v", err)
	}
	if !status.Connected || status.Email != "owner@example.com" {
		t.Fatalf("unexpected status %#v", status)
	}

	key := core.CredentialKey{Owner: "u1", ProviderID: box.ProviderID}
	stored, ok, err := factory.CredentialStore().Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("load stored credential: ok=%v err=%v", ok, err)
	}
	if bytes.Contains(stored.EncryptedAccessToken, []byte("at-1")) || bytes.Contains(stored.EncryptedRefreshToken, []byte("rt-1")) {
		t.Fatalf("expected token material encrypted at rest")
	}

	result, err := svc.RefreshDue(ctx, box.ProviderID, time.Hour)
	if err != nil {
		t.Fatalf("refresh due: %v", err)
	}
	if result.Scanned != 1 || result.Refreshed != 1 {
		t.Fatalf("expected one refreshed credential, got %#v", result)
	}
	token, err := svc.EnsureValid(ctx, "u1", box.ProviderID)
	if err != nil {
		t.Fatalf("ensure valid: %v", err)
	}
	if token.Token != "at-2" {
		t.Fatalf("expected refreshed token from sql store, got %q", token.Token)
	}

	existed, err := svc.Disconnect(ctx, "u1", box.ProviderID)
	if err != nil || !existed {
		t.Fatalf("disconnect: existed=%v err=%v", existed, err)
	}
	stored, _, err = factory.CredentialStore().Get(ctx, key)
	if err != nil {
		t.Fatalf("load after disconnect: %v", err)
	}
	if stored.IsActive {
		t.Fatalf("expected inactive row after disconnect")
	}
	if _, err := svc.EnsureValid(ctx, "u1", box.ProviderID); !core.IsNotConnected(err) {
		t.Fatalf("expected not connected after disconnect, got %v", err)
	}
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:cloudauth-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	if err := sqlstore.Migrate(context.Background(), client, sqlstore.DriverSQLite); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func newFactory(t *testing.T) *sqlstore.RepositoryFactory {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	t.Cleanup(cleanup)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	return factory
}

func newCipher(t *testing.T) core.Cipher {
	t.Helper()
	cipher, err := security.NewAppKeyCipherFromString(testAppKey)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return cipher
}

func credentialUpsert(owner, providerID, accessToken, refreshToken string, expiresAt time.Time) core.CredentialUpsert {
	in := core.CredentialUpsert{
		Owner:                owner,
		ProviderID:           providerID,
		EncryptedAccessToken: []byte(accessToken),
		TokenType:            "bearer",
		ExpiresAt:            expiresAt,
		Scopes:               []string{"files.read"},
		Account: core.AccountInfo{
			AccountID:   "acc-" + owner,
			Email:       owner + "@example.com",
			DisplayName: owner,
		},
	}
	if refreshToken != "" {
		in.EncryptedRefreshToken = []byte(refreshToken)
	}
	return in
}
