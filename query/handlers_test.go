package query

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-cloudauth/core"
)

func TestConnectionStatusQuery_QueryDelegates(t *testing.T) {
	called := false
	reader := stubReader{
		statusFn: func(_ context.Context, owner string, providerID string) (core.ConnectionStatus, error) {
			called = true
			if owner != "u1" || providerID != "box" {
				t.Fatalf("unexpected status request: %q %q", owner, providerID)
			}
			return core.ConnectionStatus{Connected: true, ProviderID: "box", Email: "a@example.com"}, nil
		},
	}
	status, err := NewConnectionStatusQuery(reader).Query(context.Background(), ConnectionStatusMessage{Owner: "u1", ProviderID: "box"})
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	if !called || !status.Connected || status.Email != "a@example.com" {
		t.Fatalf("unexpected status: %#v", status)
	}
}

func TestAccessTokenQuery_QueryDelegates(t *testing.T) {
	expiry := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	reader := stubReader{
		tokenFn: func(context.Context, string, string) (core.AccessToken, error) {
			return core.AccessToken{Token: "at", TokenType: "bearer", ExpiresAt: expiry}, nil
		},
	}
	token, err := NewAccessTokenQuery(reader).Query(context.Background(), AccessTokenMessage{Owner: "u1", ProviderID: "dropbox"})
	if err != nil {
		t.Fatalf("query token: %v", err)
	}
	if token.Token != "at" || !token.ExpiresAt.Equal(expiry) {
		t.Fatalf("unexpected token: %#v", token)
	}
}

func TestListFolderQuery_QueryPassesOptions(t *testing.T) {
	reader := stubReader{
		listFn: func(_ context.Context, _ string, _ string, folderRef string, opts core.ListOptions) (core.FolderListing, error) {
			if folderRef != "/Docs" || opts.Limit != 50 || opts.Cursor != "c1" {
				t.Fatalf("unexpected listing request: %q %#v", folderRef, opts)
			}
			return core.FolderListing{Path: "/Docs", HasMore: true, Cursor: "c2"}, nil
		},
	}
	listing, err := NewListFolderQuery(reader).Query(context.Background(), ListFolderMessage{
		Owner:      "u1",
		ProviderID: "dropbox",
		FolderRef:  "/Docs",
		Options:    core.ListOptions{Limit: 50, Cursor: "c1"},
	})
	if err != nil {
		t.Fatalf("query listing: %v", err)
	}
	if !listing.HasMore || listing.Cursor != "c2" {
		t.Fatalf("unexpected listing: %#v", listing)
	}
}

func TestQueries_PropagateServiceErrors(t *testing.T) {
	reader := stubReader{
		tokenFn: func(context.Context, string, string) (core.AccessToken, error) {
			return core.AccessToken{}, core.NewNotConnectedError("u1", "box")
		},
	}
	_, err := NewAccessTokenQuery(reader).Query(context.Background(), AccessTokenMessage{Owner: "u1", ProviderID: "box"})
	if !core.IsNotConnected(err) {
		t.Fatalf("expected not connected error, got %v", err)
	}
}

type stubReader struct {
	statusFn func(context.Context, string, string) (core.ConnectionStatus, error)
	tokenFn  func(context.Context, string, string) (core.AccessToken, error)
	listFn   func(context.Context, string, string, string, core.ListOptions) (core.FolderListing, error)
}

func (s stubReader) GetConnectionStatus(ctx context.Context, owner string, providerID string) (core.ConnectionStatus, error) {
	return s.statusFn(ctx, owner, providerID)
}

func (s stubReader) EnsureValid(ctx context.Context, owner string, providerID string) (core.AccessToken, error) {
	return s.tokenFn(ctx, owner, providerID)
}

func (s stubReader) ListFolder(ctx context.Context, owner string, providerID string, folderRef string, opts core.ListOptions) (core.FolderListing, error) {
	return s.listFn(ctx, owner, providerID, folderRef, opts)
}
