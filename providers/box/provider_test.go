package box

import (
	"context"
	"net/http"
	"testing"

	"github.com/goliatone/go-cloudauth/core"
	"github.com/goliatone/go-cloudauth/providers/devkit"
)

func newTestProvider(t *testing.T, vendor *devkit.FakeVendor) *Provider {
	t.Helper()
	provider, err := New(Config{
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
	return provider
}

func TestProvider_Conformance(t *testing.T) {
	vendor := devkit.NewFakeVendor(t, "box-client", "box-secret")
	provider := newTestProvider(t, vendor)

	if provider.ID() != "box" {
		t.Fatalf("expected id box, got %q", provider.ID())
	}
	if err := devkit.ValidateProviderConformance(context.Background(), provider, vendor, devkit.DefaultConformanceFixture()); err != nil {
		t.Fatalf("conformance: %v", err)
	}
}

func TestProvider_ExchangeBoxCode(t *testing.T) {
	vendor := devkit.NewFakeVendor(t, "box-client", "box-secret")
	vendor.IssueCode("abc", devkit.TokenFixture{AccessToken: "AT1", RefreshToken: "RT1", ExpiresIn: 3600})
	provider := newTestProvider(t, vendor)

	tokens, err := provider.ExchangeCode(context.Background(), "abc", "https://app.example.test/api/v1/box/callback")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tokens.AccessToken != "AT1" || tokens.RefreshToken != "RT1" || tokens.ExpiresIn != 3600 {
		t.Fatalf("unexpected tokens %+v", tokens)
	}
	form := vendor.Requests()[0].Form
	if form["redirect_uri"] != "https://app.example.test/api/v1/box/callback" {
		t.Fatalf("expected redirect uri in exchange, got %q", form["redirect_uri"])
	}
}

func TestProvider_FetchAccountInfo(t *testing.T) {
	vendor := devkit.NewFakeVendor(t, "box-client", "box-secret")
	vendor.HandleJSON(http.MethodGet, "/users/me", http.StatusOK, map[string]any{
		"type":  "user",
		"id":    "11446498",
		"login": "ceo@example.com",
		"name":  "Aaron Levie",
	})
	provider := newTestProvider(t, vendor)

	account, err := provider.FetchAccountInfo(context.Background(), "AT1")
	if err != nil {
		t.Fatalf("fetch account: %v", err)
	}
	if account.AccountID != "11446498" || account.Email != "ceo@example.com" || account.DisplayName != "Aaron Levie" {
		t.Fatalf("unexpected account %+v", account)
	}
	if got := vendor.Requests()[0].Authorization; got != "Bearer AT1" {
		t.Fatalf("expected bearer header, got %q", got)
	}
}

func TestProvider_ListFolderPaginates(t *testing.T) {
	vendor := devkit.NewFakeVendor(t, "box-client", "box-secret")
	vendor.Handle(http.MethodGet, "/folders/0/items", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") == "2" {
			devkit.WriteJSON(w, http.StatusOK, map[string]any{
				"total_count": 3,
				"offset":      2,
				"entries": []map[string]any{
					{"type": "file", "id": "3", "name": "notes.txt", "size": 12, "modified_at": "2026-01-02T03:04:05Z"},
				},
			})
			return
		}
		devkit.WriteJSON(w, http.StatusOK, map[string]any{
			"total_count": 3,
			"offset":      0,
			"entries": []map[string]any{
				{"type": "folder", "id": "1", "name": "Docs"},
				{"type": "file", "id": "2", "name": "report.pdf", "size": 2048},
			},
		})
	})
	provider := newTestProvider(t, vendor)

	first, err := provider.ListFolder(context.Background(), "AT1", "", core.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if first.Path != RootFolderID || first.TotalCount != 3 || len(first.Entries) != 2 {
		t.Fatalf("unexpected first page %+v", first)
	}
	if first.Entries[0].Type != core.FileTypeFolder || first.Entries[1].Type != core.FileTypeFile || first.Entries[1].Size != 2048 {
		t.Fatalf("unexpected entries %+v", first.Entries)
	}
	if !first.HasMore || first.Cursor != "2" {
		t.Fatalf("expected next cursor 2, got %+v", first)
	}
	if got := vendor.Requests()[0].RawQuery; got != "fields=id%2Cname%2Ctype%2Csize%2Cmodified_at%2Cpath_collection&limit=2&offset=0" {
		t.Fatalf("unexpected query %q", got)
	}

	second, err := provider.ListFolder(context.Background(), "AT1", "0", core.ListOptions{Limit: 2, Cursor: first.Cursor})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if second.HasMore || len(second.Entries) != 1 || second.Entries[0].Modified == nil {
		t.Fatalf("unexpected second page %+v", second)
	}

	if _, err := provider.ListFolder(context.Background(), "AT1", "0", core.ListOptions{Cursor: "abc"}); !core.IsBadInput(err) {
		t.Fatalf("expected bad input for invalid cursor, got %v", err)
	}
}

func TestProvider_ListFolderNotFound(t *testing.T) {
	vendor := devkit.NewFakeVendor(t, "box-client", "box-secret")
	vendor.HandleJSON(http.MethodGet, "/folders/999/items", http.StatusNotFound, map[string]any{
		"type": "error", "status": 404, "code": "not_found", "message": "Not Found",
	})
	provider := newTestProvider(t, vendor)

	_, err := provider.ListFolder(context.Background(), "AT1", "999", core.ListOptions{})
	if !core.IsAPIError(err) || core.StatusCode(err) != http.StatusNotFound || core.IsRetryable(err) {
		t.Fatalf("expected non-retryable 404, got %v", err)
	}
}
