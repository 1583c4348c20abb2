package dropbox

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-cloudauth/core"
	"github.com/goliatone/go-cloudauth/providers"
	"github.com/goliatone/go-cloudauth/ratelimit"
)

const (
	ProviderID = core.ProviderDropbox
	AuthURL    = "https://www.dropbox.com/oauth2/authorize"
	TokenURL   = "https://api.dropboxapi.com/oauth2/token"
	RevokeURL  = "https://api.dropboxapi.com/2/auth/token/revoke"
	APIBaseURL = "https://api.dropboxapi.com/2"

	maxPageSize = 2000
)

type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	APIBaseURL   string
	TokenTimeout time.Duration
	APITimeout   time.Duration
	HTTPClient   *http.Client
	Policy       ratelimit.Policy
}

func DefaultConfig() Config {
	return Config{
		AuthURL:    AuthURL,
		TokenURL:   TokenURL,
		RevokeURL:  RevokeURL,
		APIBaseURL: APIBaseURL,
	}
}

type Provider struct {
	*providers.OAuth2Provider
	api *providers.APIClient
}

func New(cfg Config) (*Provider, error) {
	defaults := DefaultConfig()
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaults.AuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = defaults.RevokeURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}

	base, err := providers.NewOAuth2Provider(providers.OAuth2Config{
		ID:           ProviderID,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		RevokeURL:    cfg.RevokeURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		// Without offline access Dropbox issues short-lived tokens only.
		AuthParams:       map[string]string{"token_access_type": "offline"},
		RevokeWithBearer: true,
		TokenTimeout:     cfg.TokenTimeout,
		HTTPClient:       cfg.HTTPClient,
		Policy:           cfg.Policy,
	})
	if err != nil {
		return nil, err
	}
	api, err := providers.NewAPIClient(providers.APIClientConfig{
		ProviderID: ProviderID,
		BaseURL:    cfg.APIBaseURL,
		Timeout:    cfg.APITimeout,
		HTTPClient: cfg.HTTPClient,
		Policy:     cfg.Policy,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{OAuth2Provider: base, api: api}, nil
}

func (p *Provider) Revoke(ctx context.Context, token string) error {
	return p.RevokeToken(ctx, token)
}

type accountPayload struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Name      struct {
		DisplayName string `json:"display_name"`
	} `json:"name"`
}

func (p *Provider) FetchAccountInfo(ctx context.Context, accessToken string) (core.AccountInfo, error) {
	var account accountPayload
	err := p.api.Do(ctx, providers.APIRequest{
		Method:      http.MethodPost,
		Path:        "users/get_current_account",
		AccessToken: accessToken,
		Idempotent:  true,
	}, &account)
	if err != nil {
		return core.AccountInfo{}, err
	}
	return core.AccountInfo{
		AccountID:   account.AccountID,
		Email:       account.Email,
		DisplayName: account.Name.DisplayName,
	}, nil
}

type listFolderRequest struct {
	Path             string `json:"path"`
	Recursive        bool   `json:"recursive"`
	IncludeMediaInfo bool   `json:"include_media_info"`
	IncludeDeleted   bool   `json:"include_deleted"`
	Limit            int    `json:"limit,omitempty"`
}

type listFolderContinueRequest struct {
	Cursor string `json:"cursor"`
}

type entryPayload struct {
	Tag            string     `json:".tag"`
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	PathDisplay    string     `json:"path_display"`
	Size           int64      `json:"size"`
	ServerModified *time.Time `json:"server_modified"`
}

type listFolderPayload struct {
	Entries []entryPayload `json:"entries"`
	Cursor  string         `json:"cursor"`
	HasMore bool           `json:"has_more"`
}

// ListFolder uses files/list_folder for the first page and
// files/list_folder/continue when a cursor is given. Dropbox addresses the
// root folder with an empty path.
func (p *Provider) ListFolder(ctx context.Context, accessToken string, folderRef string, opts core.ListOptions) (core.FolderListing, error) {
	path := normalizePath(folderRef)
	req := providers.APIRequest{
		Method:      http.MethodPost,
		AccessToken: accessToken,
		Idempotent:  true,
	}
	if cursor := strings.TrimSpace(opts.Cursor); cursor != "" {
		req.Path = "files/list_folder/continue"
		req.JSON = listFolderContinueRequest{Cursor: cursor}
	} else {
		limit := opts.Limit
		if limit > maxPageSize {
			limit = maxPageSize
		}
		req.Path = "files/list_folder"
		req.JSON = listFolderRequest{Path: path, Limit: max(limit, 0)}
	}

	var payload listFolderPayload
	if err := p.api.Do(ctx, req, &payload); err != nil {
		return core.FolderListing{}, err
	}

	listing := core.FolderListing{
		Path:       path,
		Entries:    make([]core.FileInfo, 0, len(payload.Entries)),
		TotalCount: len(payload.Entries),
		HasMore:    payload.HasMore,
		Cursor:     payload.Cursor,
	}
	for _, entry := range payload.Entries {
		info := core.FileInfo{
			ID:       entry.ID,
			Name:     entry.Name,
			Path:     entry.PathDisplay,
			Type:     core.FileTypeFile,
			Size:     entry.Size,
			Modified: entry.ServerModified,
		}
		if entry.Tag == "folder" {
			info.Type = core.FileTypeFolder
		}
		listing.Entries = append(listing.Entries, info)
	}
	return listing, nil
}

func normalizePath(folderRef string) string {
	path := strings.TrimSpace(folderRef)
	if path == "" || path == "/" {
		return ""
	}
	if !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "id:") {
		path = "/" + path
	}
	return strings.TrimRight(path, "/")
}

var (
	_ core.Provider     = (*Provider)(nil)
	_ core.TokenRevoker = (*Provider)(nil)
)
