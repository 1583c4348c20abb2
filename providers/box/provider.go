package box

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-cloudauth/core"
	"github.com/goliatone/go-cloudauth/providers"
	"github.com/goliatone/go-cloudauth/ratelimit"
)

const (
	ProviderID = core.ProviderBox
	AuthURL    = "https://account.box.com/api/oauth2/authorize"
	TokenURL   = "https://api.box.com/oauth2/token"
	RevokeURL  = "https://api.box.com/oauth2/revoke"
	APIBaseURL = "https://api.box.com/2.0"

	RootFolderID = "0"

	defaultPageSize = 100
	maxPageSize     = 1000
	listFields      = "id,name,type,size,modified_at,path_collection"
)

type Config struct {
	ClientID     string
	ClientSecret string
	// Scopes are optional; Box applies the scopes configured on the app.
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
		TokenTimeout: cfg.TokenTimeout,
		HTTPClient:   cfg.HTTPClient,
		Policy:       cfg.Policy,
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

type userPayload struct {
	ID    string `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
}

func (p *Provider) FetchAccountInfo(ctx context.Context, accessToken string) (core.AccountInfo, error) {
	var user userPayload
	if err := p.api.Do(ctx, providers.APIRequest{Path: "users/me", AccessToken: accessToken}, &user); err != nil {
		return core.AccountInfo{}, err
	}
	return core.AccountInfo{AccountID: user.ID, Email: user.Login, DisplayName: user.Name}, nil
}

type itemPayload struct {
	Type       string     `json:"type"`
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Size       int64      `json:"size"`
	ModifiedAt *time.Time `json:"modified_at"`
}

type itemsPayload struct {
	TotalCount int           `json:"total_count"`
	Offset     int           `json:"offset"`
	Limit      int           `json:"limit"`
	Entries    []itemPayload `json:"entries"`
}

// ListFolder lists folders/{id}/items with offset pagination. The cursor of
// the listing is the next offset.
func (p *Provider) ListFolder(ctx context.Context, accessToken string, folderRef string, opts core.ListOptions) (core.FolderListing, error) {
	folderID := strings.TrimSpace(folderRef)
	if folderID == "" || folderID == "/" {
		folderID = RootFolderID
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := opts.Offset
	if offset <= 0 && opts.Cursor != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(opts.Cursor))
		if err != nil || parsed < 0 {
			return core.FolderListing{}, core.NewBadInputError("box: invalid cursor %q", opts.Cursor)
		}
		offset = parsed
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	query.Set("fields", listFields)

	var payload itemsPayload
	err := p.api.Do(ctx, providers.APIRequest{
		Path:        "folders/" + url.PathEscape(folderID) + "/items",
		Query:       query,
		AccessToken: accessToken,
	}, &payload)
	if err != nil {
		return core.FolderListing{}, err
	}

	listing := core.FolderListing{
		Path:       folderID,
		Entries:    make([]core.FileInfo, 0, len(payload.Entries)),
		TotalCount: payload.TotalCount,
	}
	for _, entry := range payload.Entries {
		info := core.FileInfo{
			ID:       entry.ID,
			Name:     entry.Name,
			Type:     core.FileTypeFile,
			Size:     entry.Size,
			Modified: entry.ModifiedAt,
		}
		if entry.Type == "folder" {
			info.Type = core.FileTypeFolder
		}
		listing.Entries = append(listing.Entries, info)
	}
	next := offset + len(payload.Entries)
	if len(payload.Entries) > 0 && next < payload.TotalCount {
		listing.HasMore = true
		listing.Cursor = strconv.Itoa(next)
	}
	return listing, nil
}

var (
	_ core.Provider     = (*Provider)(nil)
	_ core.TokenRevoker = (*Provider)(nil)
)
