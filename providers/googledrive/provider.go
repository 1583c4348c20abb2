package googledrive

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
	ProviderID  = core.ProviderGoogleDrive
	AuthURL     = "https://accounts.google.com/o/oauth2/auth"
	TokenURL    = "https://oauth2.googleapis.com/token"
	RevokeURL   = "https://oauth2.googleapis.com/revoke"
	APIBaseURL  = "https://www.googleapis.com/drive/v3"
	UserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

	RootFolderID = "root"
	FolderMime   = "application/vnd.google-apps.folder"

	defaultPageSize = 100
	maxPageSize     = 1000
	listFields      = "nextPageToken,files(id,name,mimeType,size,modifiedTime,parents)"
)

var DefaultScopes = []string{
	"https://www.googleapis.com/auth/drive.readonly",
	"https://www.googleapis.com/auth/drive.file",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	APIBaseURL   string
	UserInfoURL  string
	TokenTimeout time.Duration
	APITimeout   time.Duration
	HTTPClient   *http.Client
	Policy       ratelimit.Policy
}

func DefaultConfig() Config {
	return Config{
		Scopes:      append([]string(nil), DefaultScopes...),
		AuthURL:     AuthURL,
		TokenURL:    TokenURL,
		RevokeURL:   RevokeURL,
		APIBaseURL:  APIBaseURL,
		UserInfoURL: UserInfoURL,
	}
}

type Provider struct {
	*providers.OAuth2Provider
	api         *providers.APIClient
	userInfoURL string
}

func New(cfg Config) (*Provider, error) {
	defaults := DefaultConfig()
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaults.Scopes
	}
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
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaults.UserInfoURL
	}

	base, err := providers.NewOAuth2Provider(providers.OAuth2Config{
		ID:           ProviderID,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		RevokeURL:    cfg.RevokeURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		// prompt=consent makes Google return a refresh token on every consent.
		AuthParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
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
	return &Provider{OAuth2Provider: base, api: api, userInfoURL: cfg.UserInfoURL}, nil
}

func (p *Provider) Revoke(ctx context.Context, token string) error {
	return p.RevokeToken(ctx, token)
}

type userInfoPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (p *Provider) FetchAccountInfo(ctx context.Context, accessToken string) (core.AccountInfo, error) {
	var user userInfoPayload
	if err := p.api.Do(ctx, providers.APIRequest{Path: p.userInfoURL, AccessToken: accessToken}, &user); err != nil {
		return core.AccountInfo{}, err
	}
	return core.AccountInfo{AccountID: user.ID, Email: user.Email, DisplayName: user.Name}, nil
}

type filePayload struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	MimeType     string     `json:"mimeType"`
	Size         string     `json:"size"`
	ModifiedTime *time.Time `json:"modifiedTime"`
}

type filesPayload struct {
	NextPageToken string        `json:"nextPageToken"`
	Files         []filePayload `json:"files"`
}

// ListFolder queries files whose parent is folderRef and that are not
// trashed. The cursor is Drive's page token.
func (p *Provider) ListFolder(ctx context.Context, accessToken string, folderRef string, opts core.ListOptions) (core.FolderListing, error) {
	folderID := strings.TrimSpace(folderRef)
	if folderID == "" || folderID == "/" {
		folderID = RootFolderID
	}
	pageSize := opts.Limit
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := url.Values{}
	query.Set("q", "'"+escapeQueryValue(folderID)+"' in parents and trashed=false")
	query.Set("pageSize", strconv.Itoa(pageSize))
	query.Set("fields", listFields)
	if cursor := strings.TrimSpace(opts.Cursor); cursor != "" {
		query.Set("pageToken", cursor)
	}

	var payload filesPayload
	if err := p.api.Do(ctx, providers.APIRequest{Path: "files", Query: query, AccessToken: accessToken}, &payload); err != nil {
		return core.FolderListing{}, err
	}

	listing := core.FolderListing{
		Path:       folderID,
		Entries:    make([]core.FileInfo, 0, len(payload.Files)),
		TotalCount: len(payload.Files),
		HasMore:    payload.NextPageToken != "",
		Cursor:     payload.NextPageToken,
	}
	for _, file := range payload.Files {
		info := core.FileInfo{
			ID:       file.ID,
			Name:     file.Name,
			Type:     core.FileTypeFile,
			MimeType: file.MimeType,
			Modified: file.ModifiedTime,
		}
		if file.MimeType == FolderMime {
			info.Type = core.FileTypeFolder
		}
		// Drive encodes int64 sizes as strings.
		if size, err := strconv.ParseInt(file.Size, 10, 64); err == nil {
			info.Size = size
		}
		listing.Entries = append(listing.Entries, info)
	}
	return listing, nil
}

func escapeQueryValue(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `'`, `\'`)
}

var (
	_ core.Provider     = (*Provider)(nil)
	_ core.TokenRevoker = (*Provider)(nil)
)
