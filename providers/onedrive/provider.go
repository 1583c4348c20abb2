package onedrive

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
	ProviderID = core.ProviderOneDrive
	AuthURL    = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	TokenURL   = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	APIBaseURL = "https://graph.microsoft.com/v1.0"

	RootFolderID = "root"

	defaultPageSize = 100
	maxPageSize     = 200
)

var DefaultScopes = []string{"offline_access", "Files.Read", "Files.Read.All", "User.Read"}

// Config has no revocation endpoint: Microsoft identity platform does not
// expose one for delegated tokens.
type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	TokenTimeout time.Duration
	APITimeout   time.Duration
	HTTPClient   *http.Client
	Policy       ratelimit.Policy
}

func DefaultConfig() Config {
	return Config{
		Scopes:     append([]string(nil), DefaultScopes...),
		AuthURL:    AuthURL,
		TokenURL:   TokenURL,
		APIBaseURL: APIBaseURL,
	}
}

type Provider struct {
	*providers.OAuth2Provider
	api     *providers.APIClient
	baseURL string
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
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}

	base, err := providers.NewOAuth2Provider(providers.OAuth2Config{
		ID:           ProviderID,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		AuthParams:   map[string]string{"response_mode": "query"},
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
	return &Provider{
		OAuth2Provider: base,
		api:            api,
		baseURL:        strings.TrimRight(cfg.APIBaseURL, "/"),
	}, nil
}

type mePayload struct {
	ID                string `json:"id"`
	UserPrincipalName string `json:"userPrincipalName"`
	Mail              string `json:"mail"`
	DisplayName       string `json:"displayName"`
}

func (p *Provider) FetchAccountInfo(ctx context.Context, accessToken string) (core.AccountInfo, error) {
	var me mePayload
	if err := p.api.Do(ctx, providers.APIRequest{Path: "me", AccessToken: accessToken}, &me); err != nil {
		return core.AccountInfo{}, err
	}
	email := me.UserPrincipalName
	if email == "" {
		email = me.Mail
	}
	return core.AccountInfo{AccountID: me.ID, Email: email, DisplayName: me.DisplayName}, nil
}

type itemPayload struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Size                 int64      `json:"size"`
	LastModifiedDateTime *time.Time `json:"lastModifiedDateTime"`
	Folder               *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder"`
	File *struct {
		MimeType string `json:"mimeType"`
	} `json:"file"`
	ParentReference struct {
		Path string `json:"path"`
	} `json:"parentReference"`
}

type childrenPayload struct {
	Value    []itemPayload `json:"value"`
	NextLink string        `json:"@odata.nextLink"`
}

// ListFolder lists drive children. The cursor is Graph's @odata.nextLink and
// must point back at the configured Graph endpoint.
func (p *Provider) ListFolder(ctx context.Context, accessToken string, folderRef string, opts core.ListOptions) (core.FolderListing, error) {
	folderID := strings.TrimSpace(folderRef)
	if folderID == "" || folderID == "/" {
		folderID = RootFolderID
	}

	req := providers.APIRequest{AccessToken: accessToken}
	if cursor := strings.TrimSpace(opts.Cursor); cursor != "" {
		if !strings.HasPrefix(cursor, p.baseURL+"/") {
			return core.FolderListing{}, core.NewBadInputError("onedrive: cursor does not belong to %s", p.baseURL)
		}
		req.Path = cursor
	} else {
		top := opts.Limit
		if top <= 0 {
			top = defaultPageSize
		}
		if top > maxPageSize {
			top = maxPageSize
		}
		req.Path = "me/drive/items/" + url.PathEscape(folderID) + "/children"
		if folderID == RootFolderID {
			req.Path = "me/drive/root/children"
		}
		req.Query = url.Values{"$top": []string{strconv.Itoa(top)}}
	}

	var payload childrenPayload
	if err := p.api.Do(ctx, req, &payload); err != nil {
		return core.FolderListing{}, err
	}

	listing := core.FolderListing{
		Path:       folderID,
		Entries:    make([]core.FileInfo, 0, len(payload.Value)),
		TotalCount: len(payload.Value),
		HasMore:    payload.NextLink != "",
		Cursor:     payload.NextLink,
	}
	for _, item := range payload.Value {
		info := core.FileInfo{
			ID:       item.ID,
			Name:     item.Name,
			Type:     core.FileTypeFile,
			Size:     item.Size,
			Modified: item.LastModifiedDateTime,
		}
		if parent := item.ParentReference.Path; parent != "" {
			info.Path = strings.TrimRight(parent, "/") + "/" + item.Name
		}
		if item.Folder != nil {
			info.Type = core.FileTypeFolder
		}
		if item.File != nil {
			info.MimeType = item.File.MimeType
		}
		listing.Entries = append(listing.Entries, info)
	}
	return listing, nil
}

var _ core.Provider = (*Provider)(nil)
