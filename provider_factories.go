package cloudauth

import (
	"net/http"

	"github.com/goliatone/go-cloudauth/core"
	"github.com/goliatone/go-cloudauth/providers/box"
	"github.com/goliatone/go-cloudauth/providers/dropbox"
	"github.com/goliatone/go-cloudauth/providers/googledrive"
	"github.com/goliatone/go-cloudauth/providers/onedrive"
	"github.com/goliatone/go-cloudauth/ratelimit"
)

func BoxProvider(cfg box.Config) (core.Provider, error) {
	return box.New(cfg)
}

func DropboxProvider(cfg dropbox.Config) (core.Provider, error) {
	return dropbox.New(cfg)
}

func GoogleDriveProvider(cfg googledrive.Config) (core.Provider, error) {
	return googledrive.New(cfg)
}

func OneDriveProvider(cfg onedrive.Config) (core.Provider, error) {
	return onedrive.New(cfg)
}

// ProviderRuntime carries the transport shared by every built-in vendor.
type ProviderRuntime struct {
	HTTPClient *http.Client
	Policy     ratelimit.Policy
	Hooks      *ExtensionHooks
}

// NewProviderRegistry registers the four built-in vendors from cfg.Providers
// and then any extension packs. Vendors without client credentials are still
// registered and fail with a configuration error on first use.
func NewProviderRegistry(cfg Config, runtime ProviderRuntime) (*core.ProviderRegistry, error) {
	registry := core.NewProviderRegistry()
	settings := func(id string) core.ProviderConfig {
		if cfg.Providers == nil {
			return core.ProviderConfig{}
		}
		return cfg.Providers[id]
	}

	boxCfg := settings(core.ProviderBox)
	boxProvider, err := BoxProvider(box.Config{
		ClientID:     boxCfg.ClientID,
		ClientSecret: boxCfg.ClientSecret,
		Scopes:       boxCfg.Scopes,
		TokenTimeout: boxCfg.TokenTimeout,
		APITimeout:   boxCfg.APITimeout,
		HTTPClient:   runtime.HTTPClient,
		Policy:       runtime.Policy,
	})
	if err != nil {
		return nil, err
	}

	dropboxCfg := settings(core.ProviderDropbox)
	dropboxProvider, err := DropboxProvider(dropbox.Config{
		ClientID:     dropboxCfg.ClientID,
		ClientSecret: dropboxCfg.ClientSecret,
		Scopes:       dropboxCfg.Scopes,
		TokenTimeout: dropboxCfg.TokenTimeout,
		APITimeout:   dropboxCfg.APITimeout,
		HTTPClient:   runtime.HTTPClient,
		Policy:       runtime.Policy,
	})
	if err != nil {
		return nil, err
	}

	driveCfg := settings(core.ProviderGoogleDrive)
	driveProvider, err := GoogleDriveProvider(googledrive.Config{
		ClientID:     driveCfg.ClientID,
		ClientSecret: driveCfg.ClientSecret,
		Scopes:       driveCfg.Scopes,
		TokenTimeout: driveCfg.TokenTimeout,
		APITimeout:   driveCfg.APITimeout,
		HTTPClient:   runtime.HTTPClient,
		Policy:       runtime.Policy,
	})
	if err != nil {
		return nil, err
	}

	oneDriveCfg := settings(core.ProviderOneDrive)
	oneDriveProvider, err := OneDriveProvider(onedrive.Config{
		ClientID:     oneDriveCfg.ClientID,
		ClientSecret: oneDriveCfg.ClientSecret,
		Scopes:       oneDriveCfg.Scopes,
		TokenTimeout: oneDriveCfg.TokenTimeout,
		APITimeout:   oneDriveCfg.APITimeout,
		HTTPClient:   runtime.HTTPClient,
		Policy:       runtime.Policy,
	})
	if err != nil {
		return nil, err
	}

	for _, provider := range []core.Provider{boxProvider, dropboxProvider, driveProvider, oneDriveProvider} {
		if err := registry.Register(provider); err != nil {
			return nil, err
		}
	}
	if err := runtime.Hooks.ApplyProviderPacks(registry); err != nil {
		return nil, err
	}
	return registry, nil
}
