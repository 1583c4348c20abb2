package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	ProviderBox         = "box"
	ProviderDropbox     = "dropbox"
	ProviderGoogleDrive = "google_drive"
	ProviderOneDrive    = "onedrive"
)

const (
	DefaultStateTTL      = 10 * time.Minute
	DefaultSafetyMargin  = 5 * time.Minute
	DefaultRefreshWindow = 6 * time.Hour
	DefaultRefreshCron   = "@hourly"
	DefaultFlightTimeout = 30 * time.Second
	DefaultTokenTimeout  = 10 * time.Second
	DefaultAPITimeout    = 30 * time.Second
)

type OAuthConfig struct {
	StateTTL time.Duration `koanf:"state_ttl" mapstructure:"state_ttl"`
}

type RefreshConfig struct {
	SafetyMargin time.Duration `koanf:"safety_margin" mapstructure:"safety_margin"`
	Horizon      time.Duration `koanf:"horizon" mapstructure:"horizon"`
	Schedule     string        `koanf:"schedule" mapstructure:"schedule"`
	Timeout      time.Duration `koanf:"timeout" mapstructure:"timeout"`
	MaxAttempts  int           `koanf:"max_attempts" mapstructure:"max_attempts"`
}

type EncryptionConfig struct {
	Key   string `koanf:"key" mapstructure:"key"`
	KeyID string `koanf:"key_id" mapstructure:"key_id"`
}

// ProviderConfig holds the OAuth client registration of one vendor. Missing
// credentials are reported when the provider is first used, not at load.
type ProviderConfig struct {
	ClientID     string        `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string        `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectURI  string        `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	Scopes       []string      `koanf:"scopes" mapstructure:"scopes"`
	TokenTimeout time.Duration `koanf:"token_timeout" mapstructure:"token_timeout"`
	APITimeout   time.Duration `koanf:"api_timeout" mapstructure:"api_timeout"`
}

func (c ProviderConfig) Validate(providerID string) error {
	var missing []string
	if strings.TrimSpace(c.ClientID) == "" {
		missing = append(missing, "client_id")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		missing = append(missing, "client_secret")
	}
	if len(missing) > 0 {
		return NewConfigurationError(
			"core: provider %s is missing %s",
			providerID,
			strings.Join(missing, ", "),
		)
	}
	return nil
}

type Config struct {
	ServiceName     string                    `koanf:"service_name" mapstructure:"service_name"`
	CallbackBaseURL string                    `koanf:"callback_base_url" mapstructure:"callback_base_url"`
	OAuth           OAuthConfig               `koanf:"oauth" mapstructure:"oauth"`
	Refresh         RefreshConfig             `koanf:"refresh" mapstructure:"refresh"`
	Encryption      EncryptionConfig          `koanf:"encryption" mapstructure:"encryption"`
	Providers       map[string]ProviderConfig `koanf:"providers" mapstructure:"providers"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "cloudauth",
		OAuth: OAuthConfig{
			StateTTL: DefaultStateTTL,
		},
		Refresh: RefreshConfig{
			SafetyMargin: DefaultSafetyMargin,
			Horizon:      DefaultRefreshWindow,
			Schedule:     DefaultRefreshCron,
			Timeout:      DefaultFlightTimeout,
			MaxAttempts:  3,
		},
		Encryption: EncryptionConfig{
			KeyID: "app-key",
		},
		Providers: map[string]ProviderConfig{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.OAuth.StateTTL < 0 {
		return fmt.Errorf("core: oauth.state_ttl must not be negative")
	}
	if c.Refresh.SafetyMargin < 0 || c.Refresh.Horizon < 0 || c.Refresh.Timeout < 0 {
		return fmt.Errorf("core: refresh durations must not be negative")
	}
	if c.Refresh.MaxAttempts < 0 {
		return fmt.Errorf("core: refresh.max_attempts must not be negative")
	}
	return nil
}

// Provider returns the registration of providerID with transport defaults applied.
func (c Config) Provider(providerID string) ProviderConfig {
	cfg := c.Providers[strings.TrimSpace(providerID)]
	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = DefaultTokenTimeout
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = DefaultAPITimeout
	}
	return cfg
}

// ProviderIDs lists configured providers in stable order.
func (c Config) ProviderIDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for id := range c.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c Config) stateTTL() time.Duration {
	if c.OAuth.StateTTL <= 0 {
		return DefaultStateTTL
	}
	return c.OAuth.StateTTL
}

func (c Config) safetyMargin() time.Duration {
	if c.Refresh.SafetyMargin <= 0 {
		return DefaultSafetyMargin
	}
	return c.Refresh.SafetyMargin
}

func (c Config) refreshHorizon() time.Duration {
	if c.Refresh.Horizon <= 0 {
		return DefaultRefreshWindow
	}
	return c.Refresh.Horizon
}

func (c Config) flightTimeout() time.Duration {
	if c.Refresh.Timeout <= 0 {
		return DefaultFlightTimeout
	}
	return c.Refresh.Timeout
}

func (c Config) maxAttempts() int {
	if c.Refresh.MaxAttempts <= 0 {
		return 3
	}
	return c.Refresh.MaxAttempts
}
