package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// providerEnv lists the environment names of a provider registration. The
// first non-empty name of each slice wins.
type providerEnv struct {
	clientID     []string
	clientSecret []string
	redirectURI  []string
}

var providerEnvNames = map[string]providerEnv{
	ProviderBox: {
		clientID:     []string{"BOX_CLIENT_ID"},
		clientSecret: []string{"BOX_CLIENT_SECRET"},
		redirectURI:  []string{"BOX_REDIRECT_URI"},
	},
	ProviderDropbox: {
		clientID:     []string{"DROPBOX_CLIENT_ID", "DROPBOX_APP_KEY"},
		clientSecret: []string{"DROPBOX_CLIENT_SECRET", "DROPBOX_APP_SECRET"},
		redirectURI:  []string{"DROPBOX_REDIRECT_URI"},
	},
	ProviderGoogleDrive: {
		clientID:     []string{"GOOGLE_OAUTH2_CLIENT_ID", "GOOGLE_DRIVE_CLIENT_ID"},
		clientSecret: []string{"GOOGLE_OAUTH2_CLIENT_SECRET", "GOOGLE_DRIVE_CLIENT_SECRET"},
		redirectURI:  []string{"GOOGLE_DRIVE_REDIRECT_URI"},
	},
	ProviderOneDrive: {
		clientID:     []string{"ONEDRIVE_CLIENT_ID"},
		clientSecret: []string{"ONEDRIVE_CLIENT_SECRET"},
		redirectURI:  []string{"ONEDRIVE_REDIRECT_URI"},
	},
}

// EnvConfigLoader reads deployment settings from environment variables into
// the raw map consumed by CfgxConfigProvider.
type EnvConfigLoader struct {
	Getenv func(string) string
}

func NewEnvConfigLoader() *EnvConfigLoader {
	return &EnvConfigLoader{Getenv: os.Getenv}
}

func (l *EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	getenv := os.Getenv
	if l != nil && l.Getenv != nil {
		getenv = l.Getenv
	}
	lookup := func(names ...string) string {
		for _, name := range names {
			if value := strings.TrimSpace(getenv(name)); value != "" {
				return value
			}
		}
		return ""
	}

	raw := map[string]any{}
	if value := lookup("CLOUDAUTH_SERVICE_NAME"); value != "" {
		raw["service_name"] = value
	}
	if value := lookup("CLOUDAUTH_CALLBACK_BASE_URL", "CLOUDAUTH_HOST"); value != "" {
		raw["callback_base_url"] = value
	}

	encryption := map[string]any{}
	if value := lookup("CLOUDAUTH_ENCRYPTION_KEY", "TOKEN_ENCRYPTION_KEY"); value != "" {
		encryption["key"] = value
	}
	if value := lookup("CLOUDAUTH_ENCRYPTION_KEY_ID"); value != "" {
		encryption["key_id"] = value
	}
	if len(encryption) > 0 {
		raw["encryption"] = encryption
	}

	oauth := map[string]any{}
	if err := putEnvDuration(oauth, "state_ttl", lookup("CLOUDAUTH_STATE_TTL")); err != nil {
		return nil, err
	}
	if len(oauth) > 0 {
		raw["oauth"] = oauth
	}

	refresh := map[string]any{}
	for key, name := range map[string]string{
		"safety_margin": "CLOUDAUTH_REFRESH_SAFETY_MARGIN",
		"horizon":       "CLOUDAUTH_REFRESH_HORIZON",
		"timeout":       "CLOUDAUTH_REFRESH_TIMEOUT",
	} {
		if err := putEnvDuration(refresh, key, lookup(name)); err != nil {
			return nil, err
		}
	}
	if value := lookup("CLOUDAUTH_REFRESH_SCHEDULE"); value != "" {
		refresh["schedule"] = value
	}
	if value := lookup("CLOUDAUTH_REFRESH_MAX_ATTEMPTS"); value != "" {
		attempts, err := strconv.Atoi(value)
		if err != nil {
			return nil, NewConfigurationError("core: CLOUDAUTH_REFRESH_MAX_ATTEMPTS is not a number: %q", value)
		}
		refresh["max_attempts"] = attempts
	}
	if len(refresh) > 0 {
		raw["refresh"] = refresh
	}

	providers := map[string]any{}
	for providerID, names := range providerEnvNames {
		entry := map[string]any{}
		if value := lookup(names.clientID...); value != "" {
			entry["client_id"] = value
		}
		if value := lookup(names.clientSecret...); value != "" {
			entry["client_secret"] = value
		}
		if value := lookup(names.redirectURI...); value != "" {
			entry["redirect_uri"] = value
		}
		if len(entry) > 0 {
			providers[providerID] = entry
		}
	}
	if len(providers) > 0 {
		raw["providers"] = providers
	}
	return raw, nil
}

func putEnvDuration(target map[string]any, key, value string) error {
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return NewConfigurationError("core: %s is not a duration: %s", key, fmt.Sprint(err))
	}
	target[key] = parsed
	return nil
}
