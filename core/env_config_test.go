package core

import (
	"context"
	"testing"
	"time"
)

func envFrom(values map[string]string) func(string) string {
	return func(name string) string { return values[name] }
}

func TestEnvConfigLoader_MapsProviderAndRuntimeSettings(t *testing.T) {
	loader := &EnvConfigLoader{Getenv: envFrom(map[string]string{
		"BOX_CLIENT_ID":                  "box-id",
		"BOX_CLIENT_SECRET":              "box-secret",
		"DROPBOX_APP_KEY":                "dbx-key",
		"DROPBOX_CLIENT_SECRET":          "dbx-secret",
		"GOOGLE_OAUTH2_CLIENT_ID":        "g-id",
		"GOOGLE_DRIVE_REDIRECT_URI":      "https://app.example/google",
		"TOKEN_ENCRYPTION_KEY":           "a2V5",
		"CLOUDAUTH_HOST":                 "https://app.example",
		"CLOUDAUTH_STATE_TTL":            "15m",
		"CLOUDAUTH_REFRESH_HORIZON":      "3h",
		"CLOUDAUTH_REFRESH_SCHEDULE":     "*/30 * * * *",
		"CLOUDAUTH_REFRESH_MAX_ATTEMPTS": "5",
	})}

	svc, err := NewService(Config{}, WithCipher(testCipher{}), WithConfigProvider(NewCfgxConfigProvider(loader)))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	cfg := svc.Config()
	if cfg.CallbackBaseURL != "https://app.example" {
		t.Fatalf("expected host fallback, got %q", cfg.CallbackBaseURL)
	}
	if cfg.OAuth.StateTTL != 15*time.Minute || cfg.Refresh.Horizon != 3*time.Hour {
		t.Fatalf("expected parsed durations, got ttl=%s horizon=%s", cfg.OAuth.StateTTL, cfg.Refresh.Horizon)
	}
	if cfg.Refresh.Schedule != "*/30 * * * *" || cfg.Refresh.MaxAttempts != 5 {
		t.Fatalf("unexpected refresh config %+v", cfg.Refresh)
	}
	if cfg.Encryption.Key != "a2V5" {
		t.Fatalf("expected legacy encryption key name to be honoured")
	}
	if got := cfg.Provider(ProviderBox); got.ClientID != "box-id" || got.ClientSecret != "box-secret" {
		t.Fatalf("unexpected box config %+v", got)
	}
	if got := cfg.Provider(ProviderDropbox); got.ClientID != "dbx-key" {
		t.Fatalf("expected dropbox app key alias, got %+v", got)
	}
	if got := cfg.Provider(ProviderGoogleDrive); got.RedirectURI != "https://app.example/google" {
		t.Fatalf("unexpected google drive config %+v", got)
	}
	if _, ok := cfg.Providers[ProviderOneDrive]; ok {
		t.Fatalf("unset providers must not be registered")
	}
}

func TestEnvConfigLoader_RejectsMalformedValues(t *testing.T) {
	for name, value := range map[string]string{
		"CLOUDAUTH_STATE_TTL":            "ten minutes",
		"CLOUDAUTH_REFRESH_MAX_ATTEMPTS": "many",
	} {
		loader := &EnvConfigLoader{Getenv: envFrom(map[string]string{name: value})}
		if _, err := loader.LoadRaw(context.Background()); !IsConfigurationError(err) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
}
