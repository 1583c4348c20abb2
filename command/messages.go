package command

import (
	"strings"
	"time"

	"github.com/goliatone/go-cloudauth/core"
)

const (
	TypeBeginAuthorization    = "cloudauth.command.authorization.begin"
	TypeCompleteAuthorization = "cloudauth.command.authorization.complete"
	TypeDisconnect            = "cloudauth.command.credential.disconnect"
	TypeRefreshCredential     = "cloudauth.command.credential.refresh"
	TypeRefreshDue            = "cloudauth.command.refresh_due"
	TypeRefreshAccountInfo    = "cloudauth.command.account_info.refresh"
)

type BeginAuthorizationMessage struct {
	Request core.AuthorizationRequest
}

func (BeginAuthorizationMessage) Type() string { return TypeBeginAuthorization }

func (m BeginAuthorizationMessage) Validate() error {
	return validateCredentialKey(m.Request.Owner, m.Request.ProviderID)
}

type CompleteAuthorizationMessage struct {
	Request core.CompleteAuthorizationRequest
}

func (CompleteAuthorizationMessage) Type() string { return TypeCompleteAuthorization }

func (m CompleteAuthorizationMessage) Validate() error {
	if err := validateCredentialKey(m.Request.Owner, m.Request.ProviderID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Request.Code) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	if strings.TrimSpace(m.Request.State) == "" {
		return commandValidationError("state", "state token is required")
	}
	return nil
}

type DisconnectMessage struct {
	Owner      string
	ProviderID string
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	return validateCredentialKey(m.Owner, m.ProviderID)
}

// RefreshCredentialMessage refreshes one credential when it expires within
// Horizon. A zero Horizon uses the engine default.
type RefreshCredentialMessage struct {
	Owner      string
	ProviderID string
	Horizon    time.Duration
}

func (RefreshCredentialMessage) Type() string { return TypeRefreshCredential }

func (m RefreshCredentialMessage) Validate() error {
	if err := validateCredentialKey(m.Owner, m.ProviderID); err != nil {
		return err
	}
	return validateHorizon(m.Horizon)
}

type RefreshDueMessage struct {
	ProviderID string
	Horizon    time.Duration
}

func (RefreshDueMessage) Type() string { return TypeRefreshDue }

func (m RefreshDueMessage) Validate() error {
	if strings.TrimSpace(m.ProviderID) == "" {
		return commandValidationError("provider_id", "provider id is required")
	}
	return validateHorizon(m.Horizon)
}

type RefreshAccountInfoMessage struct {
	Owner      string
	ProviderID string
}

func (RefreshAccountInfoMessage) Type() string { return TypeRefreshAccountInfo }

func (m RefreshAccountInfoMessage) Validate() error {
	return validateCredentialKey(m.Owner, m.ProviderID)
}

func validateCredentialKey(owner string, providerID string) error {
	if strings.TrimSpace(owner) == "" {
		return commandValidationError("owner", "owner is required")
	}
	if strings.TrimSpace(providerID) == "" {
		return commandValidationError("provider_id", "provider id is required")
	}
	return nil
}

func validateHorizon(horizon time.Duration) error {
	if horizon < 0 {
		return commandInvalidInputError("command: horizon must be >= 0")
	}
	return nil
}
