package query

import (
	"strings"

	"github.com/goliatone/go-cloudauth/core"
)

const (
	TypeConnectionStatus = "cloudauth.query.connection_status"
	TypeAccessToken      = "cloudauth.query.access_token"
	TypeListFolder       = "cloudauth.query.folder.list"
)

type ConnectionStatusMessage struct {
	Owner      string
	ProviderID string
}

func (ConnectionStatusMessage) Type() string { return TypeConnectionStatus }

func (m ConnectionStatusMessage) Validate() error {
	return validateCredentialKey(m.Owner, m.ProviderID)
}

// AccessTokenMessage asks for a usable access token, refreshing first when
// the stored one is about to expire.
type AccessTokenMessage struct {
	Owner      string
	ProviderID string
}

func (AccessTokenMessage) Type() string { return TypeAccessToken }

func (m AccessTokenMessage) Validate() error {
	return validateCredentialKey(m.Owner, m.ProviderID)
}

type ListFolderMessage struct {
	Owner      string
	ProviderID string
	// FolderRef is a vendor folder id or path. Empty means the root.
	FolderRef string
	Options   core.ListOptions
}

func (ListFolderMessage) Type() string { return TypeListFolder }

func (m ListFolderMessage) Validate() error {
	if err := validateCredentialKey(m.Owner, m.ProviderID); err != nil {
		return err
	}
	if m.Options.Limit < 0 {
		return queryInvalidInputError("query: limit must be >= 0")
	}
	if m.Options.Offset < 0 {
		return queryInvalidInputError("query: offset must be >= 0")
	}
	return nil
}

func validateCredentialKey(owner string, providerID string) error {
	if strings.TrimSpace(owner) == "" {
		return queryValidationError("owner", "owner is required")
	}
	if strings.TrimSpace(providerID) == "" {
		return queryValidationError("provider_id", "provider id is required")
	}
	return nil
}
