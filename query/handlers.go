package query

import (
	"context"

	"github.com/goliatone/go-cloudauth/core"
)

// StatusReader is satisfied by core.Service and by the cached reader in
// store/sql.
type StatusReader interface {
	GetConnectionStatus(ctx context.Context, owner string, providerID string) (core.ConnectionStatus, error)
}

type TokenReader interface {
	EnsureValid(ctx context.Context, owner string, providerID string) (core.AccessToken, error)
}

type FolderReader interface {
	ListFolder(ctx context.Context, owner string, providerID string, folderRef string, opts core.ListOptions) (core.FolderListing, error)
}

type ConnectionStatusQuery struct {
	reader StatusReader
}

func NewConnectionStatusQuery(reader StatusReader) *ConnectionStatusQuery {
	return &ConnectionStatusQuery{reader: reader}
}

func (q *ConnectionStatusQuery) Query(ctx context.Context, msg ConnectionStatusMessage) (core.ConnectionStatus, error) {
	if q == nil || q.reader == nil {
		return core.ConnectionStatus{}, queryDependencyError("query: connection status reader is required")
	}
	return q.reader.GetConnectionStatus(ctx, msg.Owner, msg.ProviderID)
}

type AccessTokenQuery struct {
	reader TokenReader
}

func NewAccessTokenQuery(reader TokenReader) *AccessTokenQuery {
	return &AccessTokenQuery{reader: reader}
}

func (q *AccessTokenQuery) Query(ctx context.Context, msg AccessTokenMessage) (core.AccessToken, error) {
	if q == nil || q.reader == nil {
		return core.AccessToken{}, queryDependencyError("query: access token reader is required")
	}
	return q.reader.EnsureValid(ctx, msg.Owner, msg.ProviderID)
}

type ListFolderQuery struct {
	reader FolderReader
}

func NewListFolderQuery(reader FolderReader) *ListFolderQuery {
	return &ListFolderQuery{reader: reader}
}

func (q *ListFolderQuery) Query(ctx context.Context, msg ListFolderMessage) (core.FolderListing, error) {
	if q == nil || q.reader == nil {
		return core.FolderListing{}, queryDependencyError("query: folder reader is required")
	}
	return q.reader.ListFolder(ctx, msg.Owner, msg.ProviderID, msg.FolderRef, msg.Options)
}
