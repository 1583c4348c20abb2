package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-cloudauth/core"
)

var (
	_ gocmd.Querier[ConnectionStatusMessage, core.ConnectionStatus] = (*ConnectionStatusQuery)(nil)
	_ gocmd.Querier[AccessTokenMessage, core.AccessToken]           = (*AccessTokenQuery)(nil)
	_ gocmd.Querier[ListFolderMessage, core.FolderListing]          = (*ListFolderQuery)(nil)
)
