package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[BeginAuthorizationMessage]    = (*BeginAuthorizationCommand)(nil)
	_ gocmd.Commander[CompleteAuthorizationMessage] = (*CompleteAuthorizationCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]            = (*DisconnectCommand)(nil)
	_ gocmd.Commander[RefreshCredentialMessage]     = (*RefreshCredentialCommand)(nil)
	_ gocmd.Commander[RefreshDueMessage]            = (*RefreshDueCommand)(nil)
	_ gocmd.Commander[RefreshAccountInfoMessage]    = (*RefreshAccountInfoCommand)(nil)
)
