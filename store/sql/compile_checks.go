package sqlstore

import "github.com/goliatone/go-cloudauth/core"

var (
	_ core.CredentialStore         = (*CredentialStore)(nil)
	_ core.AuthorizationStateStore = (*AuthorizationStateStore)(nil)
	_ core.StoreProvider           = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory  = (*RepositoryFactory)(nil)
)
