package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ Registry                = (*ProviderRegistry)(nil)
	_ CredentialStore         = (*MemoryCredentialStore)(nil)
	_ AuthorizationStateStore = (*MemoryAuthorizationStateStore)(nil)
	_ RefreshLocker           = (*MemoryRefreshLocker)(nil)
	_ RefreshBackoffScheduler = ExponentialBackoffScheduler{}
	_ OwnerResolver           = ContextOwnerResolver{}
	_ CallbackURLResolver     = ConfigCallbackURLResolver{}
	_ RawConfigLoader         = (*EnvConfigLoader)(nil)
	_ LifecycleService        = (*Service)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
