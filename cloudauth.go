package cloudauth

import (
	"fmt"

	"github.com/goliatone/go-cloudauth/core"
	"github.com/goliatone/go-cloudauth/scheduler"
)

type Config = core.Config

type ProviderConfig = core.ProviderConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type LifecycleService = core.LifecycleService
type CredentialStore = core.CredentialStore
type AuthorizationStateStore = core.AuthorizationStateStore
type RefreshLocker = core.RefreshLocker
type RefreshBackoffScheduler = core.RefreshBackoffScheduler
type Cipher = core.Cipher

type AuthorizationRequest = core.AuthorizationRequest
type AuthorizationResponse = core.AuthorizationResponse

type CompleteAuthorizationRequest = core.CompleteAuthorizationRequest

type ConnectionStatus = core.ConnectionStatus

type AccessToken = core.AccessToken

type ListOptions = core.ListOptions

type FolderListing = core.FolderListing

var (
	WithLogger                  = core.WithLogger
	WithLoggerProvider          = core.WithLoggerProvider
	WithMetricsRecorder         = core.WithMetricsRecorder
	WithErrorFactory            = core.WithErrorFactory
	WithErrorMapper             = core.WithErrorMapper
	WithPersistenceClient       = core.WithPersistenceClient
	WithRepositoryFactory       = core.WithRepositoryFactory
	WithConfigProvider          = core.WithConfigProvider
	WithOptionsResolver         = core.WithOptionsResolver
	WithRegistry                = core.WithRegistry
	WithCipher                  = core.WithCipher
	WithCredentialStore         = core.WithCredentialStore
	WithAuthorizationStateStore = core.WithAuthorizationStateStore
	WithRefreshLocker           = core.WithRefreshLocker
	WithRefreshBackoffScheduler = core.WithRefreshBackoffScheduler
	WithCallbackURLResolver     = core.WithCallbackURLResolver
	WithClock                   = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}

// NewRefreshTrigger schedules refresh sweeps for every provider registered
// with svc, using the refresh schedule and horizon of its configuration.
func NewRefreshTrigger(svc *Service, opts ...scheduler.Option) (*scheduler.Trigger, error) {
	if svc == nil {
		return nil, fmt.Errorf("cloudauth: service is required")
	}
	var providers []string
	if registry := svc.Dependencies().Registry; registry != nil {
		for _, provider := range registry.List() {
			providers = append(providers, provider.ID())
		}
	}
	if len(providers) == 0 {
		providers = svc.Config().ProviderIDs()
	}
	return scheduler.New(scheduler.ConfigFromCore(svc.Config(), providers), svc, opts...)
}
