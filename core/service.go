package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/singleflight"
)

// Service is the token lifecycle engine. It owns authorization, storage,
// refresh and revocation of provider credentials; plaintext tokens never leave
// it except through EnsureValid.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	registry          Registry
	cipher            Cipher
	credentialStore   CredentialStore
	stateStore        AuthorizationStateStore
	stateGuard        *StateGuard
	refreshLocker     RefreshLocker
	refreshScheduler  RefreshBackoffScheduler
	callbackResolver  CallbackURLResolver
	clock             func() time.Time

	flights  singleflight.Group
	inflight sync.Map
}

type ServiceDependencies struct {
	Logger                  Logger
	LoggerProvider          LoggerProvider
	MetricsRecorder         MetricsRecorder
	ErrorFactory            ErrorFactory
	ErrorMapper             ErrorMapper
	PersistenceClient       any
	RepositoryFactory       any
	ConfigProvider          ConfigProvider
	OptionsResolver         OptionsResolver
	Registry                Registry
	Cipher                  Cipher
	CredentialStore         CredentialStore
	AuthorizationStateStore AuthorizationStateStore
	RefreshLocker           RefreshLocker
	RefreshScheduler        RefreshBackoffScheduler
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("cloudauth", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("cloudauth"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewProviderRegistry()
	}
	if builder.refreshLocker == nil {
		builder.refreshLocker = NewMemoryRefreshLocker()
	}
	if builder.refreshScheduler == nil {
		builder.refreshScheduler = ExponentialBackoffScheduler{
			Initial: defaultRefreshInitialBackoff,
			Max:     defaultRefreshMaxBackoff,
		}
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if (builder.credentialStore == nil || builder.stateStore == nil) && builder.repositoryFactory != nil {
		var stores StoreProvider
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			stores = built
		} else if provided, ok := builder.repositoryFactory.(StoreProvider); ok {
			stores = provided
		}
		if stores != nil {
			if builder.credentialStore == nil {
				builder.credentialStore = stores.CredentialStore()
			}
			if builder.stateStore == nil {
				builder.stateStore = stores.AuthorizationStateStore()
			}
		}
	}
	if builder.credentialStore == nil {
		builder.credentialStore = NewMemoryCredentialStore()
	}
	if builder.stateStore == nil {
		builder.stateStore = NewMemoryAuthorizationStateStore()
	}
	if builder.cipher == nil {
		return nil, mapBuildError(builder.errorMapper, NewConfigurationError("core: token cipher is required"))
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		registry:          builder.registry,
		cipher:            builder.cipher,
		credentialStore:   builder.credentialStore,
		stateStore:        builder.stateStore,
		stateGuard:        NewStateGuard(builder.stateStore, finalConfig.stateTTL(), builder.clock),
		refreshLocker:     builder.refreshLocker,
		refreshScheduler:  builder.refreshScheduler,
		callbackResolver:  builder.callbackResolver,
		clock:             builder.clock,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:                  s.logger,
		LoggerProvider:          s.loggerProvider,
		MetricsRecorder:         s.metricsRecorder,
		ErrorFactory:            s.errorFactory,
		ErrorMapper:             s.errorMapper,
		PersistenceClient:       s.persistenceClient,
		RepositoryFactory:       s.repositoryFactory,
		ConfigProvider:          s.configProvider,
		OptionsResolver:         s.optionsResolver,
		Registry:                s.registry,
		Cipher:                  s.cipher,
		CredentialStore:         s.credentialStore,
		AuthorizationStateStore: s.stateStore,
		RefreshLocker:           s.refreshLocker,
		RefreshScheduler:        s.refreshScheduler,
	}
}

// StateGuard exposes the guard used for authorization state, mainly so hosts
// can report pending consent flows.
func (s *Service) StateGuard() *StateGuard {
	if s == nil {
		return nil
	}
	return s.stateGuard
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Service) provider(providerID string) (Provider, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, NewBadInputError("core: provider id is required")
	}
	provider, ok := s.registry.Get(providerID)
	if !ok || provider == nil {
		return nil, NewProviderNotFoundError(providerID)
	}
	return provider, nil
}

func (s *Service) encrypt(ctx context.Context, plaintext string) ([]byte, error) {
	ciphertext, err := s.cipher.Encrypt(ctx, []byte(plaintext))
	if err != nil {
		return nil, fmt.Errorf("core: encrypt token: %w", err)
	}
	return ciphertext, nil
}

func (s *Service) decrypt(ctx context.Context, ciphertext []byte) (string, error) {
	plaintext, err := s.cipher.Decrypt(ctx, ciphertext)
	if err != nil {
		if IsAuthenticationError(err) {
			return "", err
		}
		return "", WithCause(NewAuthenticationError("core: stored token could not be decrypted"), err)
	}
	return string(plaintext), nil
}

func credentialKey(owner, providerID string) (CredentialKey, error) {
	key := CredentialKey{Owner: owner, ProviderID: providerID}.normalized()
	if key.Owner == "" {
		return CredentialKey{}, NewBadInputError("core: owner is required")
	}
	if key.ProviderID == "" {
		return CredentialKey{}, NewBadInputError("core: provider id is required")
	}
	return key, nil
}
