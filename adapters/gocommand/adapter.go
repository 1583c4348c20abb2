package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	cloudauth "github.com/goliatone/go-cloudauth"
	cloudauthcommand "github.com/goliatone/go-cloudauth/command"
	"github.com/goliatone/go-cloudauth/core"
	cloudauthquery "github.com/goliatone/go-cloudauth/query"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// ValidateMessageContract enforces Type() plus the optional Validate()
// contract every cloudauth message implements.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(qry)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterQuery(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// RegisterFacade subscribes every facade command and query to the go-command
// dispatcher and registers them with adapter, so callers can Dispatch
// cloudauth messages or route them to a queue resolver. On error the
// subscriptions made so far are released.
func RegisterFacade(adapter *RegistryAdapter, facade *cloudauth.Facade, runnerOpts ...runner.Option) ([]commanddispatcher.Subscription, error) {
	if facade == nil {
		return nil, fmt.Errorf("gocommand: facade is required")
	}
	commands := facade.Commands()
	queries := facade.Queries()

	var subscriptions []commanddispatcher.Subscription
	register := func(subscription commanddispatcher.Subscription, err error) error {
		if err != nil {
			for _, existing := range subscriptions {
				existing.Unsubscribe()
			}
			subscriptions = nil
			return err
		}
		subscriptions = append(subscriptions, subscription)
		return nil
	}

	steps := []func() error{
		func() error { return register(RegisterAndSubscribe[cloudauthcommand.BeginAuthorizationMessage](adapter, commands.BeginAuthorization, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribe[cloudauthcommand.CompleteAuthorizationMessage](adapter, commands.CompleteAuthorization, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribe[cloudauthcommand.DisconnectMessage](adapter, commands.Disconnect, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribe[cloudauthcommand.RefreshCredentialMessage](adapter, commands.RefreshCredential, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribe[cloudauthcommand.RefreshDueMessage](adapter, commands.RefreshDue, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribe[cloudauthcommand.RefreshAccountInfoMessage](adapter, commands.RefreshAccountInfo, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribeQuery[cloudauthquery.ConnectionStatusMessage, core.ConnectionStatus](adapter, queries.ConnectionStatus, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribeQuery[cloudauthquery.AccessTokenMessage, core.AccessToken](adapter, queries.AccessToken, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribeQuery[cloudauthquery.ListFolderMessage, core.FolderListing](adapter, queries.ListFolder, runnerOpts...)) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return subscriptions, nil
}
