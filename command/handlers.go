package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-cloudauth/core"
)

// MutatingService is the write half of core.LifecycleService.
type MutatingService interface {
	GetAuthorizationURL(ctx context.Context, req core.AuthorizationRequest) (core.AuthorizationResponse, error)
	CompleteAuthorization(ctx context.Context, req core.CompleteAuthorizationRequest) (core.ConnectionStatus, error)
	Disconnect(ctx context.Context, owner string, providerID string) (bool, error)
	RefreshIfDue(ctx context.Context, owner string, providerID string, horizon time.Duration) (core.RefreshOutcome, error)
	RefreshDue(ctx context.Context, providerID string, horizon time.Duration) (core.RefreshDueResult, error)
	RefreshAccountInfo(ctx context.Context, owner string, providerID string) (core.ConnectionStatus, error)
}

// StatusInvalidator drops cached connection status after a mutation.
type StatusInvalidator interface {
	Invalidate(ctx context.Context, owner string, providerID string) error
}

// DisconnectResult reports whether a stored credential existed.
type DisconnectResult struct {
	Existed bool
}

type BeginAuthorizationCommand struct {
	service MutatingService
}

func NewBeginAuthorizationCommand(service MutatingService) *BeginAuthorizationCommand {
	return &BeginAuthorizationCommand{service: service}
}

func (c *BeginAuthorizationCommand) Execute(ctx context.Context, msg BeginAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: authorization service is required")
	}
	out, err := c.service.GetAuthorizationURL(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteAuthorizationCommand struct {
	service     MutatingService
	invalidator StatusInvalidator
}

func NewCompleteAuthorizationCommand(service MutatingService, invalidator StatusInvalidator) *CompleteAuthorizationCommand {
	return &CompleteAuthorizationCommand{service: service, invalidator: invalidator}
}

func (c *CompleteAuthorizationCommand) Execute(ctx context.Context, msg CompleteAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: complete authorization service is required")
	}
	out, err := c.service.CompleteAuthorization(ctx, msg.Request)
	invalidate(ctx, c.invalidator, msg.Request.Owner, msg.Request.ProviderID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisconnectCommand struct {
	service     MutatingService
	invalidator StatusInvalidator
}

func NewDisconnectCommand(service MutatingService, invalidator StatusInvalidator) *DisconnectCommand {
	return &DisconnectCommand{service: service, invalidator: invalidator}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	existed, err := c.service.Disconnect(ctx, msg.Owner, msg.ProviderID)
	invalidate(ctx, c.invalidator, msg.Owner, msg.ProviderID)
	if err != nil {
		return err
	}
	storeResult(ctx, DisconnectResult{Existed: existed})
	return nil
}

type RefreshCredentialCommand struct {
	service     MutatingService
	invalidator StatusInvalidator
}

func NewRefreshCredentialCommand(service MutatingService, invalidator StatusInvalidator) *RefreshCredentialCommand {
	return &RefreshCredentialCommand{service: service, invalidator: invalidator}
}

func (c *RefreshCredentialCommand) Execute(ctx context.Context, msg RefreshCredentialMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	out, err := c.service.RefreshIfDue(ctx, msg.Owner, msg.ProviderID, msg.Horizon)
	if out.Refreshed || err != nil {
		invalidate(ctx, c.invalidator, msg.Owner, msg.ProviderID)
	}
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

// RefreshDueCommand sweeps one provider. Cached status entries expire on
// their own TTL since the sweep does not report which owners changed.
type RefreshDueCommand struct {
	service MutatingService
}

func NewRefreshDueCommand(service MutatingService) *RefreshDueCommand {
	return &RefreshDueCommand{service: service}
}

func (c *RefreshDueCommand) Execute(ctx context.Context, msg RefreshDueMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh due service is required")
	}
	out, err := c.service.RefreshDue(ctx, msg.ProviderID, msg.Horizon)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshAccountInfoCommand struct {
	service     MutatingService
	invalidator StatusInvalidator
}

func NewRefreshAccountInfoCommand(service MutatingService, invalidator StatusInvalidator) *RefreshAccountInfoCommand {
	return &RefreshAccountInfoCommand{service: service, invalidator: invalidator}
}

func (c *RefreshAccountInfoCommand) Execute(ctx context.Context, msg RefreshAccountInfoMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: account info service is required")
	}
	out, err := c.service.RefreshAccountInfo(ctx, msg.Owner, msg.ProviderID)
	invalidate(ctx, c.invalidator, msg.Owner, msg.ProviderID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

// invalidate is best effort; a stale entry ages out with the cache TTL.
func invalidate(ctx context.Context, invalidator StatusInvalidator, owner string, providerID string) {
	if invalidator == nil {
		return
	}
	_ = invalidator.Invalidate(ctx, owner, providerID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
