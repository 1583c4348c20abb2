package cloudauth

import (
	"fmt"

	cloudauthcommand "github.com/goliatone/go-cloudauth/command"
	cloudauthquery "github.com/goliatone/go-cloudauth/query"
)

// CommandQueryService is the service surface the facade dispatches to.
// core.Service satisfies it.
type CommandQueryService interface {
	cloudauthcommand.MutatingService
	cloudauthquery.StatusReader
	cloudauthquery.TokenReader
	cloudauthquery.FolderReader
}

type Commands struct {
	BeginAuthorization    *cloudauthcommand.BeginAuthorizationCommand
	CompleteAuthorization *cloudauthcommand.CompleteAuthorizationCommand
	Disconnect            *cloudauthcommand.DisconnectCommand
	RefreshCredential     *cloudauthcommand.RefreshCredentialCommand
	RefreshDue            *cloudauthcommand.RefreshDueCommand
	RefreshAccountInfo    *cloudauthcommand.RefreshAccountInfoCommand
}

type Queries struct {
	ConnectionStatus *cloudauthquery.ConnectionStatusQuery
	AccessToken      *cloudauthquery.AccessTokenQuery
	ListFolder       *cloudauthquery.ListFolderQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	statusReader cloudauthquery.StatusReader
}

// WithStatusReader serves connection status from reader, typically the
// cached reader in store/sql. When reader can invalidate entries, mutating
// commands drop the entry they touched.
func WithStatusReader(reader cloudauthquery.StatusReader) FacadeOption {
	return func(options *facadeOptions) {
		options.statusReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("cloudauth: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.statusReader
	if reader == nil {
		reader = service
	}
	invalidator, _ := reader.(cloudauthcommand.StatusInvalidator)

	facade := &Facade{service: service}
	facade.commands = Commands{
		BeginAuthorization:    cloudauthcommand.NewBeginAuthorizationCommand(service),
		CompleteAuthorization: cloudauthcommand.NewCompleteAuthorizationCommand(service, invalidator),
		Disconnect:            cloudauthcommand.NewDisconnectCommand(service, invalidator),
		RefreshCredential:     cloudauthcommand.NewRefreshCredentialCommand(service, invalidator),
		RefreshDue:            cloudauthcommand.NewRefreshDueCommand(service),
		RefreshAccountInfo:    cloudauthcommand.NewRefreshAccountInfoCommand(service, invalidator),
	}
	facade.queries = Queries{
		ConnectionStatus: cloudauthquery.NewConnectionStatusQuery(reader),
		AccessToken:      cloudauthquery.NewAccessTokenQuery(service),
		ListFolder:       cloudauthquery.NewListFolderQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
