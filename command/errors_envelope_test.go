package command

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-cloudauth/core"
)

func TestBeginAuthorizationMessage_ValidateReturnsRichError(t *testing.T) {
	err := (BeginAuthorizationMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.ErrorBadInput, rich.TextCode)
	}
}

func TestBeginAuthorizationCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *BeginAuthorizationCommand
	err := cmd.Execute(context.Background(), BeginAuthorizationMessage{})
	if err == nil {
		t.Fatalf("expected command dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}

func TestRefreshCredentialMessage_RejectsNegativeHorizon(t *testing.T) {
	err := (RefreshCredentialMessage{Owner: "u1", ProviderID: "box", Horizon: -1}).Validate()
	if !core.IsBadInput(err) {
		t.Fatalf("expected bad input for negative horizon, got %v", err)
	}
}
