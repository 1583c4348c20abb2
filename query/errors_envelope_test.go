package query

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-cloudauth/core"
)

func TestListFolderMessage_ValidateReturnsRichError(t *testing.T) {
	err := (ListFolderMessage{ProviderID: "box"}).Validate()
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

	err = (ListFolderMessage{Owner: "u1", ProviderID: "box", Options: core.ListOptions{Limit: -1}}).Validate()
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryBadInput {
		t.Fatalf("expected bad input for negative limit, got %v", err)
	}
}

func TestAccessTokenQuery_NilReaderReturnsRichError(t *testing.T) {
	var qry *AccessTokenQuery
	_, err := qry.Query(context.Background(), AccessTokenMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}
