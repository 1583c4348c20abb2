package core

import (
	"context"
	"net/http"
	"strings"
)

type ownerContextKey struct{}

// ContextWithOwner stores the authenticated owner for ContextOwnerResolver.
// Host middleware calls it after its own authentication.
func ContextWithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, strings.TrimSpace(owner))
}

func OwnerFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	owner, ok := ctx.Value(ownerContextKey{}).(string)
	return owner, ok && owner != ""
}

// ContextOwnerResolver reads the owner placed on the request context by the
// host application's middleware.
type ContextOwnerResolver struct{}

func (ContextOwnerResolver) ResolveOwner(r *http.Request) (string, error) {
	if r == nil {
		return "", NewAuthenticationError("core: request is missing")
	}
	owner, ok := OwnerFromContext(r.Context())
	if !ok {
		return "", NewAuthenticationError("core: request is not authenticated")
	}
	return owner, nil
}

func (resolver ContextOwnerResolver) Authenticate(next http.Handler) http.Handler {
	return RequireOwner(resolver, next)
}

// RequireOwner rejects requests the resolver cannot attribute to an owner.
func RequireOwner(resolver OwnerResolver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := resolver.ResolveOwner(r)
		if err != nil || strings.TrimSpace(owner) == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithOwner(r.Context(), owner)))
	})
}
