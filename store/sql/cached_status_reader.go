package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-cloudauth/core"
)

const connectionStatusCacheKeyPrefix = "go-cloudauth::connection_status::v1"

// StatusReader is the read side of the lifecycle engine used by status
// queries.
type StatusReader interface {
	GetConnectionStatus(ctx context.Context, owner string, providerID string) (core.ConnectionStatus, error)
}

// CachedStatusReader caches connection status reads. Writers call
// Invalidate after any change to the credential of a key; entries otherwise
// live for the cache TTL.
type CachedStatusReader struct {
	base  StatusReader
	cache repositorycache.CacheService
}

func NewCachedStatusReader(base StatusReader, cacheService repositorycache.CacheService) (*CachedStatusReader, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base status reader is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: status cache service is required")
	}
	return &CachedStatusReader{base: base, cache: cacheService}, nil
}

func ConnectionStatusCacheKey(owner string, providerID string) (string, error) {
	owner = strings.TrimSpace(owner)
	providerID = strings.TrimSpace(providerID)
	if owner == "" || providerID == "" {
		return "", fmt.Errorf("sqlstore: owner and provider id are required for status cache key")
	}
	return strings.Join([]string{
		connectionStatusCacheKeyPrefix,
		url.PathEscape(providerID),
		url.PathEscape(owner),
	}, "::"), nil
}

func (r *CachedStatusReader) GetConnectionStatus(ctx context.Context, owner string, providerID string) (core.ConnectionStatus, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return core.ConnectionStatus{}, fmt.Errorf("sqlstore: cached status reader is not configured")
	}
	cacheKey, err := ConnectionStatusCacheKey(owner, providerID)
	if err != nil {
		return core.ConnectionStatus{}, core.NewBadInputError("%s", err.Error())
	}
	status, err := repositorycache.GetOrFetch(ctx, r.cache, cacheKey, func(ctx context.Context) (core.ConnectionStatus, error) {
		return r.base.GetConnectionStatus(ctx, owner, providerID)
	})
	if err != nil {
		return core.ConnectionStatus{}, err
	}
	return cloneStatus(status), nil
}

func (r *CachedStatusReader) Invalidate(ctx context.Context, owner string, providerID string) error {
	if r == nil || r.cache == nil {
		return nil
	}
	cacheKey, err := ConnectionStatusCacheKey(owner, providerID)
	if err != nil {
		return err
	}
	return r.cache.Delete(ctx, cacheKey)
}

func cloneStatus(status core.ConnectionStatus) core.ConnectionStatus {
	cloned := status
	cloned.Scopes = append([]string(nil), status.Scopes...)
	cloned.ConnectedAt = copyTimePointer(status.ConnectedAt)
	cloned.ExpiresAt = copyTimePointer(status.ExpiresAt)
	return cloned
}

var _ StatusReader = (*CachedStatusReader)(nil)
