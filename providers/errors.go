package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-cloudauth/core"
	"github.com/goliatone/go-cloudauth/ratelimit"
	"golang.org/x/oauth2"
)

const maxErrorBodyBytes int64 = 64 << 10

// translateTokenError maps token endpoint failures onto the error taxonomy.
// Only invalid_grant on refresh means the owner has to reconnect; every
// supported vendor reports revoked or expired refresh tokens that way.
func translateTokenError(providerID string, err error, refresh bool) error {
	if err == nil {
		return nil
	}
	var throttled ratelimit.ThrottledError
	if errors.As(err, &throttled) {
		return core.WithCause(throttled.ToServiceError(), err)
	}

	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) && retrieve.Response != nil {
		status := retrieve.Response.StatusCode
		message := retrieve.ErrorDescription
		if message == "" {
			message = retrieve.ErrorCode
		}
		if message == "" {
			message = extractErrorMessage(retrieve.Body)
		}
		code := strings.ToLower(strings.TrimSpace(retrieve.ErrorCode))
		switch {
		case status == http.StatusTooManyRequests:
			return core.WithCause(rateLimitError(providerID, retrieve.Response), err)
		case status >= 500:
			return core.WithCause(core.NewAPIError(status, true, "providers: %s token endpoint returned %d: %s", providerID, status, message), err)
		case code == "invalid_client" || code == "unauthorized_client":
			// The deployment's client credentials are wrong, not the owner's grant.
			return core.WithCause(core.NewConfigurationError("providers: %s rejected the client credentials: %s", providerID, message), err)
		case refresh && code == "invalid_grant":
			return core.WithCause(core.NewTokenRefreshError(providerID, "providers: %s rejected the refresh token: %s", providerID, message), err)
		default:
			return core.WithCause(core.NewAPIError(status, false, "providers: %s token endpoint returned %d: %s", providerID, status, message), err)
		}
	}
	if isTransportError(err) {
		return translateTransportError(providerID, err)
	}
	return core.WithCause(core.NewAPIError(0, false, "providers: %s token response: %v", providerID, err), err)
}

// translateTransportError covers failures where no response was received.
func translateTransportError(providerID string, err error) error {
	var throttled ratelimit.ThrottledError
	if errors.As(err, &throttled) {
		return core.WithCause(throttled.ToServiceError(), err)
	}
	return core.WithCause(core.NewAPIError(0, true, "providers: %s request failed: %v", providerID, err), err)
}

func isTransportError(err error) bool {
	var urlErr *url.Error
	return errors.As(err, &urlErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// responseError maps a non-2xx API response.
func responseError(providerID string, res *http.Response, body []byte) *goerrors.Error {
	status := res.StatusCode
	if status == http.StatusTooManyRequests {
		return rateLimitError(providerID, res)
	}
	message := extractErrorMessage(body)
	if message == "" {
		message = http.StatusText(status)
	}
	err := core.NewAPIError(status, status >= 500, "providers: %s returned %d: %s", providerID, status, message)
	err.Metadata[core.MetadataProviderID] = providerID
	return err
}

func rateLimitError(providerID string, res *http.Response) *goerrors.Error {
	retryAfter, _ := ratelimit.ParseRetryAfter(ratelimit.ResponseMeta{
		StatusCode: res.StatusCode,
		Headers:    res.Header,
	}, time.Now().UTC())
	err := core.NewRateLimitError(retryAfter, "providers: %s rate limited the request", providerID)
	err.Metadata[core.MetadataProviderID] = providerID
	return err
}

// extractErrorMessage understands the error bodies of the supported vendors:
// RFC 6749 (error, error_description), Graph and Drive ({"error":{"message"}}),
// Box (message) and Dropbox (error_summary).
func extractErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	if nested, ok := payload["error"].(map[string]any); ok {
		if message, ok := nested["message"].(string); ok && message != "" {
			return message
		}
	}
	for _, key := range []string{"error_description", "error_summary", "message", "error"} {
		if value, ok := payload[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return strings.TrimSpace(string(body))
}

func readLimited(body io.Reader, limit int64) ([]byte, bool) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return data, false
	}
	if int64(len(data)) > limit {
		return data[:limit], false
	}
	return data, true
}
