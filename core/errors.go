package core

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorConfiguration    = "CLOUDAUTH_CONFIGURATION_ERROR"
	ErrorAuthentication   = "CLOUDAUTH_AUTHENTICATION_ERROR"
	ErrorTokenRefresh     = "CLOUDAUTH_TOKEN_REFRESH_ERROR"
	ErrorAPI              = "CLOUDAUTH_API_ERROR"
	ErrorRateLimited      = "CLOUDAUTH_RATE_LIMITED"
	ErrorNotConnected     = "CLOUDAUTH_NOT_CONNECTED"
	ErrorProviderNotFound = "CLOUDAUTH_PROVIDER_NOT_FOUND"
	ErrorBadInput         = "CLOUDAUTH_BAD_INPUT"
	ErrorInternal         = "CLOUDAUTH_INTERNAL_ERROR"
)

const (
	MetadataStatusCode        = "status_code"
	MetadataRetryable         = "retryable"
	MetadataRetryAfterMS      = "retry_after_ms"
	MetadataReconnectRequired = "reconnect_required"
	MetadataProviderID        = "provider_id"
)

// NewConfigurationError reports a missing or malformed deployment setting.
// It is fatal at startup and surfaced lazily when a provider is first used.
func NewConfigurationError(message string, args ...any) *goerrors.Error {
	return goerrors.New(formatMessage(message, args...), goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorConfiguration).
		WithSeverity(goerrors.SeverityCritical)
}

// NewAuthenticationError reports a failed authorization step: invalid state,
// rejected code exchange or a ciphertext integrity failure.
func NewAuthenticationError(message string, args ...any) *goerrors.Error {
	return goerrors.New(formatMessage(message, args...), goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorAuthentication)
}

// NewTokenRefreshError reports a refresh token the provider no longer accepts.
// The owner has to reconnect.
func NewTokenRefreshError(providerID string, message string, args ...any) *goerrors.Error {
	return goerrors.New(formatMessage(message, args...), goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorTokenRefresh).
		WithMetadata(map[string]any{
			MetadataProviderID:        strings.TrimSpace(providerID),
			MetadataReconnectRequired: true,
		})
}

// NewAPIError reports a non-success provider response. A zero status marks a
// transport failure (no response received).
func NewAPIError(statusCode int, retryable bool, message string, args ...any) *goerrors.Error {
	code := statusCode
	if code <= 0 {
		code = http.StatusBadGateway
	}
	return goerrors.New(formatMessage(message, args...), goerrors.CategoryExternal).
		WithCode(code).
		WithTextCode(ErrorAPI).
		WithMetadata(map[string]any{
			MetadataStatusCode: statusCode,
			MetadataRetryable:  retryable,
		})
}

func NewRateLimitError(retryAfter time.Duration, message string, args ...any) *goerrors.Error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return goerrors.New(formatMessage(message, args...), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(ErrorRateLimited).
		WithMetadata(map[string]any{
			MetadataStatusCode:   http.StatusTooManyRequests,
			MetadataRetryable:    true,
			MetadataRetryAfterMS: retryAfter.Milliseconds(),
		})
}

func NewNotConnectedError(owner, providerID string) *goerrors.Error {
	return goerrors.New(
		fmt.Sprintf("core: no active %s credential for owner %q", providerID, owner),
		goerrors.CategoryNotFound,
	).
		WithCode(http.StatusNotFound).
		WithTextCode(ErrorNotConnected).
		WithMetadata(map[string]any{MetadataProviderID: providerID})
}

func NewProviderNotFoundError(providerID string) *goerrors.Error {
	return goerrors.New(
		fmt.Sprintf("core: provider %q is not registered", providerID),
		goerrors.CategoryNotFound,
	).
		WithCode(http.StatusNotFound).
		WithTextCode(ErrorProviderNotFound).
		WithMetadata(map[string]any{MetadataProviderID: providerID})
}

func NewBadInputError(message string, args ...any) *goerrors.Error {
	return goerrors.New(formatMessage(message, args...), goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput)
}

// WithCause attaches source as the unwrap target without changing the
// category of err. goerrors.Wrap would keep the category of source instead.
func WithCause(err *goerrors.Error, source error) *goerrors.Error {
	if err == nil {
		return nil
	}
	err.Source = source
	return err
}

func IsConfigurationError(err error) bool {
	return hasTextCode(err, ErrorConfiguration)
}

// IsAuthenticationError matches every authentication-class failure, including
// token refresh rejections.
func IsAuthenticationError(err error) bool {
	rich, ok := asRichError(err)
	return ok && rich.Category == goerrors.CategoryAuth
}

func IsTokenRefreshError(err error) bool {
	return hasTextCode(err, ErrorTokenRefresh)
}

func IsAPIError(err error) bool {
	return hasTextCode(err, ErrorAPI)
}

func IsRateLimitError(err error) bool {
	rich, ok := asRichError(err)
	return ok && rich.Category == goerrors.CategoryRateLimit
}

func IsBadInput(err error) bool {
	return hasTextCode(err, ErrorBadInput)
}

func IsNotConnected(err error) bool {
	return hasTextCode(err, ErrorNotConnected)
}

// IsRetryable reports whether a later attempt may succeed: transport
// failures, provider 5xx responses and rate limits.
func IsRetryable(err error) bool {
	rich, ok := asRichError(err)
	if !ok {
		return false
	}
	if rich.Category == goerrors.CategoryRateLimit {
		return true
	}
	retryable, _ := rich.Metadata[MetadataRetryable].(bool)
	return retryable
}

// RetryAfter returns the provider's backoff hint for rate limit errors.
func RetryAfter(err error) time.Duration {
	rich, ok := asRichError(err)
	if !ok || rich.Category != goerrors.CategoryRateLimit {
		return 0
	}
	switch value := rich.Metadata[MetadataRetryAfterMS].(type) {
	case int64:
		return time.Duration(value) * time.Millisecond
	case int:
		return time.Duration(value) * time.Millisecond
	case float64:
		return time.Duration(value) * time.Millisecond
	}
	return 0
}

// StatusCode returns the provider HTTP status carried by an API error.
func StatusCode(err error) int {
	rich, ok := asRichError(err)
	if !ok {
		return 0
	}
	if value, ok := rich.Metadata[MetadataStatusCode].(int); ok {
		return value
	}
	return 0
}

func asRichError(err error) (*goerrors.Error, bool) {
	if err == nil {
		return nil, false
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil {
		return nil, false
	}
	return rich, true
}

func hasTextCode(err error, code string) bool {
	rich, ok := asRichError(err)
	return ok && rich.TextCode == code
}

func formatMessage(message string, args ...any) string {
	if len(args) == 0 {
		return message
	}
	return fmt.Sprintf(message, args...)
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "provider") && strings.Contains(msg, "not registered"):
		return WithCause(newServiceError(err.Error(), goerrors.CategoryNotFound, ErrorProviderNotFound), err)
	case strings.Contains(msg, "authorization state"):
		return WithCause(newServiceError(err.Error(), goerrors.CategoryAuth, ErrorAuthentication), err)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "throttl"):
		return WithCause(newServiceError(err.Error(), goerrors.CategoryRateLimit, ErrorRateLimited), err)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return WithCause(newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput), err)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotConnected
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorAuthentication
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorAPI
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
