package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-cloudauth/core"
	"github.com/goliatone/go-cloudauth/ratelimit"
)

const (
	defaultResponseBodyLimit int64 = 10 << 20 // 10 MiB
	defaultMaxAttempts             = 3
)

// APIRequest is one authenticated call against a vendor API.
type APIRequest struct {
	Method string
	// Path is joined to the client base URL unless it is absolute.
	Path        string
	Query       url.Values
	Headers     map[string]string
	JSON        any
	AccessToken string
	// Idempotent allows retries of non-GET reads such as Dropbox RPC calls.
	Idempotent bool
}

type APIClientConfig struct {
	ProviderID           string
	BaseURL              string
	Timeout              time.Duration
	HTTPClient           *http.Client
	Policy               ratelimit.Policy
	MaxResponseBodyBytes int64
	MaxAttempts          int
	Backoff              core.RefreshBackoffScheduler
	DefaultHeaders       map[string]string
}

// APIClient performs bearer-authenticated JSON calls with a per-call
// timeout, a response body limit, the shared throttle gate and bounded
// retries of idempotent reads.
type APIClient struct {
	cfg    APIClientConfig
	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewAPIClient(cfg APIClientConfig) (*APIClient, error) {
	cfg.ProviderID = strings.TrimSpace(strings.ToLower(cfg.ProviderID))
	if cfg.ProviderID == "" {
		return nil, fmt.Errorf("providers: api client provider id is required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("providers: api base url is required for provider %q", cfg.ProviderID)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = core.DefaultAPITimeout
	}
	if cfg.MaxResponseBodyBytes <= 0 {
		cfg.MaxResponseBodyBytes = defaultResponseBodyLimit
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = core.ExponentialBackoffScheduler{Initial: time.Second, Max: 8 * time.Second}
	}
	return &APIClient{
		cfg:    cfg,
		client: gatedClient(cfg.HTTPClient, cfg.Policy, ratelimit.Key{ProviderID: cfg.ProviderID, Bucket: BucketAPI}),
		sleep:  sleepContext,
	}, nil
}

// Do executes req and decodes a JSON response into out when out is non-nil.
func (c *APIClient) Do(ctx context.Context, req APIRequest, out any) error {
	if c == nil || c.client == nil {
		return core.NewConfigurationError("providers: api client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	retryable := method == http.MethodGet || req.Idempotent

	var body []byte
	if req.JSON != nil {
		encoded, err := json.Marshal(req.JSON)
		if err != nil {
			return core.NewBadInputError("providers: encode %s request body: %v", c.cfg.ProviderID, err)
		}
		body = encoded
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.cfg.Backoff.NextDelay(attempt-1)); err != nil {
				return lastErr
			}
		}
		lastErr = c.do(ctx, method, req, body, out)
		if lastErr == nil {
			return nil
		}
		if !retryable || core.IsRateLimitError(lastErr) || !core.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *APIClient) do(ctx context.Context, method string, req APIRequest, body []byte, out any) error {
	endpoint, err := c.resolveURL(req.Path, req.Query)
	if err != nil {
		return err
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(requestCtx, method, endpoint, reader)
	if err != nil {
		return core.NewBadInputError("providers: create %s request: %v", c.cfg.ProviderID, err)
	}
	for key, value := range c.cfg.DefaultHeaders {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), value)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(req.AccessToken); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		return translateTransportError(c.cfg.ProviderID, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		payload, _ := readLimited(res.Body, maxErrorBodyBytes)
		return responseError(c.cfg.ProviderID, res, payload)
	}

	payload, ok := readLimited(res.Body, c.cfg.MaxResponseBodyBytes)
	if !ok {
		return core.NewAPIError(res.StatusCode, false,
			"providers: %s response body exceeds limit of %d bytes", c.cfg.ProviderID, c.cfg.MaxResponseBodyBytes)
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return core.WithCause(core.NewAPIError(res.StatusCode, false, "providers: decode %s response", c.cfg.ProviderID), err)
	}
	return nil
}

func (c *APIClient) resolveURL(path string, query url.Values) (string, error) {
	path = strings.TrimSpace(path)
	raw := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		raw = c.cfg.BaseURL + "/" + strings.TrimLeft(path, "/")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", core.NewBadInputError("providers: invalid %s request url: %v", c.cfg.ProviderID, err)
	}
	if len(query) > 0 {
		values := parsed.Query()
		for key, items := range query {
			for _, item := range items {
				values.Add(key, item)
			}
		}
		parsed.RawQuery = values.Encode()
	}
	return parsed.String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
