package providers

import (
	"net/http"

	"github.com/goliatone/go-cloudauth/ratelimit"
)

// gatedTransport consults the rate-limit policy around every round trip so
// the token endpoint and the file API share one view of vendor throttling.
type gatedTransport struct {
	base   http.RoundTripper
	policy ratelimit.Policy
	key    ratelimit.Key
}

func (t *gatedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if err := t.policy.BeforeCall(ctx, t.key); err != nil {
		return nil, err
	}
	res, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	// Gate bookkeeping never fails the call itself.
	_ = t.policy.AfterCall(ctx, t.key, ratelimit.ResponseMeta{
		StatusCode: res.StatusCode,
		Headers:    res.Header,
	})
	return res, nil
}

func gatedClient(base *http.Client, policy ratelimit.Policy, key ratelimit.Key) *http.Client {
	client := &http.Client{}
	if base != nil {
		*client = *base
	}
	if policy == nil {
		return client
	}
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &gatedTransport{
		base:   transport,
		policy: policy,
		key:    ratelimit.NormalizeKey(key),
	}
	return client
}
