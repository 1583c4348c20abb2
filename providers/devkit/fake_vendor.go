package devkit

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const (
	AuthorizePath = "/oauth/authorize"
	TokenPath     = "/oauth/token"
	RevokePath    = "/oauth/revoke"
	APIPrefix     = "/api"
)

// TokenFixture is a scripted token endpoint response.
type TokenFixture struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Scope        string
}

type RecordedRequest struct {
	Method        string
	Path          string
	RawQuery      string
	Authorization string
	Form          map[string]string
	Body          string
}

// TokenFailure forces the next token endpoint responses to fail.
type TokenFailure struct {
	Status  int
	Headers map[string]string
	Body    string
}

// FakeVendor is an in-process OAuth2 authorization server plus a scripted
// file API, enough to drive a provider through its whole contract.
type FakeVendor struct {
	Server       *httptest.Server
	ClientID     string
	ClientSecret string

	mu          sync.Mutex
	codes       map[string]TokenFixture
	refresh     map[string]TokenFixture
	routes      map[string]http.HandlerFunc
	revoked     []string
	requests    []RecordedRequest
	tokenFail   *TokenFailure
	tokenCalls  int
}

func NewFakeVendor(t testing.TB, clientID string, clientSecret string) *FakeVendor {
	t.Helper()
	vendor := &FakeVendor{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		codes:        map[string]TokenFixture{},
		refresh:      map[string]TokenFixture{},
		routes:       map[string]http.HandlerFunc{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(TokenPath, vendor.handleToken)
	mux.HandleFunc(RevokePath, vendor.handleRevoke)
	mux.HandleFunc(APIPrefix+"/", vendor.handleAPI)
	vendor.Server = httptest.NewServer(mux)
	t.Cleanup(vendor.Server.Close)
	return vendor
}

func (v *FakeVendor) URL(path string) string {
	return v.Server.URL + path
}

func (v *FakeVendor) AuthURL() string   { return v.URL(AuthorizePath) }
func (v *FakeVendor) TokenURL() string  { return v.URL(TokenPath) }
func (v *FakeVendor) RevokeURL() string { return v.URL(RevokePath) }
func (v *FakeVendor) APIBaseURL() string {
	return v.URL(APIPrefix)
}

func (v *FakeVendor) Client() *http.Client {
	return v.Server.Client()
}

// IssueCode makes code redeemable once for fixture.
func (v *FakeVendor) IssueCode(code string, fixture TokenFixture) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.codes[code] = fixture
}

// IssueRefresh makes refreshToken redeemable for fixture until revoked.
func (v *FakeVendor) IssueRefresh(refreshToken string, fixture TokenFixture) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.refresh[refreshToken] = fixture
}

func (v *FakeVendor) RevokeRefresh(refreshToken string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.refresh, refreshToken)
}

func (v *FakeVendor) FailToken(failure *TokenFailure) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokenFail = failure
}

// Handle registers an API route, e.g. Handle("GET", "/users/me", h). Paths
// are relative to APIBaseURL.
func (v *FakeVendor) Handle(method string, path string, handler http.HandlerFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.routes[routeKey(method, APIPrefix+"/"+strings.TrimLeft(path, "/"))] = handler
}

// HandleJSON registers a route answering with a fixed status and JSON body.
func (v *FakeVendor) HandleJSON(method string, path string, status int, body any) {
	v.Handle(method, path, func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, status, body)
	})
}

func (v *FakeVendor) Requests() []RecordedRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]RecordedRequest(nil), v.requests...)
}

func (v *FakeVendor) Revoked() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.revoked...)
}

func (v *FakeVendor) TokenCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tokenCalls
}

func (v *FakeVendor) handleToken(w http.ResponseWriter, r *http.Request) {
	record := v.record(r)
	v.mu.Lock()
	v.tokenCalls++
	failure := v.tokenFail
	v.mu.Unlock()

	if failure != nil {
		for key, value := range failure.Headers {
			w.Header().Set(key, value)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(failure.Status)
		_, _ = w.Write([]byte(failure.Body))
		return
	}
	if record.Form["client_id"] != v.ClientID || record.Form["client_secret"] != v.ClientSecret {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	var fixture TokenFixture
	var ok bool
	v.mu.Lock()
	switch record.Form["grant_type"] {
	case "authorization_code":
		fixture, ok = v.codes[record.Form["code"]]
		delete(v.codes, record.Form["code"])
	case "refresh_token":
		fixture, ok = v.refresh[record.Form["refresh_token"]]
	}
	v.mu.Unlock()
	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	payload := map[string]any{"access_token": fixture.AccessToken}
	tokenType := fixture.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	payload["token_type"] = tokenType
	if fixture.RefreshToken != "" {
		payload["refresh_token"] = fixture.RefreshToken
	}
	if fixture.ExpiresIn > 0 {
		payload["expires_in"] = fixture.ExpiresIn
	}
	if fixture.Scope != "" {
		payload["scope"] = fixture.Scope
	}
	WriteJSON(w, http.StatusOK, payload)
}

func (v *FakeVendor) handleRevoke(w http.ResponseWriter, r *http.Request) {
	record := v.record(r)
	token := record.Form["token"]
	if token == "" {
		token = strings.TrimPrefix(record.Authorization, "Bearer ")
	}
	v.mu.Lock()
	v.revoked = append(v.revoked, token)
	v.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (v *FakeVendor) handleAPI(w http.ResponseWriter, r *http.Request) {
	record := v.record(r)
	v.mu.Lock()
	handler, ok := v.routes[routeKey(r.Method, r.URL.Path)]
	v.mu.Unlock()
	if !ok {
		WriteJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"message": "no route " + r.URL.Path}})
		return
	}
	if !strings.HasPrefix(record.Authorization, "Bearer ") {
		WriteJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"message": "missing bearer token"}})
		return
	}
	handler(w, r)
}

func (v *FakeVendor) record(r *http.Request) RecordedRequest {
	record := RecordedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		RawQuery:      r.URL.RawQuery,
		Authorization: r.Header.Get("Authorization"),
		Form:          map[string]string{},
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err == nil {
			for key := range r.PostForm {
				record.Form[key] = r.PostForm.Get(key)
			}
		}
	} else if r.Body != nil {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		record.Body = string(body)
		// Route handlers read the body again.
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	v.mu.Lock()
	v.requests = append(v.requests, record)
	v.mu.Unlock()
	return record
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	WriteJSON(w, status, map[string]any{"error": code, "error_description": code + " from fake vendor"})
}

func routeKey(method string, path string) string {
	return strings.ToUpper(strings.TrimSpace(method)) + " " + path
}
