// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package mock provides an HTTP test double and builders for the bodies an
// authority sends back.
package mock

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/authority"
)

type response struct {
	body     []byte
	callback func(*http.Request)
	code     int
	err      error
	headers  http.Header
}

// ResponseOption configures one response of a Client.
type ResponseOption interface {
	apply(*response)
}

type respOpt func(*response)

func (fn respOpt) apply(r *response) {
	fn(r)
}

// WithBody sets the HTTP response's body to the specified value.
func WithBody(b []byte) ResponseOption {
	return respOpt(func(r *response) {
		r.body = b
	})
}

// WithCallback sets a callback to invoke before returning the response.
func WithCallback(callback func(*http.Request)) ResponseOption {
	return respOpt(func(r *response) {
		r.callback = callback
	})
}

// WithHTTPHeader sets the HTTP headers of the response to the specified value.
func WithHTTPHeader(header http.Header) ResponseOption {
	return respOpt(func(r *response) {
		r.headers = header
	})
}

// WithHTTPStatusCode sets the HTTP statusCode of response to the specified value.
func WithHTTPStatusCode(statusCode int) ResponseOption {
	return respOpt(func(r *response) {
		r.code = statusCode
	})
}

// WithError makes Do fail with err instead of responding, as a broken connection would.
func WithError(err error) ResponseOption {
	return respOpt(func(r *response) {
		r.err = err
	})
}

// Client is a mock HTTP client that returns a sequence of responses. Use AppendResponse to specify the sequence.
// It is safe for concurrent use.
type Client struct {
	mu       sync.Mutex
	resp     []response
	requests []*http.Request
}

func NewClient() *Client {
	return &Client{}
}

func (c *Client) AppendResponse(opts ...ResponseOption) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := response{code: http.StatusOK, headers: http.Header{}}
	for _, o := range opts {
		o.apply(&r)
	}
	c.resp = append(c.resp, r)
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.resp) == 0 {
		panic(fmt.Sprintf(`no response for "%s"`, req.URL.String()))
	}
	c.requests = append(c.requests, req)
	resp := c.resp[0]
	c.resp = c.resp[1:]
	if resp.callback != nil {
		resp.callback(req)
	}
	if resp.err != nil {
		return nil, resp.err
	}
	res := http.Response{Header: resp.headers, StatusCode: resp.code, Request: req}
	res.Body = io.NopCloser(bytes.NewReader(resp.body))
	return &res, nil
}

// CloseIdleConnections implements the comm.HTTPClient interface
func (*Client) CloseIdleConnections() {}

// Requests returns the requests Do has received, oldest first.
func (c *Client) Requests() []*http.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*http.Request(nil), c.requests...)
}

// Pending is how many appended responses haven't been returned yet.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resp)
}

// TokenBody describes a token endpoint response. Empty members are left out of the body.
type TokenBody struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ClientInfo   string
	TokenType    string
	Scope        string
	FamilyID     string
	ExpiresIn    int
}

// JSON renders the body. TokenType defaults to Bearer and ExpiresIn to an hour.
func (b TokenBody) JSON() []byte {
	m := map[string]any{
		"access_token": b.AccessToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if b.TokenType != "" {
		m["token_type"] = b.TokenType
	}
	if b.ExpiresIn != 0 {
		m["expires_in"] = b.ExpiresIn
	}
	for k, v := range map[string]string{
		"id_token":      b.IDToken,
		"refresh_token": b.RefreshToken,
		"client_info":   b.ClientInfo,
		"scope":         b.Scope,
		"foci":          b.FamilyID,
	} {
		if v != "" {
			m[k] = v
		}
	}
	out, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return out
}

// GetAccessTokenBody is a bearer token response without a scope member, which means every requested scope was granted.
func GetAccessTokenBody(accessToken, idToken, refreshToken, clientInfo string, expiresIn int) []byte {
	return TokenBody{
		AccessToken:  accessToken,
		IDToken:      idToken,
		RefreshToken: refreshToken,
		ClientInfo:   clientInfo,
		ExpiresIn:    expiresIn,
	}.JSON()
}

// GetErrorBody is an OAuth error response.
func GetErrorBody(code, description string) []byte {
	return []byte(fmt.Sprintf(`{"error": %q, "error_description": %q, "error_codes": [50000], "correlation_id": "00000000-0000-0000-0000-000000000000"}`, code, description))
}

// GetIDToken is an unsigned ID token for a user of tenant.
func GetIDToken(tenant, issuer, subject, username string) string {
	now := time.Now().Unix()
	payload, err := json.Marshal(map[string]any{
		"aud":                "client",
		"exp":                now + 3600,
		"iat":                now,
		"iss":                issuer,
		"tid":                tenant,
		"sub":                subject,
		"oid":                subject,
		"preferred_username": username,
	})
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("header.%s.signature", base64.RawURLEncoding.EncodeToString(payload))
}

// GetClientInfo is the client_info member for the home account uid.utid.
func GetClientInfo(uid, utid string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"uid":%q,"utid":%q}`, uid, utid)))
}

func GetInstanceDiscoveryBody(host, tenant string, aliases ...string) []byte {
	authority := fmt.Sprintf("https://%s/%s", host, tenant)
	if len(aliases) == 0 {
		aliases = []string{host}
	}
	a, err := json.Marshal(aliases)
	if err != nil {
		panic(err)
	}
	body := fmt.Sprintf(`{"tenant_discovery_endpoint": "%s/v2.0/.well-known/openid-configuration","api-version": "1.1","metadata": [{"preferred_network": "%s","preferred_cache": "%s","aliases": %s}]}`,
		authority, host, host, a,
	)
	return []byte(body)
}

func GetTenantDiscoveryBody(host, tenant string) []byte {
	authority := fmt.Sprintf("https://%s/%s", host, tenant)
	content := strings.ReplaceAll(`{"token_endpoint": "{authority}/oauth2/v2.0/token",
		"token_endpoint_auth_methods_supported": [
			"client_secret_post",
			"private_key_jwt",
			"client_secret_basic"
		],
		"jwks_uri": "{authority}/discovery/v2.0/keys",
		"response_modes_supported": [
			"query",
			"fragment",
			"form_post"
		],
		"subject_types_supported": [
			"pairwise"
		],
		"id_token_signing_alg_values_supported": [
			"RS256"
		],
		"response_types_supported": [
			"code",
			"id_token",
			"code id_token",
			"id_token token"
		],
		"scopes_supported": [
			"openid",
			"profile",
			"email",
			"offline_access"
		],
		"issuer": "{authority}/v2.0",
		"request_uri_parameter_supported": false,
		"authorization_endpoint": "{authority}/oauth2/v2.0/authorize",
		"end_session_endpoint": "{authority}/oauth2/v2.0/logout",
		"tenant_region_scope": "NA"
	}`, "{authority}", authority)
	return []byte(content)
}

// Authnschemeformat is how AuthnSchemeTest formats access tokens.
const Authnschemeformat = "%s-formatted"

// AuthnSchemeTest is an authentication scheme that adds fixed token request parameters.
type AuthnSchemeTest struct{}

func (a *AuthnSchemeTest) TokenRequestParams() map[string]string {
	return map[string]string{
		"token_type": "pop",
		"req_cnf":    "test-cnf",
	}
}

func (a *AuthnSchemeTest) KeyID() string {
	return "KeyId"
}

func (a *AuthnSchemeTest) FormatAccessToken(accessToken string) (string, error) {
	return fmt.Sprintf(Authnschemeformat, accessToken), nil
}

func (a *AuthnSchemeTest) AccessTokenType() string {
	return "pop"
}

func NewTestAuthnScheme() authority.AuthenticationScheme {
	return &AuthnSchemeTest{}
}
