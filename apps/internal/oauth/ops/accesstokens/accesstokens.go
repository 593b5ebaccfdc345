// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package accesstokens exposes a REST client for querying backend systems to get various types of
access tokens (oauth) for use in authentication.

These calls are of type "application/x-www-form-urlencoded".  This means we use url.Values to
represent arguments and then encode them into the POST body message.  We receive JSON in
return for the requests.  The request definition is defined in https://tools.ietf.org/html/rfc7521#section-4.2 .
*/
package accesstokens

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"

	/* #nosec */
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/authority"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/internal/grant"
)

const (
	grantType     = "grant_type"
	clientID      = "client_id"
	clientInfo    = "client_info"
	clientInfoVal = "1"
)

// assertionLifetime is how long a signed client assertion is valid for. A cached
// assertion is reused until it is within a minute of expiring.
const assertionLifetime = 10 * time.Minute

// AppType is whether the authorization code flow is for a public or confidential client.
type AppType int8

const (
	ATUnknown AppType = iota
	ATPublic
	ATConfidential
)

type urlFormCaller interface {
	URLFormCall(ctx context.Context, endpoint string, qv url.Values, resp any) error
}

// AssertionRequestOptions has information required to generate a client assertion.
type AssertionRequestOptions struct {
	// ClientID identifies the application for which an assertion is requested. Used as the assertion's "iss" and "sub" claims.
	ClientID string

	// TokenEndpoint is the intended token endpoint. Used as the assertion's "aud" claim.
	TokenEndpoint string
}

// Credential represents the credential used in confidential client flows. This can be either
// a Secret, a Cert/Key or a callback producing an assertion.
type Credential struct {
	// Secret contains the credential secret if we are doing auth by secret.
	Secret string

	// Cert is the public x509 certificate if we are doing any auth other than secret.
	Cert *x509.Certificate
	// Key is the private key for signing if we are doing any auth other than secret.
	Key crypto.PrivateKey
	// X5c is the JWT assertion's x5c header value, required for SN/I authentication.
	X5c []string

	// AssertionCallback is a function provided by the application, if we're authenticating by assertion.
	AssertionCallback func(context.Context, AssertionRequestOptions) (string, error)

	// mu protects everything below.
	mu sync.Mutex
	// Assertion is the JWT assertion if we have retrieved it. Public to allow faking in tests.
	// Any use outside msal is not supported by a compatibility promise.
	Assertion string
	// Expires is when the Assertion expires. Public to allow faking in tests.
	// Any use outside msal is not supported by a compatibility promise.
	Expires time.Time
}

// JWT gets the jwt assertion when the credential is not using a secret.
func (c *Credential) JWT(ctx context.Context, authParams authority.AuthParams) (string, error) {
	if c.AssertionCallback != nil {
		options := AssertionRequestOptions{
			ClientID:      authParams.ClientID,
			TokenEndpoint: authParams.Endpoints.TokenEndpoint,
		}
		return c.AssertionCallback(ctx, options)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Assertion != "" && c.Expires.After(time.Now().Add(time.Minute)) {
		return c.Assertion, nil
	}
	if c.Cert == nil || c.Key == nil {
		return "", errors.New("credential has neither a secret, a certificate nor an assertion callback")
	}

	var method jwt.SigningMethod
	switch c.Key.(type) {
	case *rsa.PrivateKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PrivateKey:
		method = jwt.SigningMethodES256
	default:
		return "", fmt.Errorf("unsupported private key type %T", c.Key)
	}

	now := time.Now()
	expires := now.Add(assertionLifetime)
	token := jwt.NewWithClaims(method, jwt.MapClaims{
		"aud": authParams.Endpoints.TokenEndpoint,
		"exp": expires.Unix(),
		"iss": authParams.ClientID,
		"jti": uuid.New().String(),
		"nbf": now.Unix(),
		"sub": authParams.ClientID,
	})
	token.Header = map[string]any{
		"alg": method.Alg(),
		"typ": "JWT",
		"x5t": base64.StdEncoding.EncodeToString(thumbprint(c.Cert)),
	}
	if len(c.X5c) > 0 {
		token.Header["x5c"] = c.X5c
	}

	assertion, err := token.SignedString(c.Key)
	if err != nil {
		return "", fmt.Errorf("unable to sign a JWT token using private key: %w", err)
	}

	c.Assertion = assertion
	c.Expires = expires
	return c.Assertion, nil
}

// thumbprint runs the asn1.Der bytes through sha1 for use in the x5t parameter of JWT.
// https://tools.ietf.org/html/rfc7517#section-4.8
func thumbprint(cert *x509.Certificate) []byte {
	/* #nosec */
	a := sha1.Sum(cert.Raw)
	return a[:]
}

// Client represents the REST calls to get tokens from token generator backends.
type Client struct {
	// Comm provides the HTTP transport client.
	Comm urlFormCaller
}

// AuthCodeRequest stores the values required to request a token from the authority using an authorization code
type AuthCodeRequest struct {
	AuthParams authority.AuthParams
	Code       string
	// Verifier is the PKCE code verifier matching the challenge sent in the authorization request.
	Verifier   string
	Credential *Credential
	AppType    AppType
}

// NewCodeChallengeRequest returns an AuthCodeRequest that uses a code challenge.
func NewCodeChallengeRequest(params authority.AuthParams, appType AppType, cc *Credential, code, verifier string) (AuthCodeRequest, error) {
	if appType == ATUnknown {
		return AuthCodeRequest{}, fmt.Errorf("bug: NewCodeChallengeRequest() called with AppType == ATUnknown")
	}
	return AuthCodeRequest{
		AuthParams: params,
		AppType:    appType,
		Code:       code,
		Verifier:   verifier,
		Credential: cc,
	}, nil
}

// FromAuthCode uses an authorization code to retrieve an access token.
func (c Client) FromAuthCode(ctx context.Context, req AuthCodeRequest) (TokenResponse, error) {
	var qv url.Values

	switch req.AppType {
	case ATUnknown:
		return TokenResponse{}, fmt.Errorf("bug: Token.AuthCode() received request with AppType == ATUnknown")
	case ATConfidential:
		var err error
		if req.Credential == nil {
			return TokenResponse{}, fmt.Errorf("AuthCodeRequest had nil Credential for Confidential app")
		}
		qv, err = prepURLVals(ctx, req.Credential, req.AuthParams)
		if err != nil {
			return TokenResponse{}, err
		}
	case ATPublic:
		qv = url.Values{}
	default:
		return TokenResponse{}, fmt.Errorf("bug: Token.AuthCode() received request with AppType == %v, which we do not recongnize", req.AppType)
	}

	qv.Set(grantType, grant.AuthCode)
	qv.Set("code", req.Code)
	if req.Verifier != "" {
		qv.Set("code_verifier", req.Verifier)
	}
	qv.Set("redirect_uri", req.AuthParams.Redirecturi)
	qv.Set(clientID, req.AuthParams.ClientID)
	qv.Set(clientInfo, clientInfoVal)
	addScopeQueryParam(qv, req.AuthParams)

	return c.doTokenResp(ctx, req.AuthParams, qv)
}

// FromRefreshToken uses a refresh token (for refreshing credentials) to get a new access token.
func (c Client) FromRefreshToken(ctx context.Context, appType AppType, authParams authority.AuthParams, cc *Credential, refreshToken string) (TokenResponse, error) {
	qv := url.Values{}
	if appType == ATConfidential {
		var err error
		qv, err = prepURLVals(ctx, cc, authParams)
		if err != nil {
			return TokenResponse{}, err
		}
	}
	qv.Set(grantType, grant.RefreshToken)
	qv.Set(clientID, authParams.ClientID)
	qv.Set(clientInfo, clientInfoVal)
	qv.Set("refresh_token", refreshToken)
	addScopeQueryParam(qv, authParams)

	return c.doTokenResp(ctx, authParams, qv)
}

// FromClientCredential gets an application token with the client's own credential:
// a secret, a certificate assertion or an assertion from the callback.
func (c Client) FromClientCredential(ctx context.Context, authParams authority.AuthParams, cc *Credential) (TokenResponse, error) {
	qv, err := prepURLVals(ctx, cc, authParams)
	if err != nil {
		return TokenResponse{}, err
	}
	qv.Set(grantType, grant.ClientCredential)
	qv.Set(clientID, authParams.ClientID)
	qv.Set("scope", strings.Join(authParams.Scopes, " "))

	token, err := c.doTokenResp(ctx, authParams, qv)
	if err != nil {
		return token, fmt.Errorf("FromClientCredential(): %w", err)
	}
	return token, nil
}

// FromOnBehalfOf exchanges the user assertion in authParams for a token for the
// downstream API, authenticating the middle tier with cc.
func (c Client) FromOnBehalfOf(ctx context.Context, authParams authority.AuthParams, cc *Credential) (TokenResponse, error) {
	if authParams.UserAssertion == "" {
		return TokenResponse{}, errors.New("on-behalf-of requires a user assertion")
	}
	qv, err := prepURLVals(ctx, cc, authParams)
	if err != nil {
		return TokenResponse{}, err
	}
	qv.Set(grantType, grant.JWT)
	qv.Set(clientID, authParams.ClientID)
	qv.Set(clientInfo, clientInfoVal)
	qv.Set("assertion", authParams.UserAssertion)
	qv.Set("requested_token_use", "on_behalf_of")
	addScopeQueryParam(qv, authParams)

	return c.doTokenResp(ctx, authParams, qv)
}

func (c Client) doTokenResp(ctx context.Context, authParams authority.AuthParams, qv url.Values) (TokenResponse, error) {
	if authParams.AuthnScheme != nil {
		for k, v := range authParams.AuthnScheme.TokenRequestParams() {
			qv.Set(k, v)
		}
	}
	claims, err := authParams.MergeCapabilitiesAndClaims()
	if err != nil {
		return TokenResponse{}, err
	}
	if claims != "" {
		qv.Set("claims", claims)
	}

	resp := TokenResponse{}
	if err := c.Comm.URLFormCall(ctx, authParams.Endpoints.TokenEndpoint, qv, &resp); err != nil {
		return TokenResponse{}, err
	}
	resp.ComputeScope(authParams)
	if err := resp.Validate(); err != nil {
		return TokenResponse{}, err
	}
	if authParams.AuthnScheme != nil {
		want := authParams.AuthnScheme.AccessTokenType()
		if resp.TokenType != "" && !strings.EqualFold(resp.TokenType, want) {
			return TokenResponse{}, fmt.Errorf("token endpoint returned a %q token, want %q", resp.TokenType, want)
		}
		if resp.TokenType == "" {
			resp.TokenType = want
		}
	}
	return resp, nil
}

// prepURLVals returns an url.Values that sets various key/values if we are doing secrets
// or JWT assertions.
func prepURLVals(ctx context.Context, cc *Credential, authParams authority.AuthParams) (url.Values, error) {
	if cc == nil {
		return nil, errors.New("confidential client request without a credential")
	}
	params := url.Values{}
	if cc.Secret != "" {
		params.Set("client_secret", cc.Secret)
		return params, nil
	}

	jwt, err := cc.JWT(ctx, authParams)
	if err != nil {
		return nil, err
	}
	params.Set("client_assertion", jwt)
	params.Set("client_assertion_type", grant.ClientAssertion)
	return params, nil
}

// openid required to get an id token
// offline_access required to get a refresh token
// profile required to get the client_info field back
var detectDefaultScopes = map[string]bool{
	"openid":         true,
	"offline_access": true,
	"profile":        true,
}

var defaultScopes = []string{"openid", "offline_access", "profile"}

// AppendDefaultScopes returns the requested scopes followed by the OIDC scopes
// every user flow asks for.
func AppendDefaultScopes(authParameters authority.AuthParams) []string {
	scopes := make([]string, 0, len(authParameters.Scopes)+len(defaultScopes))
	for _, scope := range authParameters.Scopes {
		s := strings.TrimSpace(scope)
		if s == "" {
			continue
		}
		if detectDefaultScopes[strings.ToLower(s)] {
			continue
		}
		scopes = append(scopes, s)
	}
	return append(scopes, defaultScopes...)
}

// IsDefaultScope reports whether scope is one of the reserved OIDC scopes.
func IsDefaultScope(scope string) bool {
	return detectDefaultScopes[strings.ToLower(scope)]
}

func addScopeQueryParam(queryParams url.Values, authParameters authority.AuthParams) {
	queryParams.Set("scope", strings.Join(AppendDefaultScopes(authParameters), " "))
}
