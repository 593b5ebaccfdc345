// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package public provides a client for authentication of "public" applications. A "public"
application is defined as an app that runs on client devices (android, ios, windows, linux, ...).
These devices are "untrusted" and access resources via web APIs that must authenticate.
*/
package public

/*
Design note:

public.Client holds a *base.Client, which does all the work. Every AcquireToken* method builds a
base.Request and hands it to base.Client.Acquire. Options are copied into the request, so a
Client is free to be copied and used from any number of goroutines.
*/

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/browser"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/cache"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/base"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/local"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/authority"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/shared"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/pop"
)

// AuthResult contains the results of one token acquisition operation.
// For details see https://aka.ms/msal-net-authenticationresult
type AuthResult = base.AuthResult

type Account = shared.Account

// Authenticator takes the user through an authorization request. See WithAuthenticator.
type Authenticator = base.Authenticator

// RetryPolicy bounds and retries network calls. See WithRetryPolicy.
type RetryPolicy = oauth.RetryPolicy

// browserOpenURL is assigned to a variable so tests can replace it.
var browserOpenURL = browser.OpenURL

// clientOptions configures the Client's behavior.
type clientOptions struct {
	// accessor controls cache persistence. By default there is no cache persistence.
	// This can be set with the WithCache() option.
	accessor cache.ExportReplace

	// The host of the Azure Active Directory authority. The default is https://login.microsoftonline.com/common.
	// This can be changed with the WithAuthority() option.
	authority string

	capabilities             []string
	disableInstanceDiscovery bool
	generic                  bool
	httpClient               ops.HTTPClient
	knownAuthorityHosts      []string
	logger                   *slog.Logger
	expirySkew               *time.Duration
	retry                    *RetryPolicy
	requestTimeout           time.Duration
}

func (p *clientOptions) validate() error {
	u, err := url.Parse(p.authority)
	if err != nil {
		return fmt.Errorf("Authority options cannot be URL parsed: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("Authority(%s) did not start with https://", u.String())
	}
	if p.requestTimeout < 0 {
		return fmt.Errorf("request timeout can't be negative, got %s", p.requestTimeout)
	}
	return nil
}

// Option is an optional argument to the New constructor.
type Option func(o *clientOptions)

// WithAuthority allows for a custom authority to be set. This must be a valid https url.
func WithAuthority(authority string) Option {
	return func(o *clientOptions) {
		o.authority = authority
	}
}

// WithGenericAuthority sets an OpenID Connect authority that isn't Microsoft Entra ID. Its
// configuration is read from authority + "/.well-known/openid-configuration" and it isn't validated.
func WithGenericAuthority(authority string) Option {
	return func(o *clientOptions) {
		o.authority = authority
		o.generic = true
	}
}

// WithCache allows you to set some type of cache for storing authentication tokens.
func WithCache(accessor cache.ExportReplace) Option {
	return func(o *clientOptions) {
		o.accessor = accessor
	}
}

// WithClientCapabilities allows configuring one or more client capabilities such as "CP1"
func WithClientCapabilities(capabilities []string) Option {
	return func(o *clientOptions) {
		// there's no danger of sharing the slice's underlying memory with the application because
		// this slice is simply passed to base.Config, which copies it into a string
		o.capabilities = capabilities
	}
}

// WithHTTPClient allows for a custom HTTP client to be set.
func WithHTTPClient(httpClient ops.HTTPClient) Option {
	return func(o *clientOptions) {
		o.httpClient = httpClient
	}
}

// WithInstanceDiscovery set to false to disable authority validation (to support private cloud scenarios)
func WithInstanceDiscovery(enabled bool) Option {
	return func(o *clientOptions) {
		o.disableInstanceDiscovery = !enabled
	}
}

// WithKnownAuthorityHosts trusts hosts without validating them through instance discovery.
func WithKnownAuthorityHosts(hosts []string) Option {
	return func(o *clientOptions) {
		o.knownAuthorityHosts = append([]string(nil), hosts...)
	}
}

// WithLogger sets where the client logs. By default it doesn't.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = l
	}
}

// WithExpirySkew sets how long before expiry a cached access token is treated as
// expired. The default is five minutes. Zero serves cached tokens until they expire.
func WithExpirySkew(d time.Duration) Option {
	return func(o *clientOptions) {
		o.expirySkew = &d
	}
}

// WithRetryPolicy sets how network calls are retried.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *clientOptions) {
		o.retry = &p
	}
}

// WithRequestTimeout bounds each network request. The default is 30 seconds.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.requestTimeout = d
	}
}

// Client is a representation of authentication client for public applications as defined in the
// package doc. For more information, visit https://docs.microsoft.com/azure/active-directory/develop/msal-client-applications.
type Client struct {
	base *base.Client
	// popBinder is the key PoP tokens are bound to unless a call brings its own.
	popBinder func() (*pop.Binder, error)
}

// New is the constructor for Client.
func New(clientID string, options ...Option) (Client, error) {
	opts := clientOptions{authority: base.AuthorityPublicCloud}

	for _, o := range options {
		o(&opts)
	}
	if err := opts.validate(); err != nil {
		return Client{}, err
	}

	var retry *RetryPolicy
	if opts.retry != nil || opts.requestTimeout != 0 {
		p := oauth.DefaultRetryPolicy()
		if opts.retry != nil {
			p = *opts.retry
		}
		if opts.requestTimeout != 0 {
			p.RequestTimeout = opts.requestTimeout
		}
		retry = &p
	}

	b, err := base.New(base.Config{
		ClientID:                 clientID,
		Authority:                opts.authority,
		Generic:                  opts.generic,
		DisableInstanceDiscovery: opts.disableInstanceDiscovery,
		KnownAuthorityHosts:      opts.knownAuthorityHosts,
		AppType:                  accesstokens.ATPublic,
		Capabilities:             opts.capabilities,
		ExpirySkew:               opts.expirySkew,
		Retry:                    retry,
		HTTPClient:               opts.httpClient,
		Cache:                    opts.accessor,
		Logger:                   opts.logger,
	})
	if err != nil {
		return Client{}, err
	}
	return Client{base: b, popBinder: sync.OnceValues(pop.NewBinder)}, nil
}

// acquireOptions are the optional settings of the AcquireToken* and AuthCodeURL calls.
// Each call documents which of them it honors.
type acquireOptions struct {
	account       Account
	authenticator Authenticator
	challenge     string
	claims        string
	codeChallenge string
	domainHint    string
	loginHint     string
	popMethod     string
	popURI        string
	popSigner     crypto.Signer
	prompt        string
	redirectURI   string
	state         string
	tenantID      string
}

// AcquireOption is an optional argument to the AcquireToken* and AuthCodeURL calls.
type AcquireOption func(o *acquireOptions)

func applyOptions(options []AcquireOption) acquireOptions {
	o := acquireOptions{}
	for _, opt := range options {
		opt(&o)
	}
	return o
}

// WithSilentAccount uses the passed account during an AcquireTokenSilent() call.
func WithSilentAccount(account Account) AcquireOption {
	return func(o *acquireOptions) {
		o.account = account
	}
}

// WithTenantID specifies a tenant for a single request. This option is valid only for AAD
// authorities and must name a specific tenant rather than "common" or "organizations".
func WithTenantID(tenantID string) AcquireOption {
	return func(o *acquireOptions) {
		o.tenantID = tenantID
	}
}

// WithClaims sets additional claims to request for the token, such as those required by
// conditional access policies. A silent request with claims always goes to the authority.
func WithClaims(claims string) AcquireOption {
	return func(o *acquireOptions) {
		o.claims = claims
	}
}

// WithChallenge is the PKCE code verifier matching the code challenge sent in the authorization
// request. Used by AcquireTokenByAuthCode.
func WithChallenge(challenge string) AcquireOption {
	return func(o *acquireOptions) {
		o.challenge = challenge
	}
}

// WithCodeChallenge adds an S256 PKCE code challenge to the URL AuthCodeURL creates.
func WithCodeChallenge(codeChallenge string) AcquireOption {
	return func(o *acquireOptions) {
		o.codeChallenge = codeChallenge
	}
}

// WithState sets the state parameter of the URL AuthCodeURL creates.
func WithState(state string) AcquireOption {
	return func(o *acquireOptions) {
		o.state = state
	}
}

// WithProofOfPossession binds the token to a key and to the HTTP request it will be sent with.
// AuthResult.AccessToken is then a signed PoP token for method and uri rather than the access token.
func WithProofOfPossession(method, uri string) AcquireOption {
	return func(o *acquireOptions) {
		o.popMethod = method
		o.popURI = uri
	}
}

// WithPoPKey sets the RSA key WithProofOfPossession binds tokens to. By default the client
// generates one, which lives as long as the Client.
func WithPoPKey(signer crypto.Signer) AcquireOption {
	return func(o *acquireOptions) {
		o.popSigner = signer
	}
}

// WithRedirectURI sets the redirect URI of an interactive authentication. Without an
// Authenticator it must be a loopback URI such as "http://localhost:8400".
func WithRedirectURI(redirectURI string) AcquireOption {
	return func(o *acquireOptions) {
		o.redirectURI = redirectURI
	}
}

// WithLoginHint pre-populates the login prompt with a username.
func WithLoginHint(username string) AcquireOption {
	return func(o *acquireOptions) {
		o.loginHint = username
	}
}

// WithDomainHint adds the IdP domain as domain_hint query parameter in the auth url.
func WithDomainHint(domain string) AcquireOption {
	return func(o *acquireOptions) {
		o.domainHint = domain
	}
}

// WithPrompt sets the prompt parameter of the authorization request, for example "select_account".
func WithPrompt(prompt string) AcquireOption {
	return func(o *acquireOptions) {
		o.prompt = prompt
	}
}

// WithAuthenticator replaces the system browser and local redirect server of AcquireTokenInteractive.
func WithAuthenticator(a Authenticator) AcquireOption {
	return func(o *acquireOptions) {
		o.authenticator = a
	}
}

// authnScheme is the PoP scheme the options ask for, or nil for bearer tokens.
func (pca Client) authnScheme(o acquireOptions) (authority.AuthenticationScheme, error) {
	if o.popMethod == "" && o.popURI == "" {
		if o.popSigner != nil {
			return nil, errors.New("WithPoPKey requires WithProofOfPossession")
		}
		return nil, nil
	}
	var (
		binder *pop.Binder
		err    error
	)
	if o.popSigner != nil {
		binder, err = pop.NewBinderFromSigner(o.popSigner)
	} else {
		binder, err = pca.popBinder()
	}
	if err != nil {
		return nil, err
	}
	return pop.NewScheme(binder, o.popMethod, o.popURI)
}

// AuthCodeURL creates a URL used to acquire an authorization code. Options: WithTenantID,
// WithClaims, WithCodeChallenge, WithState, WithLoginHint, WithDomainHint, WithPrompt.
func (pca Client) AuthCodeURL(ctx context.Context, redirectURI string, scopes []string, options ...AcquireOption) (string, error) {
	o := applyOptions(options)
	return pca.base.AuthCodeURL(ctx, redirectURI, scopes, base.AuthCodeURLParams{
		TenantID:      o.tenantID,
		Claims:        o.claims,
		State:         o.state,
		CodeChallenge: o.codeChallenge,
		LoginHint:     o.loginHint,
		DomainHint:    o.domainHint,
		Prompt:        o.prompt,
	})
}

// AcquireTokenSilent acquires a token from either the cache or using a refresh token.
// Options: WithSilentAccount, WithTenantID, WithClaims, WithProofOfPossession, WithPoPKey.
func (pca Client) AcquireTokenSilent(ctx context.Context, scopes []string, options ...AcquireOption) (AuthResult, error) {
	o := applyOptions(options)
	if o.account.IsZero() {
		return AuthResult{}, errors.New("AcquireTokenSilent requires an account, see WithSilentAccount")
	}
	scheme, err := pca.authnScheme(o)
	if err != nil {
		return AuthResult{}, err
	}
	return pca.base.Acquire(ctx, base.Request{
		Kind:        base.KindSilent,
		Scopes:      scopes,
		Account:     o.account,
		TenantID:    o.tenantID,
		Claims:      o.claims,
		AuthnScheme: scheme,
	})
}

// AcquireTokenByAuthCode is a request to acquire a security token from the authority, using an authorization code.
// The redirectURI must be the one the code was sent to.
// Options: WithChallenge, WithTenantID, WithClaims, WithProofOfPossession, WithPoPKey.
func (pca Client) AcquireTokenByAuthCode(ctx context.Context, code string, redirectURI string, scopes []string, options ...AcquireOption) (AuthResult, error) {
	o := applyOptions(options)
	scheme, err := pca.authnScheme(o)
	if err != nil {
		return AuthResult{}, err
	}
	return pca.base.Acquire(ctx, base.Request{
		Kind:        base.KindAuthCode,
		Scopes:      scopes,
		Code:        code,
		Verifier:    o.challenge,
		RedirectURI: redirectURI,
		TenantID:    o.tenantID,
		Claims:      o.claims,
		AuthnScheme: scheme,
	})
}

// AcquireTokenInteractive acquires a security token from the authority using the default web browser to select the account.
// The authorization request uses PKCE and a state parameter, and the response is received on a
// local redirect server unless WithAuthenticator replaces both. Options: WithRedirectURI,
// WithAuthenticator, WithLoginHint, WithDomainHint, WithPrompt, WithTenantID, WithClaims,
// WithProofOfPossession, WithPoPKey.
// https://docs.microsoft.com/en-us/azure/active-directory/develop/msal-authentication-flows#interactive-and-non-interactive-authentication
func (pca Client) AcquireTokenInteractive(ctx context.Context, scopes []string, options ...AcquireOption) (AuthResult, error) {
	o := applyOptions(options)
	scheme, err := pca.authnScheme(o)
	if err != nil {
		return AuthResult{}, err
	}

	authenticator := o.authenticator
	redirectURI := o.redirectURI
	if authenticator == nil {
		port, err := loopbackPort(redirectURI)
		if err != nil {
			return AuthResult{}, err
		}
		srv, err := local.New(port, nil, nil)
		if err != nil {
			return AuthResult{}, err
		}
		defer srv.Shutdown()
		srv.Open = browserOpenURL
		if redirectURI == "" {
			redirectURI = srv.Addr
		}
		authenticator = srv
	}

	return pca.base.Acquire(ctx, base.Request{
		Kind:          base.KindInteractive,
		Scopes:        scopes,
		TenantID:      o.tenantID,
		Claims:        o.claims,
		RedirectURI:   redirectURI,
		Authenticator: authenticator,
		LoginHint:     o.loginHint,
		DomainHint:    o.domainHint,
		Prompt:        o.prompt,
		AuthnScheme:   scheme,
	})
}

// loopbackPort is the port of a loopback redirect URI, 0 when the URI is empty or has no port.
func loopbackPort(redirectURI string) (int, error) {
	if redirectURI == "" {
		return 0, nil
	}
	u, err := url.Parse(redirectURI)
	if err != nil {
		return 0, fmt.Errorf("invalid redirect URI %q: %w", redirectURI, err)
	}
	if u.Scheme != "http" || !strings.EqualFold(u.Hostname(), "localhost") {
		return 0, fmt.Errorf("redirect URI %q isn't http://localhost, use WithAuthenticator to receive it", redirectURI)
	}
	if u.Port() == "" {
		return 0, nil
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0, fmt.Errorf("invalid port in redirect URI %q", redirectURI)
	}
	return port, nil
}

// Accounts gets all the accounts in the token cache.
// If there are no accounts in the cache the returned slice is empty.
func (pca Client) Accounts(ctx context.Context) ([]Account, error) {
	return pca.base.Accounts(ctx)
}

// RemoveAccount signs the account out and forgets account from token cache.
func (pca Client) RemoveAccount(ctx context.Context, account Account) error {
	return pca.base.RemoveAccount(ctx, account)
}
