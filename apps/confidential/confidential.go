// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package confidential provides a client for authentication of "confidential" applications.
A "confidential" application is defined as an app that run on servers. They are considered
difficult to access and for that reason capable of keeping an application secret.
Confidential clients can hold configuration-time secrets.
*/
package confidential

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/crypto/pkcs12"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/cache"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/base"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/authority"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/shared"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/pop"
)

/*
Design note:

confidential.Client holds a *base.Client, which does all the work. Every AcquireToken* method
builds a base.Request and hands it to base.Client.Acquire.

Duplicate Calls shared between public.Client and this package:
There is some duplicate call options provided here that are the same as in public.Client . This
is a design choices. Go proverb(https://www.youtube.com/watch?v=PAAkCSZUG1c&t=9m28s):
"a little copying is better than a little dependency". Yes, we could have another package with
shared options (fail).  That divides like 2 options from all others which makes the user look
through more docs.  We can have all clients in one package, but I think separate packages
here makes for better naming (public.Client vs client.PublicClient).  So I chose a little
duplication.

.Net People, Take note on X509:
This uses x509.Certificates and private keys. x509 does not store private keys. .Net
has some x509.Certificate2 thing that has private keys, but that is just some bullcrap that .Net
added, it doesn't exist in real life.  As such I've put PEM and PKCS#12 decoders into here.
*/

// AuthResult contains the results of one token acquisition operation.
// For details see https://aka.ms/msal-net-authenticationresult
type AuthResult = base.AuthResult

type Account = shared.Account

// AssertionRequestOptions has required information for client assertion claims
type AssertionRequestOptions = accesstokens.AssertionRequestOptions

// RetryPolicy bounds and retries network calls. See WithRetryPolicy.
type RetryPolicy = oauth.RetryPolicy

// CertFromPEM converts a PEM file (.pem or .key) for use with NewCredFromCert(). The file
// must have the public certificate and the private key encoded. The private key must be encoded
// in PKCS8 (not PKCS1). This is usally denoted by the section "PRIVATE KEY" (instead of PKCS1's
// "RSA PRIVATE KEY"). If a PEM block is encoded and password is not an empty string, it attempts
// to decrypt the PEM blocks using the password. This will return multiple x509 certificates,
// though this use case should have a single cert. Multiple certs are due to certificate
// chaining for use cases like TLS that sign from root to leaf.
func CertFromPEM(pemData []byte, password string) ([]*x509.Certificate, crypto.PrivateKey, error) {
	var certs []*x509.Certificate
	var priv crypto.PrivateKey
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}

		//nolint:staticcheck // legacy encrypted PEM is still what some certificate tooling produces
		if x509.IsEncryptedPEMBlock(block) {
			//nolint:staticcheck
			b, err := x509.DecryptPEMBlock(block, []byte(password))
			if err != nil {
				return nil, nil, fmt.Errorf("could not decrypt encrypted PEM block: %w", err)
			}
			block = &pem.Block{Type: block.Type, Bytes: b}
		}

		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("block labelled 'CERTIFICATE' could not be parsed by x509: %w", err)
			}
			certs = append(certs, cert)
		case "PRIVATE KEY":
			if priv != nil {
				return nil, nil, errors.New("found multiple blocks labelled 'PRIVATE KEY'")
			}

			var err error
			priv, err = x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("could not decode private key: %w", err)
			}
		case "RSA PRIVATE KEY":
			if priv != nil {
				return nil, nil, errors.New("found multiple private key blocks")
			}
			var err error
			priv, err = x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("could not decode PKCS1 private key: %w", err)
			}
		}
		pemData = rest
	}

	if len(certs) == 0 {
		return nil, nil, errors.New("no certificates found")
	}

	if priv == nil {
		return nil, nil, errors.New("no private key found")
	}

	return certs, priv, nil
}

// CertFromPKCS12 converts a PKCS#12 file (.pfx or .p12) holding one certificate and its private
// key for use with NewCredFromCert().
func CertFromPKCS12(pfxData []byte, password string) (*x509.Certificate, crypto.PrivateKey, error) {
	key, cert, err := pkcs12.Decode(pfxData, password)
	if err != nil {
		return nil, nil, fmt.Errorf("could not decode PKCS#12 data: %w", err)
	}
	return cert, key, nil
}

// Credential represents the credential used in confidential client flows.
type Credential struct {
	secret string

	cert *x509.Certificate
	key  crypto.PrivateKey
	x5c  []string

	assertionCallback func(context.Context, AssertionRequestOptions) (string, error)
}

// toInternal returns the accesstokens.Credential that is used internally. The current structure of the
// code requires that client.go, requests.go and confidential.go share a credential type without
// having import recursion. That requires the type used between is in a shared package. Therefore
// we have this.
func (c Credential) toInternal() *accesstokens.Credential {
	return &accesstokens.Credential{
		Secret:            c.secret,
		Cert:              c.cert,
		Key:               c.key,
		X5c:               c.x5c,
		AssertionCallback: c.assertionCallback,
	}
}

// NewCredFromSecret creates a Credential from a secret.
func NewCredFromSecret(secret string) (Credential, error) {
	if secret == "" {
		return Credential{}, errors.New("secret can't be empty string")
	}
	return Credential{secret: secret}, nil
}

// NewCredFromAssertionCallback creates a Credential that invokes a callback to get assertions
// authenticating the application. The callback must be thread safe.
func NewCredFromAssertionCallback(callback func(context.Context, AssertionRequestOptions) (string, error)) (Credential, error) {
	if callback == nil {
		return Credential{}, errors.New("assertion callback can't be nil")
	}
	return Credential{assertionCallback: callback}, nil
}

// NewCredFromCert creates a Credential from an x509.Certificate and its RSA or ECDSA private key.
// CertFromPEM() and CertFromPKCS12() can be used to get these values from a file.
func NewCredFromCert(cert *x509.Certificate, key crypto.PrivateKey) (Credential, error) {
	if cert == nil {
		return Credential{}, errors.New("certificate can't be nil")
	}
	if err := matchKey(cert, key); err != nil {
		return Credential{}, err
	}
	return Credential{cert: cert, key: key}, nil
}

// NewCredFromCertChain creates a Credential like NewCredFromCert and sends the chain in the
// assertion's x5c header, which subject name/issuer authentication requires. certs[0] must be
// the certificate of key.
func NewCredFromCertChain(certs []*x509.Certificate, key crypto.PrivateKey) (Credential, error) {
	if len(certs) == 0 {
		return Credential{}, errors.New("at least one certificate is required")
	}
	cred, err := NewCredFromCert(certs[0], key)
	if err != nil {
		return Credential{}, err
	}
	for _, c := range certs {
		cred.x5c = append(cred.x5c, base64.StdEncoding.EncodeToString(c.Raw))
	}
	return cred, nil
}

type publicKeyEqualer interface {
	Equal(crypto.PublicKey) bool
}

// matchKey checks that key is a supported signing key belonging to cert.
func matchKey(cert *x509.Certificate, key crypto.PrivateKey) error {
	var pub crypto.PublicKey
	switch k := key.(type) {
	case *rsa.PrivateKey:
		pub = k.Public()
	case *ecdsa.PrivateKey:
		pub = k.Public()
	case nil:
		return errors.New("private key can't be nil")
	default:
		return fmt.Errorf("unsupported private key type %T, want RSA or ECDSA", key)
	}
	if eq, ok := pub.(publicKeyEqualer); !ok || !eq.Equal(cert.PublicKey) {
		return errors.New("private key doesn't belong to the certificate")
	}
	return nil
}

// clientOptions are optional settings for New(). These options are set using various functions
// returning Option calls.
type clientOptions struct {
	// accessor controls cache persistence.
	// By default there is no cache persistence. This can be set using the WithCache() option.
	accessor cache.ExportReplace

	// The host of the Azure Active Directory authority.
	// The default is https://login.microsoftonline.com/common. This can be changed using the
	// WithAuthority() option.
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

func (o clientOptions) validate() error {
	u, err := url.Parse(o.authority)
	if err != nil {
		return fmt.Errorf("the Authority(%s) does not parse as a valid URL", o.authority)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("the Authority(%s) does not appear to use https", o.authority)
	}
	if o.requestTimeout < 0 {
		return fmt.Errorf("request timeout can't be negative, got %s", o.requestTimeout)
	}
	return nil
}

// Option is an optional argument to New().
type Option func(o *clientOptions)

// WithAuthority allows you to provide a custom authority for use in the client.
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

// WithCache provides an accessor that will read and write authentication data to an externally managed cache.
func WithCache(accessor cache.ExportReplace) Option {
	return func(o *clientOptions) {
		o.accessor = accessor
	}
}

// WithClientCapabilities allows configuring one or more client capabilities such as "CP1"
func WithClientCapabilities(capabilities []string) Option {
	return func(o *clientOptions) {
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

// WithLogger enables logging within the SDK. By default the client doesn't log.
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

// Client is a representation of authentication client for confidential applications as defined in the
// package doc. A new Client should be created PER SERVICE USER.
// For more information, visit https://docs.microsoft.com/azure/active-directory/develop/msal-client-applications
type Client struct {
	base *base.Client
	// popBinder is the key PoP tokens are bound to unless a call brings its own.
	popBinder func() (*pop.Binder, error)
}

// New is the constructor for Client. clientID is the Azure clientID and cred is
// the type of credential to use.
func New(clientID string, cred Credential, options ...Option) (Client, error) {
	opts := clientOptions{
		authority: base.AuthorityPublicCloud,
	}

	for _, o := range options {
		o(&opts)
	}
	if err := opts.validate(); err != nil {
		return Client{}, err
	}
	internal := cred.toInternal()
	if internal.Secret == "" && internal.Cert == nil && internal.AssertionCallback == nil {
		return Client{}, errors.New("credential is empty, create one with a NewCredFrom* function")
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
		AppType:                  accesstokens.ATConfidential,
		Credential:               internal,
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
type acquireOptions struct {
	account       Account
	challenge     string
	claims        string
	codeChallenge string
	domainHint    string
	loginHint     string
	popMethod     string
	popURI        string
	popSigner     crypto.Signer
	prompt        string
	state         string
	tenantID      string
}

// AcquireOption is an optional argument to the AcquireToken* and AuthCodeURL calls.
// Each call documents which options it honors.
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
// conditional access policies. A request with claims always goes to the authority.
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

// WithLoginHint pre-populates the login prompt of the URL AuthCodeURL creates with a username.
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

// WithPrompt sets the prompt parameter of the URL AuthCodeURL creates.
func WithPrompt(prompt string) AcquireOption {
	return func(o *acquireOptions) {
		o.prompt = prompt
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

// authnScheme is the PoP scheme the options ask for, or nil for bearer tokens.
func (cca Client) authnScheme(o acquireOptions) (authority.AuthenticationScheme, error) {
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
		binder, err = cca.popBinder()
	}
	if err != nil {
		return nil, err
	}
	return pop.NewScheme(binder, o.popMethod, o.popURI)
}

// AuthCodeURL creates a URL used to acquire an authorization code. Options: WithTenantID,
// WithClaims, WithCodeChallenge, WithState, WithLoginHint, WithDomainHint, WithPrompt.
func (cca Client) AuthCodeURL(ctx context.Context, redirectURI string, scopes []string, options ...AcquireOption) (string, error) {
	o := applyOptions(options)
	return cca.base.AuthCodeURL(ctx, redirectURI, scopes, base.AuthCodeURLParams{
		TenantID:      o.tenantID,
		Claims:        o.claims,
		State:         o.state,
		CodeChallenge: o.codeChallenge,
		LoginHint:     o.loginHint,
		DomainHint:    o.domainHint,
		Prompt:        o.prompt,
	})
}

// AcquireTokenSilent acquires a token from either the cache or using a refresh token. Without
// WithSilentAccount the token is the application's own, acquired with the client credential
// when the cache has none. Options: WithSilentAccount, WithTenantID, WithClaims,
// WithProofOfPossession, WithPoPKey.
func (cca Client) AcquireTokenSilent(ctx context.Context, scopes []string, options ...AcquireOption) (AuthResult, error) {
	o := applyOptions(options)
	scheme, err := cca.authnScheme(o)
	if err != nil {
		return AuthResult{}, err
	}
	return cca.base.Acquire(ctx, base.Request{
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
func (cca Client) AcquireTokenByAuthCode(ctx context.Context, code string, redirectURI string, scopes []string, options ...AcquireOption) (AuthResult, error) {
	o := applyOptions(options)
	scheme, err := cca.authnScheme(o)
	if err != nil {
		return AuthResult{}, err
	}
	return cca.base.Acquire(ctx, base.Request{
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

// AcquireTokenByCredential acquires a security token from the authority, using the client credentials grant.
// A cached token is returned when there is one. Options: WithTenantID, WithClaims,
// WithProofOfPossession, WithPoPKey.
func (cca Client) AcquireTokenByCredential(ctx context.Context, scopes []string, options ...AcquireOption) (AuthResult, error) {
	o := applyOptions(options)
	scheme, err := cca.authnScheme(o)
	if err != nil {
		return AuthResult{}, err
	}
	return cca.base.Acquire(ctx, base.Request{
		Kind:        base.KindSilent,
		Scopes:      scopes,
		TenantID:    o.tenantID,
		Claims:      o.claims,
		AuthnScheme: scheme,
	})
}

// AcquireTokenOnBehalfOf acquires a security token for an app using middle tier apps access token.
// Refer https://docs.microsoft.com/en-us/azure/active-directory/develop/v2-oauth2-on-behalf-of-flow.
// Tokens are cached per userAssertion. Options: WithTenantID, WithClaims, WithProofOfPossession, WithPoPKey.
func (cca Client) AcquireTokenOnBehalfOf(ctx context.Context, userAssertion string, scopes []string, options ...AcquireOption) (AuthResult, error) {
	if userAssertion == "" {
		return AuthResult{}, errors.New("user assertion is required")
	}
	o := applyOptions(options)
	scheme, err := cca.authnScheme(o)
	if err != nil {
		return AuthResult{}, err
	}
	return cca.base.Acquire(ctx, base.Request{
		Kind:          base.KindSilent,
		Scopes:        scopes,
		UserAssertion: userAssertion,
		TenantID:      o.tenantID,
		Claims:        o.claims,
		AuthnScheme:   scheme,
	})
}

// Account gets the account in the token cache with the specified homeAccountID.
func (cca Client) Account(ctx context.Context, homeAccountID string) (Account, error) {
	return cca.base.Account(ctx, homeAccountID)
}

// Accounts gets all the accounts in the token cache.
func (cca Client) Accounts(ctx context.Context) ([]Account, error) {
	return cca.base.Accounts(ctx)
}

// RemoveAccount signs the account out and forgets account from token cache.
func (cca Client) RemoveAccount(ctx context.Context, account Account) error {
	return cca.base.RemoveAccount(ctx, account)
}
