// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package base contains a "Base" client that is used by the external public.Client and confidential.Client.
// Base holds shared attributes that must be available to both clients and methods that act as
// shared calls. Every token acquisition runs through Client.Acquire.
package base

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/cache"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/base/internal/coalesce"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/base/internal/storage"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/logger"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/authority"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/shared"
)

const (
	// AuthorityPublicCloud is the default AAD authority host
	AuthorityPublicCloud = "https://login.microsoftonline.com/common"
	scopeSeparator       = " "
)

// manager provides an internal cache. It is defined to allow faking the cache in tests.
// In all production use it is a *storage.Manager.
type manager interface {
	cache.Serializer
	Read(q storage.Query) (storage.TokenResponse, error)
	Write(authParameters authority.AuthParams, tokenResponse accesstokens.TokenResponse) (shared.Account, error)
	AllAccounts() []shared.Account
	Account(homeAccountID string) shared.Account
	RemoveAccount(homeAccountID string, envAliases []string)
	RemoveRefreshToken(rt accesstokens.RefreshToken)
}

// tokenClient calls the identity provider. In all production use it is an *oauth.Client.
type tokenClient interface {
	ResolveEndpoints(ctx context.Context, authorityInfo authority.Info) (authority.Endpoints, error)
	AuthCode(ctx context.Context, req accesstokens.AuthCodeRequest) (accesstokens.TokenResponse, error)
	Credential(ctx context.Context, authParams authority.AuthParams, cred *accesstokens.Credential) (accesstokens.TokenResponse, error)
	OnBehalfOf(ctx context.Context, authParams authority.AuthParams, cred *accesstokens.Credential) (accesstokens.TokenResponse, error)
	Refresh(ctx context.Context, reqType accesstokens.AppType, authParams authority.AuthParams, cc *accesstokens.Credential, refreshToken accesstokens.RefreshToken) (accesstokens.TokenResponse, error)
}

// TokenSource is where the access token of an AuthResult came from.
type TokenSource int

const (
	TokenSourceIdentityProvider TokenSource = iota
	TokenSourceCache
)

// AuthResultMetadata describes how an AuthResult was obtained.
type AuthResultMetadata struct {
	TokenSource   TokenSource
	CorrelationID string
}

// AuthResult contains the results of one token acquisition operation in PublicClientApplication
// or ConfidentialClientApplication. For details see https://aka.ms/msal-net-authenticationresult
type AuthResult struct {
	Account        shared.Account
	IDToken        accesstokens.IDToken
	AccessToken    string
	ExpiresOn      time.Time
	GrantedScopes  []string
	DeclinedScopes []string
	Metadata       AuthResultMetadata
}

// AuthResultFromStorage creates an AuthResult from a storage token response (which is generated from the cache).
func AuthResultFromStorage(storageTokenResponse storage.TokenResponse) (AuthResult, error) {
	at := storageTokenResponse.AccessToken
	if at.Secret == "" {
		return AuthResult{}, errors.New("no access token in the cache response")
	}

	// Checking if there was an ID token in the cache; confidential clients acquiring
	// tokens for themselves don't have one.
	var idToken accesstokens.IDToken
	if !storageTokenResponse.IDToken.IsZero() {
		var err error
		idToken, err = accesstokens.NewIDToken(storageTokenResponse.IDToken.Secret)
		if err != nil {
			return AuthResult{}, fmt.Errorf("problem decoding JWT token: %w", err)
		}
	}
	return AuthResult{
		Account:       storageTokenResponse.Account,
		IDToken:       idToken,
		AccessToken:   at.Secret,
		ExpiresOn:     at.ExpiresOn.T,
		GrantedScopes: strings.Split(at.Scopes, scopeSeparator),
		Metadata:      AuthResultMetadata{TokenSource: TokenSourceCache},
	}, nil
}

// NewAuthResult creates an AuthResult. The authority may grant fewer scopes than were
// requested; the rest are reported in DeclinedScopes.
func NewAuthResult(tokenResponse accesstokens.TokenResponse, account shared.Account) AuthResult {
	return AuthResult{
		Account:        account,
		IDToken:        tokenResponse.IDToken,
		AccessToken:    tokenResponse.AccessToken,
		ExpiresOn:      tokenResponse.ExpiresOn.T,
		GrantedScopes:  tokenResponse.GrantedScopes.Slice,
		DeclinedScopes: tokenResponse.DeclinedScopes,
		Metadata:       AuthResultMetadata{TokenSource: TokenSourceIdentityProvider},
	}
}

// Client is a base client that provides access to common methods and primatives that
// can be used by multiple clients. It is safe for concurrent use.
type Client struct {
	Token   tokenClient
	manager manager // *storage.Manager or fakeManager in tests

	AuthParams authority.AuthParams
	appType    accesstokens.AppType
	credential *accesstokens.Credential
	store      *authority.MetadataStore
	refreshes  *coalesce.Group[refreshOutcome]
	log        *logger.Logger

	cacheAccessor cache.ExportReplace
	// cacheAccessorMu serializes calls to cacheAccessor.
	cacheAccessorMu sync.Mutex
}

// New is the constructor for Base.
func New(config Config) (*Client, error) {
	config, err := config.Validate()
	if err != nil {
		return nil, err
	}
	authInfo, err := config.authorityInfo()
	if err != nil {
		return nil, err
	}
	authParams := authority.NewAuthParams(config.ClientID, authInfo)
	if config.Capabilities != nil {
		// already validated
		authParams.Capabilities, _ = authority.NewClientCapabilities(config.Capabilities)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = shared.DefaultClient
	}
	log := logger.New(config.Logger)
	store := authority.NewMetadataStore(config.KnownAuthorityHosts...)

	return &Client{
		Token:         oauth.New(httpClient, store, *config.Retry, log),
		manager:       storage.New(store, *config.ExpirySkew),
		AuthParams:    authParams,
		appType:       config.AppType,
		credential:    config.Credential,
		store:         store,
		refreshes:     coalesce.New[refreshOutcome](coalesceTimeout(*config.Retry)),
		log:           log,
		cacheAccessor: config.Cache,
	}, nil
}

// coalesceTimeout bounds a coalesced refresh: every attempt the retry policy allows, plus backoff.
func coalesceTimeout(p oauth.RetryPolicy) time.Duration {
	perAttempt := p.RequestTimeout
	if perAttempt <= 0 {
		perAttempt = oauth.DefaultRequestTimeout
	}
	// endpoint resolution and the token request each get their attempts
	return 2*time.Duration(p.MaxRetries+1)*perAttempt + time.Duration(p.MaxRetries+1)*p.InitialBackoff
}

// AuthCodeURLParams are the optional parts of an authorization request.
type AuthCodeURLParams struct {
	TenantID      string
	Claims        string
	State         string
	CodeChallenge string
	LoginHint     string
	DomainHint    string
	Prompt        string
}

// AuthCodeURL creates a URL used to acquire an authorization code.
func (b *Client) AuthCodeURL(ctx context.Context, redirectURI string, scopes []string, p AuthCodeURLParams) (string, error) {
	authParams, err := b.AuthParams.WithTenant(p.TenantID)
	if err != nil {
		return "", err
	}
	authParams.Claims = p.Claims
	endpoints, err := b.Token.ResolveEndpoints(ctx, authParams.AuthorityInfo)
	if err != nil {
		return "", err
	}

	baseURL, err := url.Parse(endpoints.AuthorizationEndpoint)
	if err != nil {
		return "", err
	}
	authParams.Scopes = scopes

	v := url.Values{}
	v.Add("client_id", authParams.ClientID)
	v.Add("response_type", "code")
	v.Add("redirect_uri", redirectURI)
	v.Add("scope", strings.Join(accesstokens.AppendDefaultScopes(authParams), scopeSeparator))
	if p.State != "" {
		v.Add("state", p.State)
	}
	if p.CodeChallenge != "" {
		v.Add("code_challenge", p.CodeChallenge)
		v.Add("code_challenge_method", "S256")
	}
	if p.Prompt != "" {
		v.Add("prompt", p.Prompt)
	}
	if p.LoginHint != "" {
		v.Add("login_hint", p.LoginHint)
	}
	if p.DomainHint != "" {
		v.Add("domain_hint", p.DomainHint)
	}
	claims, err := authParams.MergeCapabilitiesAndClaims()
	if err != nil {
		return "", err
	}
	if claims != "" {
		v.Add("claims", claims)
	}
	baseURL.RawQuery = v.Encode()
	return baseURL.String(), nil
}

// Accounts returns the accounts in the cache.
func (b *Client) Accounts(ctx context.Context) ([]shared.Account, error) {
	if err := b.replace(ctx, ""); err != nil {
		return nil, err
	}
	return b.manager.AllAccounts(), nil
}

// Account returns the cached account with the given home account ID, or the zero Account.
func (b *Client) Account(ctx context.Context, homeAccountID string) (shared.Account, error) {
	if err := b.replace(ctx, homeAccountID); err != nil {
		return shared.Account{}, err
	}
	return b.manager.Account(homeAccountID), nil
}

// RemoveAccount removes every cached credential of account. Removing an account
// that isn't cached does nothing.
func (b *Client) RemoveAccount(ctx context.Context, account shared.Account) error {
	if err := b.replace(ctx, account.HomeAccountID); err != nil {
		return err
	}
	b.manager.RemoveAccount(account.HomeAccountID, b.store.Aliases(account.Environment))
	return b.export(ctx, account.HomeAccountID)
}

// replace loads the persisted cache, when there is one.
func (b *Client) replace(ctx context.Context, partitionKey string) error {
	if b.cacheAccessor == nil {
		return nil
	}
	b.cacheAccessorMu.Lock()
	defer b.cacheAccessorMu.Unlock()
	if err := b.cacheAccessor.Replace(ctx, b.manager, cache.ReplaceHints{PartitionKey: partitionKey}); err != nil {
		return fmt.Errorf("couldn't load the token cache: %w", err)
	}
	return nil
}

// export persists the cache, when there is somewhere to persist it.
func (b *Client) export(ctx context.Context, partitionKey string) error {
	if b.cacheAccessor == nil {
		return nil
	}
	b.cacheAccessorMu.Lock()
	defer b.cacheAccessorMu.Unlock()
	return b.cacheAccessor.Export(ctx, b.manager, cache.ExportHints{PartitionKey: partitionKey})
}
