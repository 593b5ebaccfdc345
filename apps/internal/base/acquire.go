// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package base

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"

	msalErrors "github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/errors"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/base/internal/storage"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/logger"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/authority"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/shared"
)

// Kind is the shape of a token request.
type Kind int

const (
	KindUnknown Kind = iota
	// KindSilent is answered from the cache, refreshing or falling back to the
	// application's own grant when it can do so without the user.
	KindSilent
	KindAuthCode
	KindCredential
	KindOnBehalfOf
	KindInteractive
	// kindRefresh is only used internally, as the grant a silent request refreshes with.
	kindRefresh
)

func (k Kind) String() string {
	switch k {
	case KindSilent:
		return "silent"
	case KindAuthCode:
		return "authorization code"
	case KindCredential:
		return "client credential"
	case KindOnBehalfOf:
		return "on behalf of"
	case KindInteractive:
		return "interactive"
	case kindRefresh:
		return "refresh token"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Authenticator takes the user through an authorization request.
type Authenticator interface {
	// Authenticate sends the user to authorizationURL and returns the redirect
	// URI the identity provider sent the user back to, with its query.
	Authenticate(ctx context.Context, authorizationURL string) (string, error)
}

// Request is one token request. Which fields apply depends on Kind.
type Request struct {
	Kind   Kind
	Scopes []string
	// Account is the user a silent request is for. The zero Account means the
	// application itself.
	Account  shared.Account
	TenantID string
	Claims   string
	// UserAssertion is the token an on-behalf-of request exchanges. On a silent
	// request it selects tokens acquired on behalf of that assertion.
	UserAssertion string

	Code        string
	Verifier    string
	RedirectURI string

	Authenticator Authenticator
	LoginHint     string
	DomainHint    string
	Prompt        string

	// AuthnScheme binds the token to a key, nil means bearer.
	AuthnScheme authority.AuthenticationScheme
}

// deadRefreshTokenCodes are the OAuth error codes meaning the refresh token can't be used again.
var deadRefreshTokenCodes = map[string]bool{
	"invalid_grant":        true,
	"interaction_required": true,
	"login_required":       true,
	"consent_required":     true,
}

func deadRefreshToken(err error) bool {
	var pe *msalErrors.ProtocolError
	return errors.As(err, &pe) && deadRefreshTokenCodes[pe.Code]
}

// stateFn is one state of an acquisition. It returns the next state, or nil when the acquisition is over.
type stateFn func(ctx context.Context) (stateFn, error)

// acquisition carries one request through the states.
type acquisition struct {
	b      *Client
	req    Request
	params authority.AuthParams
	query  storage.Query

	cached storage.TokenResponse
	// cause is why no credential could be used silently.
	cause    error
	grant    Kind
	fellBack bool

	result   AuthResult
	writeErr error
}

// refreshOutcome is what a coalesced silent call hands every waiting caller.
type refreshOutcome struct {
	result   AuthResult
	writeErr error
}

// Acquire obtains a token for req:
//
//	start -> cacheLookup -> cacheHit -> complete
//	                     -> refreshNeeded -> tokenEndpointCall -> complete
//	                     -> noCredential -> tokenEndpointCall | InteractionRequiredError
//	start -> [authorize ->] tokenEndpointCall -> complete
//
// When the token was acquired but couldn't be cached or persisted, Acquire
// returns it together with an *errors.CacheWriteError.
func (b *Client) Acquire(ctx context.Context, req Request) (AuthResult, error) {
	a := &acquisition{b: b, req: req}
	var (
		state stateFn = a.start
		err   error
	)
	for state != nil && err == nil {
		state, err = state(ctx)
	}
	if err != nil {
		var cwe *msalErrors.CacheWriteError
		if errors.As(err, &cwe) {
			return a.result, err
		}
		return AuthResult{}, err
	}
	return a.result, nil
}

func (a *acquisition) enter(ctx context.Context, state string) {
	a.b.log.Log(ctx, logger.Debug, "token acquisition",
		logger.Field("state", state),
		logger.Field("request", a.req.Kind.String()),
		logger.Field("correlation_id", a.params.CorrelationID),
	)
}

func (a *acquisition) start(ctx context.Context) (stateFn, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	params, err := a.b.AuthParams.WithTenant(a.req.TenantID)
	if err != nil {
		return nil, err
	}
	params.CorrelationID = uuid.New().String()
	params.Scopes = a.req.Scopes
	params.Claims = a.req.Claims
	params.UserAssertion = a.req.UserAssertion
	params.HomeAccountID = a.req.Account.HomeAccountID
	params.Redirecturi = a.req.RedirectURI
	params.LoginHint = a.req.LoginHint
	params.DomainHint = a.req.DomainHint
	params.Prompt = a.req.Prompt
	if a.req.AuthnScheme != nil {
		params.AuthnScheme = a.req.AuthnScheme
	}
	a.params = params
	a.enter(ctx, "start")

	switch a.req.Kind {
	case KindSilent:
		a.params.AuthorizationType = authority.ATRefreshToken
		a.query = a.newQuery()
		return a.cacheLookup, nil
	case KindInteractive:
		a.params.AuthorizationType = authority.ATInteractive
		return a.authorize, nil
	case KindAuthCode:
		a.params.AuthorizationType = authority.ATAuthCode
	case KindCredential:
		a.params.AuthorizationType = authority.ATClientCredentials
	case KindOnBehalfOf:
		a.params.AuthorizationType = authority.ATOnBehalfOf
	}
	a.grant = a.req.Kind
	return a.tokenEndpointCall, nil
}

func (a *acquisition) validate() error {
	req := a.req
	if len(req.Scopes) == 0 {
		return errors.New("at least one scope is required")
	}
	confidential := a.b.appType == accesstokens.ATConfidential
	switch req.Kind {
	case KindSilent:
	case KindAuthCode:
		if req.Code == "" {
			return errors.New("authorization code is required")
		}
	case KindCredential:
		if !confidential {
			return errors.New("only confidential clients can acquire tokens with a client credential")
		}
	case KindOnBehalfOf:
		if !confidential {
			return errors.New("only confidential clients can acquire tokens on behalf of a user")
		}
		if req.UserAssertion == "" {
			return errors.New("user assertion is required")
		}
	case KindInteractive:
		if confidential {
			return errors.New("only public clients can authenticate interactively")
		}
		if req.Authenticator == nil {
			return errors.New("interactive authentication requires an Authenticator")
		}
		if req.RedirectURI == "" {
			return errors.New("interactive authentication requires a redirect URI")
		}
	default:
		return fmt.Errorf("unknown request kind %s", req.Kind)
	}
	return nil
}

func (a *acquisition) newQuery() storage.Query {
	info := a.params.AuthorityInfo
	realm := info.Tenant
	if info.AuthorityType == authority.MultiTenant {
		realm = a.req.Account.Realm
	}
	q := storage.Query{
		ClientID:          a.params.ClientID,
		HomeAccountID:     a.req.Account.HomeAccountID,
		UserAssertionHash: storage.UserAssertionHash(a.req.UserAssertion),
		Realm:             realm,
		Environment:       info.Host,
		Scopes:            a.params.Scopes,
	}
	if s := a.params.AuthnScheme; s != nil {
		q.TokenType = s.AccessTokenType()
		q.KeyID = s.KeyID()
	}
	return q
}

// partitionKey suggests how a persisted cache could be split for this request.
func (a *acquisition) partitionKey() string {
	if a.query.UserAssertionHash != "" {
		return a.query.UserAssertionHash
	}
	return a.query.HomeAccountID
}

func (a *acquisition) cacheLookup(ctx context.Context) (stateFn, error) {
	a.enter(ctx, "cacheLookup")
	if err := a.b.replace(ctx, a.partitionKey()); err != nil {
		return nil, err
	}
	tr, err := a.b.manager.Read(a.query)
	if err != nil {
		return nil, err
	}
	a.cached = tr

	switch {
	case tr.AccessToken.Secret != "" && a.params.Claims == "":
		return a.cacheHit, nil
	case tr.RefreshToken.Secret != "":
		return a.refreshNeeded, nil
	}
	a.cause = errors.New("no refresh token is cached")
	return a.noCredential, nil
}

func (a *acquisition) cacheHit(ctx context.Context) (stateFn, error) {
	a.enter(ctx, "cacheHit")
	result, err := AuthResultFromStorage(a.cached)
	if err != nil {
		return nil, err
	}
	result.Metadata.CorrelationID = a.params.CorrelationID
	a.result = result
	return a.complete, nil
}

func (a *acquisition) refreshNeeded(ctx context.Context) (stateFn, error) {
	a.enter(ctx, "refreshNeeded")
	a.grant = kindRefresh
	return a.tokenEndpointCall, nil
}

func (a *acquisition) noCredential(ctx context.Context) (stateFn, error) {
	a.enter(ctx, "noCredential")
	confidential := a.b.appType == accesstokens.ATConfidential
	if !a.fellBack && confidential {
		switch {
		case a.req.UserAssertion != "":
			a.grant = KindOnBehalfOf
			a.params.AuthorizationType = authority.ATOnBehalfOf
		case a.req.Account.HomeAccountID == "":
			a.grant = KindCredential
			a.params.AuthorizationType = authority.ATClientCredentials
		}
		if a.grant == KindOnBehalfOf || a.grant == KindCredential {
			a.fellBack = true
			return a.tokenEndpointCall, nil
		}
	}
	return nil, &msalErrors.InteractionRequiredError{Err: a.cause}
}

// authorize sends the user through the authorization endpoint and collects the code.
func (a *acquisition) authorize(ctx context.Context) (stateFn, error) {
	a.enter(ctx, "authorize")
	verifier, challenge, err := codeChallenge()
	if err != nil {
		return nil, err
	}
	state := uuid.New().String()
	authURL, err := a.b.AuthCodeURL(ctx, a.req.RedirectURI, a.req.Scopes, AuthCodeURLParams{
		TenantID:      a.req.TenantID,
		Claims:        a.req.Claims,
		State:         state,
		CodeChallenge: challenge,
		LoginHint:     a.req.LoginHint,
		DomainHint:    a.req.DomainHint,
		Prompt:        a.req.Prompt,
	})
	if err != nil {
		return nil, err
	}
	redirect, err := a.req.Authenticator.Authenticate(ctx, authURL)
	if err != nil {
		return nil, err
	}
	code, err := parseAuthorizationResponse(redirect, state)
	if err != nil {
		return nil, err
	}
	a.req.Code = code
	a.req.Verifier = verifier
	a.grant = KindAuthCode
	return a.tokenEndpointCall, nil
}

func (a *acquisition) tokenEndpointCall(ctx context.Context) (stateFn, error) {
	a.enter(ctx, "tokenEndpointCall")
	if a.req.Kind != KindSilent {
		out, err := a.call(ctx)
		if err != nil {
			return nil, err
		}
		a.result, a.writeErr = out.result, out.writeErr
		return a.complete, nil
	}

	// Concurrent silent requests for the same token share one call.
	out, joined, err := a.b.refreshes.Do(ctx, a.coalesceKey(), a.silentCall)
	if err != nil {
		if a.grant == kindRefresh && deadRefreshToken(err) {
			a.cause = err
			return a.noCredential, nil
		}
		return nil, err
	}
	if joined {
		a.b.log.Log(ctx, logger.Debug, "joined a token request in flight", logger.Field("correlation_id", a.params.CorrelationID))
	}
	a.result, a.writeErr = out.result, out.writeErr
	if a.result.Account.IsZero() {
		a.result.Account = a.cached.Account
	}
	return a.complete, nil
}

// coalesceKey identifies the token a silent request is for.
func (a *acquisition) coalesceKey() string {
	q := a.query
	scopes := make([]string, len(q.Scopes))
	for i, s := range q.Scopes {
		scopes[i] = strings.ToLower(s)
	}
	slices.Sort(scopes)
	return strings.Join([]string{
		q.ClientID,
		strings.ToLower(q.HomeAccountID),
		q.UserAssertionHash,
		strings.ToLower(q.Realm),
		strings.ToLower(q.Environment),
		strings.Join(scopes, scopeSeparator),
		strings.ToLower(q.TokenType),
		q.KeyID,
		a.params.Claims,
	}, "|")
}

// silentCall runs once per coalesced group. A caller that finished just before
// may already have cached the token, so the cache is consulted again first.
func (a *acquisition) silentCall(ctx context.Context) (refreshOutcome, error) {
	if err := a.b.replace(ctx, a.partitionKey()); err != nil {
		return refreshOutcome{}, err
	}
	tr, err := a.b.manager.Read(a.query)
	if err != nil {
		return refreshOutcome{}, err
	}
	if tr.AccessToken.Secret != "" && a.params.Claims == "" {
		result, err := AuthResultFromStorage(tr)
		return refreshOutcome{result: result}, err
	}
	if tr.RefreshToken.Secret != "" {
		a.cached.RefreshToken = tr.RefreshToken
	}
	return a.call(ctx)
}

// call makes the token request for a.grant and caches the response.
func (a *acquisition) call(ctx context.Context) (refreshOutcome, error) {
	var cred *accesstokens.Credential
	if a.b.appType == accesstokens.ATConfidential {
		cred = a.b.credential
	}

	var (
		token accesstokens.TokenResponse
		err   error
	)
	switch a.grant {
	case kindRefresh:
		rt := a.cached.RefreshToken
		token, err = a.b.Token.Refresh(ctx, a.b.appType, a.params, cred, rt)
		if err != nil && deadRefreshToken(err) {
			a.b.manager.RemoveRefreshToken(rt)
			if xerr := a.b.export(ctx, a.partitionKey()); xerr != nil {
				a.b.log.Log(ctx, logger.Warn, "couldn't persist the token cache", logger.Field("error", xerr.Error()))
			}
		}
	case KindAuthCode:
		var req accesstokens.AuthCodeRequest
		req, err = accesstokens.NewCodeChallengeRequest(a.params, a.b.appType, cred, a.req.Code, a.req.Verifier)
		if err == nil {
			token, err = a.b.Token.AuthCode(ctx, req)
		}
	case KindCredential:
		token, err = a.b.Token.Credential(ctx, a.params, cred)
	case KindOnBehalfOf:
		token, err = a.b.Token.OnBehalfOf(ctx, a.params, cred)
	default:
		err = fmt.Errorf("no token request for %s", a.grant)
	}
	if err != nil {
		return refreshOutcome{}, err
	}
	return a.persist(ctx, token)
}

// persist verifies token, writes it to the cache and exports the cache. A token
// that fails verification never reaches the cache. A token that was acquired but
// not cached is still returned, along with the reason.
func (a *acquisition) persist(ctx context.Context, token accesstokens.TokenResponse) (refreshOutcome, error) {
	if err := token.Validate(); err != nil {
		return refreshOutcome{}, fmt.Errorf("invalid token response: %w", err)
	}
	if len(token.DeclinedScopes) > 0 {
		a.b.log.Log(ctx, logger.Info, "authority granted fewer scopes than requested",
			logger.Field("correlation_id", a.params.CorrelationID),
			logger.Field("declined_scopes", strings.Join(token.DeclinedScopes, " ")),
		)
	}

	var writeErr error
	account, err := a.b.manager.Write(a.params, token)
	if err != nil {
		writeErr = err
	} else if err := a.b.export(ctx, a.partitionKey()); err != nil {
		writeErr = err
	}
	if writeErr != nil {
		a.b.log.Log(ctx, logger.Warn, "token acquired but not cached",
			logger.Field("correlation_id", a.params.CorrelationID),
			logger.Field("error", writeErr.Error()),
		)
	}

	result := NewAuthResult(token, account)
	result.Metadata.CorrelationID = a.params.CorrelationID
	return refreshOutcome{result: result, writeErr: writeErr}, nil
}

// complete presents the token in the request's scheme.
func (a *acquisition) complete(ctx context.Context) (stateFn, error) {
	a.enter(ctx, "complete")
	if s := a.params.AuthnScheme; s != nil {
		formatted, err := s.FormatAccessToken(a.result.AccessToken)
		if err != nil {
			a.result = AuthResult{}
			return nil, err
		}
		a.result.AccessToken = formatted
	}
	if a.writeErr != nil {
		return nil, &msalErrors.CacheWriteError{Err: a.writeErr}
	}
	return nil, nil
}

// codeChallenge returns a PKCE verifier and its S256 challenge.
func codeChallenge() (verifier, challenge string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	verifier = base64.RawURLEncoding.EncodeToString(b)
	sum := sha256.Sum256([]byte(verifier))
	return verifier, base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// parseAuthorizationResponse extracts the code from the redirect the identity provider sent the user to.
func parseAuthorizationResponse(redirect, state string) (string, error) {
	u, err := url.Parse(redirect)
	if err != nil {
		return "", fmt.Errorf("invalid authorization response: %w", err)
	}
	q := u.Query()
	if code := q.Get("error"); code != "" {
		return "", &msalErrors.ProtocolError{Code: code, Description: q.Get("error_description"), SubError: q.Get("suberror")}
	}
	if q.Get("state") != state {
		return "", errors.New("authorization response state doesn't match the request")
	}
	code := q.Get("code")
	if code == "" {
		return "", errors.New("authorization response has no code")
	}
	return code, nil
}
