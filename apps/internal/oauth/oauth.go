// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package oauth talks to the identity provider: it resolves an authority's
// endpoints and redeems grants for tokens, retrying transient failures once.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	msalErrors "github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/errors"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/logger"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/authority"
)

const (
	// DefaultMaxRetries is how many times a transient failure is retried.
	DefaultMaxRetries = 1
	// DefaultInitialBackoff is the wait before the first retry.
	DefaultInitialBackoff = 500 * time.Millisecond
	// DefaultRequestTimeout bounds each network attempt.
	DefaultRequestTimeout = 30 * time.Second
)

// ResolveEndpointer contains the methods for resolving authority endpoints.
type ResolveEndpointer interface {
	ResolveEndpoints(ctx context.Context, authorityInfo authority.Info) (authority.Endpoints, error)
}

// AccessTokens contains the methods for fetching tokens from different sources.
type AccessTokens interface {
	FromAuthCode(ctx context.Context, req accesstokens.AuthCodeRequest) (accesstokens.TokenResponse, error)
	FromRefreshToken(ctx context.Context, appType accesstokens.AppType, authParams authority.AuthParams, cc *accesstokens.Credential, refreshToken string) (accesstokens.TokenResponse, error)
	FromClientCredential(ctx context.Context, authParams authority.AuthParams, cc *accesstokens.Credential) (accesstokens.TokenResponse, error)
	FromOnBehalfOf(ctx context.Context, authParams authority.AuthParams, cc *accesstokens.Credential) (accesstokens.TokenResponse, error)
}

// RetryPolicy controls how network calls are bounded and retried. Only transient
// failures are retried; protocol errors and authority validation failures never are.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// InitialBackoff is the wait before the first retry. Later waits grow exponentially.
	InitialBackoff time.Duration
	// RequestTimeout bounds each attempt.
	RequestTimeout time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// Validate reports whether the policy holds usable values.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return fmt.Errorf("MaxRetries must not be negative, got %d", p.MaxRetries)
	case p.InitialBackoff < 0:
		return fmt.Errorf("InitialBackoff must not be negative, got %s", p.InitialBackoff)
	case p.RequestTimeout < 0:
		return fmt.Errorf("RequestTimeout must not be negative, got %s", p.RequestTimeout)
	}
	return nil
}

func (p RetryPolicy) requestTimeout() time.Duration {
	if p.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return p.RequestTimeout
}

// Client provides tokens for various types of token requests.
type Client struct {
	resolver     ResolveEndpointer
	accessTokens AccessTokens
	policy       RetryPolicy
	log          *logger.Logger
	// authority is set when resolver is the built-in resolver.
	authority *authorityEndpoint
}

// New is the constructor for Client. store holds the instance discovery results
// the client consults and fills.
func New(httpClient ops.HTTPClient, store *authority.MetadataStore, policy RetryPolicy, log *logger.Logger) *Client {
	r := ops.New(httpClient)
	ae := newAuthorityEndpoint(r.Authority(), store, policy.requestTimeout())
	return &Client{
		resolver:     ae,
		accessTokens: r.AccessTokens(),
		policy:       policy,
		log:          log,
		authority:    ae,
	}
}

// ResolveEndpoints gets the authorization and token endpoints and creates an AuthorityEndpoints instance.
func (t *Client) ResolveEndpoints(ctx context.Context, authorityInfo authority.Info) (authority.Endpoints, error) {
	return retry(ctx, t, "ResolveEndpoints", func(ctx context.Context) (authority.Endpoints, error) {
		return t.resolver.ResolveEndpoints(ctx, authorityInfo)
	})
}

// OpenIDConfigurationEndpoint returns the OpenID configuration URL of an authority,
// validating its host through instance discovery when needed.
func (t *Client) OpenIDConfigurationEndpoint(ctx context.Context, authorityInfo authority.Info) (string, error) {
	if t.authority == nil {
		return authorityInfo.OpenIDConfigurationEndpoint(), nil
	}
	return t.authority.OpenIDConfigurationEndpoint(ctx, authorityInfo)
}

// AuthCode returns a token based on an authorization code.
func (t *Client) AuthCode(ctx context.Context, req accesstokens.AuthCodeRequest) (accesstokens.TokenResponse, error) {
	if err := t.resolveEndpoint(ctx, &req.AuthParams); err != nil {
		return accesstokens.TokenResponse{}, err
	}
	return retry(ctx, t, "AuthCode", func(ctx context.Context) (accesstokens.TokenResponse, error) {
		return t.accessTokens.FromAuthCode(ctx, req)
	})
}

// Credential acquires a token from the authority using a client credentials grant.
func (t *Client) Credential(ctx context.Context, authParams authority.AuthParams, cred *accesstokens.Credential) (accesstokens.TokenResponse, error) {
	if err := t.resolveEndpoint(ctx, &authParams); err != nil {
		return accesstokens.TokenResponse{}, err
	}
	return retry(ctx, t, "Credential", func(ctx context.Context) (accesstokens.TokenResponse, error) {
		return t.accessTokens.FromClientCredential(ctx, authParams, cred)
	})
}

// OnBehalfOf acquires a token from the authority using an on-behalf-of flow.
func (t *Client) OnBehalfOf(ctx context.Context, authParams authority.AuthParams, cred *accesstokens.Credential) (accesstokens.TokenResponse, error) {
	if err := t.resolveEndpoint(ctx, &authParams); err != nil {
		return accesstokens.TokenResponse{}, err
	}
	return retry(ctx, t, "OnBehalfOf", func(ctx context.Context) (accesstokens.TokenResponse, error) {
		return t.accessTokens.FromOnBehalfOf(ctx, authParams, cred)
	})
}

// Refresh redeems a refresh token.
func (t *Client) Refresh(ctx context.Context, reqType accesstokens.AppType, authParams authority.AuthParams, cc *accesstokens.Credential, refreshToken accesstokens.RefreshToken) (accesstokens.TokenResponse, error) {
	if err := t.resolveEndpoint(ctx, &authParams); err != nil {
		return accesstokens.TokenResponse{}, err
	}
	return retry(ctx, t, "Refresh", func(ctx context.Context) (accesstokens.TokenResponse, error) {
		return t.accessTokens.FromRefreshToken(ctx, reqType, authParams, cc, refreshToken.Secret)
	})
}

func (t *Client) resolveEndpoint(ctx context.Context, authParams *authority.AuthParams) error {
	endpoints, err := t.ResolveEndpoints(ctx, authParams.AuthorityInfo)
	if err != nil {
		return fmt.Errorf("unable to resolve an endpoint: %w", err)
	}
	authParams.Endpoints = endpoints
	return nil
}

// retry runs call with a per-attempt timeout. Transient failures are retried
// with exponential backoff up to the policy's limit; anything else is returned
// immediately.
func retry[T any](ctx context.Context, t *Client, op string, call func(context.Context) (T, error)) (T, error) {
	timeout := t.policy.requestTimeout()

	b := backoff.NewExponentialBackOff()
	if t.policy.InitialBackoff > 0 {
		b.InitialInterval = t.policy.InitialBackoff
	}

	operation := func() (T, error) {
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		v, err := call(actx)
		if err == nil {
			return v, nil
		}
		var te *msalErrors.TimeoutError
		if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.As(err, &te) {
			err = &msalErrors.TimeoutError{After: timeout, Err: err}
		}
		if !msalErrors.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(t.policy.MaxRetries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			t.log.Log(ctx, logger.Info, "retrying after transient failure",
				logger.Field("operation", op),
				logger.Field("backoff", next),
				logger.Field("error", err.Error()),
			)
		}),
	)
	// The last attempt's error is returned as is, which may still be wrapped.
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return v, err
}
