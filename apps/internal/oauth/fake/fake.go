// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package fake provides fake implementations of interfaces used by oauth.Client.
package fake

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/authority"
)

// ResolveEndpoints implements oauth.ResolveEndpointer.
type ResolveEndpoints struct {
	// Err makes the call fail.
	Err       bool
	Endpoints authority.Endpoints
}

func (f ResolveEndpoints) ResolveEndpoints(ctx context.Context, authorityInfo authority.Info) (authority.Endpoints, error) {
	if f.Err {
		return authority.Endpoints{}, errors.New("error")
	}
	return f.Endpoints, nil
}

// AccessTokens implements oauth.AccessTokens.
type AccessTokens struct {
	// Err makes every call fail with a generic error.
	Err bool
	// Errs, when set, are returned in order, one per call. A nil entry means success.
	// Calls past the end of Errs succeed.
	Errs []error
	// AccessToken is returned on success.
	AccessToken accesstokens.TokenResponse

	calls atomic.Int32
}

// Calls is the number of token requests made.
func (f *AccessTokens) Calls() int {
	return int(f.calls.Load())
}

func (f *AccessTokens) result() (accesstokens.TokenResponse, error) {
	n := int(f.calls.Add(1)) - 1
	if f.Err {
		return accesstokens.TokenResponse{}, errors.New("error")
	}
	if n < len(f.Errs) && f.Errs[n] != nil {
		return accesstokens.TokenResponse{}, f.Errs[n]
	}
	return f.AccessToken, nil
}

func (f *AccessTokens) FromAuthCode(ctx context.Context, req accesstokens.AuthCodeRequest) (accesstokens.TokenResponse, error) {
	return f.result()
}

func (f *AccessTokens) FromRefreshToken(ctx context.Context, appType accesstokens.AppType, authParams authority.AuthParams, cc *accesstokens.Credential, refreshToken string) (accesstokens.TokenResponse, error) {
	return f.result()
}

func (f *AccessTokens) FromClientCredential(ctx context.Context, authParams authority.AuthParams, cc *accesstokens.Credential) (accesstokens.TokenResponse, error) {
	return f.result()
}

func (f *AccessTokens) FromOnBehalfOf(ctx context.Context, authParams authority.AuthParams, cc *accesstokens.Credential) (accesstokens.TokenResponse, error) {
	return f.result()
}
