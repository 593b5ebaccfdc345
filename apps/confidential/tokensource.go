// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package confidential

import (
	"context"
	"errors"

	"golang.org/x/oauth2"

	msalErrors "github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/errors"
)

// tokenSource adapts AcquireTokenByCredential to oauth2.TokenSource.
type tokenSource struct {
	ctx     context.Context
	client  Client
	scopes  []string
	options []AcquireOption
	pop     bool
}

// TokenSource returns an oauth2.TokenSource whose tokens are the application's own, acquired
// with AcquireTokenByCredential. The client's cache does the reuse, so the source needn't be
// wrapped in oauth2.ReuseTokenSource. ctx is used for every token request.
//
// A source built with WithProofOfPossession binds every token to the same method and URI,
// and its tokens have the type "PoP".
func (cca Client) TokenSource(ctx context.Context, scopes []string, options ...AcquireOption) oauth2.TokenSource {
	o := applyOptions(options)
	return &tokenSource{
		ctx:     ctx,
		client:  cca,
		scopes:  append([]string(nil), scopes...),
		options: options,
		pop:     o.popMethod != "" || o.popURI != "",
	}
}

// Token implements oauth2.TokenSource.
func (ts *tokenSource) Token() (*oauth2.Token, error) {
	ar, err := ts.client.AcquireTokenByCredential(ts.ctx, ts.scopes, ts.options...)
	if err != nil {
		// the token is usable even though it couldn't be cached
		var cwe *msalErrors.CacheWriteError
		if !errors.As(err, &cwe) {
			return nil, err
		}
	}
	tok := &oauth2.Token{
		AccessToken: ar.AccessToken,
		TokenType:   "Bearer",
		Expiry:      ar.ExpiresOn,
	}
	if ts.pop {
		tok.TokenType = "PoP"
	}
	return tok, nil
}
