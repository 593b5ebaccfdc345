// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package ops provides operations to various backend services using REST clients.

The REST type provides several clients that can be used to communicate to backends.
Usage is simple:

	rest := ops.New(httpClient)

	// Creates an authority client and calls the GetTenantDiscoveryResponse() method.
	resp, err := rest.Authority().GetTenantDiscoveryResponse(ctx, openIDConfigurationEndpoint)
*/
package ops

import (
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/authority"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/internal/comm"
)

// HTTPClient represents an HTTP client.
// It's usually an *http.Client from the standard library.
type HTTPClient = comm.HTTPClient

// REST provides REST clients for communicating with various backends used by this library.
type REST struct {
	client *comm.Client
}

// New is the constructor for REST.
func New(httpClient HTTPClient) *REST {
	return &REST{client: comm.New(httpClient)}
}

// Authority returns a client for querying information about various authorities.
func (r *REST) Authority() authority.Client {
	return authority.Client{Comm: r.client}
}

// AccessTokens returns a client that can be used to get various access tokens for
// authorization purposes.
func (r *REST) AccessTokens() accesstokens.Client {
	return accesstokens.Client{Comm: r.client}
}
