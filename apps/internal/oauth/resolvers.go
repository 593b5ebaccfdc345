// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package oauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/errors"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/authority"
)

const (
	// endpointCacheSize bounds the number of authorities whose endpoints are remembered.
	endpointCacheSize = 256
	// endpointTTL is how long resolved endpoints are reused before the OpenID
	// configuration is fetched again.
	endpointTTL = 24 * time.Hour
)

// discoverer is implemented by authority.Client.
type discoverer interface {
	GetTenantDiscoveryResponse(ctx context.Context, openIDConfigurationEndpoint string) (authority.TenantDiscoveryResponse, error)
	AADInstanceDiscovery(ctx context.Context, authorityInfo authority.Info) (authority.InstanceDiscoveryResponse, error)
}

// authorityEndpoint retrieves endpoints from an authority for auth and token acquisition.
type authorityEndpoint struct {
	rest    discoverer
	store   *authority.MetadataStore
	timeout time.Duration

	// discovery collapses concurrent instance discovery per host and tenant
	// discovery per canonical authority.
	discovery singleflight.Group
	endpoints *otter.Cache[string, authority.Endpoints]
}

// newAuthorityEndpoint is the constructor for authorityEndpoint.
func newAuthorityEndpoint(rest discoverer, store *authority.MetadataStore, timeout time.Duration) *authorityEndpoint {
	if store == nil {
		store = authority.NewMetadataStore()
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &authorityEndpoint{
		rest:    rest,
		store:   store,
		timeout: timeout,
		endpoints: otter.Must(&otter.Options[string, authority.Endpoints]{
			MaximumSize:      endpointCacheSize,
			ExpiryCalculator: otter.ExpiryCreating[string, authority.Endpoints](endpointTTL),
		}),
	}
}

// ResolveEndpoints gets the authorization and token endpoints of an authority.
func (m *authorityEndpoint) ResolveEndpoints(ctx context.Context, authorityInfo authority.Info) (authority.Endpoints, error) {
	key := strings.ToLower(authorityInfo.CanonicalAuthorityURI)
	if entry, ok := m.endpoints.GetEntry(key); ok {
		return entry.Value, nil
	}

	endpoint, err := m.OpenIDConfigurationEndpoint(ctx, authorityInfo)
	if err != nil {
		return authority.Endpoints{}, err
	}

	v, err := m.collapse(ctx, "tenant:"+key, func(ctx context.Context) (any, error) {
		if entry, ok := m.endpoints.GetEntry(key); ok {
			return entry.Value, nil
		}
		resp, err := m.rest.GetTenantDiscoveryResponse(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		if err := resp.Validate(); err != nil {
			return nil, fmt.Errorf("ResolveEndpoints(): %w", err)
		}

		tenant := authorityInfo.Tenant
		endpoints := authority.NewEndpoints(
			strings.ReplaceAll(resp.AuthorizationEndpoint, "{tenant}", tenant),
			strings.ReplaceAll(resp.TokenEndpoint, "{tenant}", tenant),
			strings.ReplaceAll(resp.Issuer, "{tenant}", tenant),
			authorityInfo.Host,
		)
		m.endpoints.Set(key, endpoints)
		return endpoints, nil
	})
	if err != nil {
		return authority.Endpoints{}, err
	}
	return v.(authority.Endpoints), nil
}

// OpenIDConfigurationEndpoint returns the URL of the authority's OpenID configuration.
// Hosts that are neither trusted nor already known are validated with instance
// discovery first, and the tenant discovery endpoint it returns is used. A failed
// validation is an *errors.AuthorityValidationError.
func (m *authorityEndpoint) OpenIDConfigurationEndpoint(ctx context.Context, authorityInfo authority.Info) (string, error) {
	if !authorityInfo.UsesInstanceDiscovery() || m.known(authorityInfo.Host) {
		return authorityInfo.OpenIDConfigurationEndpoint(), nil
	}

	// the returned endpoint names a tenant, so calls collapse per authority rather than per host
	v, err := m.collapse(ctx, "instance:"+strings.ToLower(authorityInfo.CanonicalAuthorityURI), func(ctx context.Context) (any, error) {
		if m.known(authorityInfo.Host) {
			return "", nil
		}
		resp, err := m.rest.AADInstanceDiscovery(ctx, authorityInfo)
		if err != nil {
			return nil, &errors.AuthorityValidationError{Authority: authorityInfo.CanonicalAuthorityURI, Err: err}
		}
		if err := resp.Validate(); err != nil {
			return nil, &errors.AuthorityValidationError{Authority: authorityInfo.CanonicalAuthorityURI, Err: err}
		}
		m.store.Merge(authorityInfo.Host, resp)
		return resp.TenantDiscoveryEndpoint, nil
	})
	if err != nil {
		return "", err
	}
	if endpoint := v.(string); endpoint != "" {
		return endpoint, nil
	}
	return authorityInfo.OpenIDConfigurationEndpoint(), nil
}

func (m *authorityEndpoint) known(host string) bool {
	if m.store.Trusted(host) {
		return true
	}
	_, ok := m.store.Lookup(host)
	return ok
}

// collapse runs work once per key no matter how many callers ask concurrently.
// work is detached from the caller's cancellation so that a caller giving up does
// not fail the others; every caller still returns as soon as its own ctx is done.
func (m *authorityEndpoint) collapse(ctx context.Context, key string, work func(context.Context) (any, error)) (any, error) {
	ch := m.discovery.DoChan(key, func() (any, error) {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return work(wctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
