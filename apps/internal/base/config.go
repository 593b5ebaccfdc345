// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package base

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/cache"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/base/internal/storage"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/authority"
)

// Config is everything a Client is built from. The zero value of every field
// other than ClientID and AppType selects the default.
type Config struct {
	ClientID string
	// Authority defaults to AuthorityPublicCloud.
	Authority string
	// Generic marks Authority as a generic OIDC authority that isn't validated
	// and has no tenants.
	Generic bool
	// DisableInstanceDiscovery skips authority validation.
	DisableInstanceDiscovery bool
	// KnownAuthorityHosts are trusted without instance discovery.
	KnownAuthorityHosts []string
	AppType             accesstokens.AppType
	// Credential authenticates a confidential client.
	Credential   *accesstokens.Credential
	Capabilities []string

	// ExpirySkew is how long before expiry a cached access token is refreshed.
	// Nil means storage.DefaultSkew; zero serves tokens until they expire.
	ExpirySkew *time.Duration
	// Retry defaults to oauth.DefaultRetryPolicy.
	Retry *oauth.RetryPolicy

	HTTPClient ops.HTTPClient
	// Cache persists the token cache. Nil keeps it in memory only.
	Cache  cache.ExportReplace
	Logger *slog.Logger
}

// Validate checks the Config and fills in defaults.
func (c Config) Validate() (Config, error) {
	if c.ClientID == "" {
		return c, errors.New("client ID is required")
	}
	if c.AppType != accesstokens.ATPublic && c.AppType != accesstokens.ATConfidential {
		return c, fmt.Errorf("unknown application type %d", c.AppType)
	}
	if c.AppType == accesstokens.ATConfidential && c.Credential == nil {
		return c, errors.New("a confidential client requires a credential")
	}
	if c.Authority == "" {
		c.Authority = AuthorityPublicCloud
	}
	if c.ExpirySkew == nil {
		skew := storage.DefaultSkew
		c.ExpirySkew = &skew
	}
	if *c.ExpirySkew < 0 {
		return c, fmt.Errorf("expiry skew can't be negative, got %s", *c.ExpirySkew)
	}
	if c.Retry == nil {
		p := oauth.DefaultRetryPolicy()
		c.Retry = &p
	}
	if err := c.Retry.Validate(); err != nil {
		return c, err
	}
	if c.Capabilities != nil {
		if _, err := authority.NewClientCapabilities(c.Capabilities); err != nil {
			return c, err
		}
	}
	return c, nil
}

func (c Config) authorityInfo() (authority.Info, error) {
	if c.Generic {
		return authority.NewGenericInfo(c.Authority)
	}
	return authority.NewInfoFromAuthorityURI(c.Authority, !c.DisableInstanceDiscovery)
}
