// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/shared"
)

const (
	authorizationEndpoint     = "https://%v/%v/oauth2/v2.0/authorize"
	instanceDiscoveryEndpoint = "https://%v/common/discovery/instance"
	defaultHost               = "login.microsoftonline.com"
	b2cHostSuffix             = ".b2clogin.com"
	wellKnownAAD              = "v2.0/.well-known/openid-configuration"
	wellKnownOIDC             = ".well-known/openid-configuration"
)

type jsonCaller interface {
	JSONCall(ctx context.Context, endpoint string, headers http.Header, qv url.Values, body, resp any) error
}

var aadTrustedHostList = map[string]bool{
	"login.windows.net":                true, // Microsoft Azure Worldwide - Used in validation scenarios where host is not this list
	"login.partner.microsoftonline.cn": true, // Microsoft Azure China
	"login.chinacloudapi.cn":           true, // Microsoft Azure China
	"login.microsoftonline.de":         true, // Microsoft Azure Blackforest
	"login-us.microsoftonline.com":     true, // Microsoft Azure US Government - Legacy
	"login.microsoftonline.us":         true, // Microsoft Azure US Government
	"login.microsoftonline.com":        true, // Microsoft Azure Worldwide
	"login.microsoft.com":              true,
	"sts.windows.net":                  true,
}

// TrustedHost checks if an AAD host is trusted/valid.
func TrustedHost(host string) bool {
	return aadTrustedHostList[strings.ToLower(host)]
}

// Type is the kind of authority a client talks to.
type Type string

const (
	// AAD is a tenant-scoped Microsoft Entra authority.
	AAD Type = "MSSTS"
	// MultiTenant is an AAD authority addressed by common, organizations or consumers.
	MultiTenant Type = "MultiTenant"
	B2C         Type = "B2C"
	ADFS        Type = "ADFS"
	// Generic is any OpenID Connect provider. It never uses instance discovery.
	Generic Type = "Generic"
)

// multiTenantSegments are the tenant placeholders AAD resolves at sign in.
var multiTenantSegments = map[string]bool{
	"common":        true,
	"organizations": true,
	"consumers":     true,
}

type OAuthResponseBase struct {
	Error            string `json:"error"`
	SubError         string `json:"suberror"`
	ErrorDescription string `json:"error_description"`
	ErrorCodes       []int  `json:"error_codes"`
	CorrelationID    string `json:"correlation_id"`
	Claims           string `json:"claims"`
}

// TenantDiscoveryResponse is the tenant endpoints from the OpenID configuration endpoint.
type TenantDiscoveryResponse struct {
	OAuthResponseBase

	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	Issuer                string `json:"issuer"`
}

// Validate validates that the response had the correct values required.
func (r *TenantDiscoveryResponse) Validate() error {
	switch "" {
	case r.AuthorizationEndpoint:
		return errors.New("TenantDiscoveryResponse: authorize endpoint was not found in the openid configuration")
	case r.TokenEndpoint:
		return errors.New("TenantDiscoveryResponse: token endpoint was not found in the openid configuration")
	case r.Issuer:
		return errors.New("TenantDiscoveryResponse: issuer was not found in the openid configuration")
	}
	return nil
}

// InstanceDiscoveryMetadata describes a set of hosts that are the same authority.
type InstanceDiscoveryMetadata struct {
	PreferredNetwork string   `json:"preferred_network"`
	PreferredCache   string   `json:"preferred_cache"`
	Aliases          []string `json:"aliases"`
	// TenantDiscoveryEndpoint is copied from the enclosing response when the
	// metadata is stored.
	TenantDiscoveryEndpoint string `json:"-"`
}

type InstanceDiscoveryResponse struct {
	OAuthResponseBase

	TenantDiscoveryEndpoint string                      `json:"tenant_discovery_endpoint"`
	Metadata                []InstanceDiscoveryMetadata `json:"metadata"`
}

// Validate checks the members instance discovery must return.
func (r *InstanceDiscoveryResponse) Validate() error {
	if r.TenantDiscoveryEndpoint == "" {
		return errors.New("InstanceDiscoveryResponse: tenant_discovery_endpoint was not found")
	}
	for _, m := range r.Metadata {
		if len(m.Aliases) == 0 {
			return errors.New("InstanceDiscoveryResponse: metadata entry without aliases")
		}
	}
	return nil
}

// AuthorizeType represents the type of token flow.
type AuthorizeType int

// These are all the types of token flows.
const (
	ATUnknown AuthorizeType = iota
	ATAuthCode
	ATInteractive
	ATClientCredentials
	ATOnBehalfOf
	ATRefreshToken
)

// AuthenticationScheme decides what kind of access token is requested and how a
// token is presented to a resource. Bearer is the default; proof of possession
// binds the token to a key and to the request it is used on.
type AuthenticationScheme interface {
	// TokenRequestParams are added to every token endpoint request.
	TokenRequestParams() map[string]string
	// KeyID identifies the key tokens are bound to. Empty for bearer tokens.
	KeyID() string
	// FormatAccessToken produces what goes into the Authorization header.
	FormatAccessToken(accessToken string) (string, error)
	// AccessTokenType is the token_type the token endpoint must return. Cached
	// tokens of another type aren't returned for the scheme.
	AccessTokenType() string
}

// BearerAuthenticationScheme is the default scheme. It changes nothing.
type BearerAuthenticationScheme struct{}

var bearerAuthnScheme BearerAuthenticationScheme

func (ba *BearerAuthenticationScheme) TokenRequestParams() map[string]string {
	return nil
}
func (ba *BearerAuthenticationScheme) KeyID() string {
	return ""
}
func (ba *BearerAuthenticationScheme) FormatAccessToken(accessToken string) (string, error) {
	return accessToken, nil
}
func (ba *BearerAuthenticationScheme) AccessTokenType() string {
	return "Bearer"
}

// AuthParams represents the parameters used for authorization for token acquisition.
type AuthParams struct {
	AuthorityInfo Info
	CorrelationID string
	Endpoints     Endpoints
	ClientID      string
	// Redirecturi is used for auth flows that specify a redirect URI (e.g. local server for interactive auth flow).
	Redirecturi   string
	HomeAccountID string
	// Scopes is the set of scopes the application requests.
	Scopes []string
	// AuthorizationType specifies the auth flow being used.
	AuthorizationType AuthorizeType
	// State is a random value used to prevent cross-site request forgery attacks.
	State string
	// CodeChallenge is derived from a code verifier and is sent in the auth request.
	CodeChallenge string
	// CodeChallengeMethod describes the method used to create the CodeChallenge.
	CodeChallengeMethod string
	// Prompt specifies the user prompt type during interactive auth.
	Prompt string
	// LoginHint is a username with which to pre-populate account selection during interactive auth.
	LoginHint string
	// DomainHint is a directive that can be used to accelerate the user to their federated IdP sign-in page.
	DomainHint string
	// Capabilities the client will include with each token request, for example "CP1".
	// Call [NewClientCapabilities] to construct a value for this field.
	Capabilities ClientCapabilities
	// Claims required for an access token to satisfy a conditional access policy
	Claims string
	// UserAssertion is the incoming token of an on-behalf-of request.
	UserAssertion string
	// AuthnScheme is an optional scheme for formatting access tokens
	AuthnScheme AuthenticationScheme
}

// NewAuthParams creates an authorization parameters object.
func NewAuthParams(clientID string, authorityInfo Info) AuthParams {
	return AuthParams{
		ClientID:      clientID,
		AuthorityInfo: authorityInfo,
		CorrelationID: uuid.New().String(),
		AuthnScheme:   &bearerAuthnScheme,
	}
}

// WithTenant returns a copy of the AuthParams having the specified tenant ID. If the given
// ID is empty, the copy is identical to the original. This function returns an error in
// several cases:
//   - ID isn't specific (for example, it's "common")
//   - ID is non-empty and the authority doesn't support tenants (for example, it's an ADFS authority)
//   - the client is configured to authenticate only Microsoft accounts via the "consumers" endpoint
//   - the resulting authority URL is invalid
func (p AuthParams) WithTenant(ID string) (AuthParams, error) {
	if ID == "" || ID == p.AuthorityInfo.Tenant {
		return p, nil
	}

	var authority string
	switch p.AuthorityInfo.AuthorityType {
	case ADFS:
		return p, errors.New("ADFS authority doesn't support tenants")
	case B2C:
		return p, errors.New("B2C authority doesn't support tenant override")
	case Generic:
		return p, errors.New("generic authority doesn't support tenants")
	case AAD, MultiTenant:
		if p.AuthorityInfo.Tenant == "consumers" {
			return p, errors.New(`client is configured to authenticate only personal Microsoft accounts, via the "consumers" endpoint`)
		}
		if multiTenantSegments[strings.ToLower(ID)] {
			return p, fmt.Errorf("invalid tenant ID %q: a specific tenant is required", ID)
		}
		authority = "https://" + p.AuthorityInfo.Host + "/" + ID
	default:
		return p, fmt.Errorf("unsupported authority type %q", p.AuthorityInfo.AuthorityType)
	}

	info, err := NewInfoFromAuthorityURI(authority, p.AuthorityInfo.ValidateAuthority)
	if err == nil {
		p.AuthorityInfo = info
	}
	return p, err
}

// MergeCapabilitiesAndClaims combines client capabilities and challenge claims into a value suitable for an authentication request's "claims" parameter.
func (p AuthParams) MergeCapabilitiesAndClaims() (string, error) {
	claims := p.Claims
	if len(p.Capabilities.asMap) > 0 {
		if claims == "" {
			// without claims the result is simply the capabilities
			return p.Capabilities.asJSON, nil
		}
		// Otherwise, merge claims and capabilties into a single JSON object.
		// We handle the claims challenge as a map because we don't know its structure.
		var challenge map[string]any
		if err := json.Unmarshal([]byte(claims), &challenge); err != nil {
			return "", fmt.Errorf(`claims must be JSON. Are they base64 encoded? json.Unmarshal returned "%v"`, err)
		}
		if err := merge(p.Capabilities.asMap, challenge); err != nil {
			return "", err
		}
		b, err := json.Marshal(challenge)
		if err != nil {
			return "", err
		}
		claims = string(b)
	}
	return claims, nil
}

// merges a into b without overwriting b's values. Returns an error when a and b share a key for which either has a non-object value.
func merge(a, b map[string]any) error {
	for k, av := range a {
		if bv, ok := b[k]; !ok {
			// b doesn't contain this key => simply set it to a's value
			b[k] = av
		} else {
			// b does contain this key => recursively merge a[k] into b[k], provided both are maps. If a[k] or b[k] isn't
			// a map, return an error because merging would overwrite some value in b. Errors shouldn't occur in practice
			// because the challenge will be from AAD, which knows the capabilities format.
			if A, ok := av.(map[string]any); ok {
				if B, ok := bv.(map[string]any); ok {
					return merge(A, B)
				} else {
					// b[k] isn't a map
					return errors.New("challenge claims conflict with client capabilities")
				}
			} else {
				// a[k] isn't a map
				return errors.New("challenge claims conflict with client capabilities")
			}
		}
	}
	return nil
}

// ClientCapabilities stores capabilities in the formats used by AuthParams.MergeCapabilitiesAndClaims.
// [NewClientCapabilities] precomputes these representations because capabilities are static for the
// lifetime of a client and are included with every authentication request i.e., these computations
// always have the same result and would otherwise have to be repeated for every request.
type ClientCapabilities struct {
	// asJSON is for the common case: adding the capabilities to an auth request with no challenge claims
	asJSON string
	// asMap is for merging the capabilities with challenge claims
	asMap map[string]any
}

func NewClientCapabilities(capabilities []string) (ClientCapabilities, error) {
	c := ClientCapabilities{}
	var err error
	if len(capabilities) > 0 {
		cpbs := make([]string, len(capabilities))
		for i := 0; i < len(cpbs); i++ {
			cpbs[i] = fmt.Sprintf(`"%s"`, capabilities[i])
		}
		c.asJSON = fmt.Sprintf(`{"access_token":{"xms_cc":{"values":[%s]}}}`, strings.Join(cpbs, ","))
		// note our JSON is valid but we can't stop users breaking it with garbage like "}"
		err = json.Unmarshal([]byte(c.asJSON), &c.asMap)
	}
	return c, err
}

// Info consists of information about the authority.
type Info struct {
	Host                  string
	CanonicalAuthorityURI string
	AuthorityType         Type
	ValidateAuthority     bool
	Tenant                string
}

// NewInfoFromAuthorityURI creates an AuthorityInfo instance from the authority URL provided.
// The authority type is inferred from the URL: an "adfs" first segment is ADFS, a "tfp"
// first segment or a b2clogin.com host is B2C, common/organizations/consumers are
// multi-tenant AAD and anything else is a tenant-scoped AAD authority.
func NewInfoFromAuthorityURI(authority string, validateAuthority bool) (Info, error) {
	u, err := url.Parse(strings.ToLower(authority))
	if err != nil || u.Host == "" {
		return Info{}, fmt.Errorf("%q isn't a valid authority URL", authority)
	}
	if u.Scheme != "https" {
		return Info{}, fmt.Errorf("%q isn't a valid authority URL: scheme must be https", authority)
	}
	segments := pathSegments(u)
	if len(segments) == 0 {
		return Info{}, fmt.Errorf(`%q isn't a valid authority URL: it must have a tenant segment, for example "https://login.microsoftonline.com/common"`, authority)
	}

	var (
		authorityType = AAD
		tenant        = segments[0]
		canonical     []string
	)
	switch {
	case segments[0] == "adfs":
		authorityType = ADFS
		canonical = segments[:1]
	case segments[0] == "tfp":
		if len(segments) < 3 {
			return Info{}, fmt.Errorf("B2C authority %q must be in the form https://<host>/tfp/<tenant>/<policy>", authority)
		}
		authorityType = B2C
		tenant = segments[1]
		canonical = segments[:3]
	case strings.HasSuffix(u.Hostname(), b2cHostSuffix):
		if len(segments) < 2 {
			return Info{}, fmt.Errorf("B2C authority %q must be in the form https://<host>/<tenant>/<policy>", authority)
		}
		authorityType = B2C
		canonical = segments[:2]
	default:
		if multiTenantSegments[tenant] {
			authorityType = MultiTenant
		}
		canonical = segments[:1]
	}

	return Info{
		Host:                  u.Hostname(),
		CanonicalAuthorityURI: fmt.Sprintf("https://%s/%s/", u.Hostname(), strings.Join(canonical, "/")),
		AuthorityType:         authorityType,
		ValidateAuthority:     validateAuthority,
		Tenant:                tenant,
	}, nil
}

// NewGenericInfo creates an Info for an arbitrary OpenID Connect provider, whose
// metadata is found at <authority>/.well-known/openid-configuration.
func NewGenericInfo(authority string) (Info, error) {
	u, err := url.Parse(authority)
	if err != nil || u.Host == "" {
		return Info{}, fmt.Errorf("%q isn't a valid authority URL", authority)
	}
	if u.Scheme != "https" {
		return Info{}, fmt.Errorf("%q isn't a valid authority URL: scheme must be https", authority)
	}
	segments := pathSegments(u)
	canonical := fmt.Sprintf("https://%s/", u.Host)
	if len(segments) > 0 {
		canonical += strings.Join(segments, "/") + "/"
	}
	return Info{
		Host:                  strings.ToLower(u.Hostname()),
		CanonicalAuthorityURI: canonical,
		AuthorityType:         Generic,
	}, nil
}

func pathSegments(u *url.URL) []string {
	var segments []string
	for _, s := range strings.Split(u.EscapedPath(), "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// UsesInstanceDiscovery reports whether the authority's host is validated through
// AAD instance discovery.
func (i Info) UsesInstanceDiscovery() bool {
	return i.ValidateAuthority && (i.AuthorityType == AAD || i.AuthorityType == MultiTenant)
}

// OpenIDConfigurationEndpoint is the well-known metadata URL of the authority.
func (i Info) OpenIDConfigurationEndpoint() string {
	switch i.AuthorityType {
	case ADFS, Generic:
		return i.CanonicalAuthorityURI + wellKnownOIDC
	}
	return i.CanonicalAuthorityURI + wellKnownAAD
}

// AccountType is the authority type recorded on cached accounts.
func (i Info) AccountType() string {
	switch i.AuthorityType {
	case ADFS:
		return shared.AccountTypeADFS
	case Generic:
		return shared.AccountTypeGeneric
	}
	return shared.AccountTypeMSSTS
}

// Endpoints consists of the endpoints from the tenant discovery response.
type Endpoints struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	selfSignedJwtAudience string
	authorityHost         string
}

// NewEndpoints creates an Endpoints object.
func NewEndpoints(authorizationEndpoint string, tokenEndpoint string, selfSignedJwtAudience string, authorityHost string) Endpoints {
	return Endpoints{authorizationEndpoint, tokenEndpoint, selfSignedJwtAudience, authorityHost}
}

// SelfSignedJWTAudience is the audience of client assertions sent to this authority.
func (e Endpoints) SelfSignedJWTAudience() string {
	return e.selfSignedJwtAudience
}

// Host is the host tokens from this authority are cached under.
func (e Endpoints) Host() string {
	return e.authorityHost
}

// Client represents the REST calls to authority backends.
type Client struct {
	// Comm provides the HTTP transport client.
	Comm jsonCaller // *comm.Client
}

func (c Client) GetTenantDiscoveryResponse(ctx context.Context, openIDConfigurationEndpoint string) (TenantDiscoveryResponse, error) {
	resp := TenantDiscoveryResponse{}
	err := c.Comm.JSONCall(
		ctx,
		openIDConfigurationEndpoint,
		http.Header{},
		nil,
		nil,
		&resp,
	)

	return resp, err
}

// AADInstanceDiscovery asks the discovery host which hosts are aliases of the
// authority's host. Hosts not on the trusted list are asked about at the default host.
func (c Client) AADInstanceDiscovery(ctx context.Context, authorityInfo Info) (InstanceDiscoveryResponse, error) {
	qv := url.Values{}
	qv.Set("api-version", "1.1")
	qv.Set("authorization_endpoint", fmt.Sprintf(authorizationEndpoint, authorityInfo.Host, authorityInfo.Tenant))

	discoveryHost := defaultHost
	if TrustedHost(authorityInfo.Host) {
		discoveryHost = authorityInfo.Host
	}

	endpoint := fmt.Sprintf(instanceDiscoveryEndpoint, discoveryHost)

	resp := InstanceDiscoveryResponse{}
	err := c.Comm.JSONCall(ctx, endpoint, http.Header{}, qv, nil, &resp)
	return resp, err
}
