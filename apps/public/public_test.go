// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package public

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kylelemons/godebug/pretty"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/cache"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/cache/file"
	msalErrors "github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/errors"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/mock"
)

var tokenScope = []string{"the_scope"}

const (
	lmo    = "login.microsoftonline.com"
	tenant = "tenant"
)

// userToken is the token endpoint's answer for the user uid.utid of tenant tid.
func userToken(accessToken, refreshToken, tid string, expiresIn int) mock.TokenBody {
	return mock.TokenBody{
		AccessToken:  accessToken,
		IDToken:      mock.GetIDToken(tid, fmt.Sprintf("https://%s/%s/v2.0", lmo, tid), "uid", "user@contoso.com"),
		RefreshToken: refreshToken,
		ClientInfo:   mock.GetClientInfo("uid", "utid"),
		ExpiresIn:    expiresIn,
	}
}

func tokenBody(accessToken, tid string) []byte {
	return userToken(accessToken, "rt-"+tid, tid, 3600).JSON()
}

// form captures the form of the request a mock response answers.
func form(into *url.Values) mock.ResponseOption {
	return mock.WithCallback(func(r *http.Request) {
		if err := r.ParseForm(); err != nil {
			panic(err)
		}
		*into = r.PostForm
	})
}

func newTestClient(t *testing.T, options ...Option) (Client, *mock.Client) {
	t.Helper()
	mockClient := mock.NewClient()
	options = append([]Option{WithAuthority("https://" + lmo + "/" + tenant), WithHTTPClient(mockClient)}, options...)
	client, err := New("client-id", options...)
	if err != nil {
		t.Fatal(err)
	}
	return client, mockClient
}

func fakeBrowserOpenURL(authURL string) error {
	// we will get called with the URL for requesting an auth code
	u, err := url.Parse(authURL)
	if err != nil {
		return err
	}
	// validate the URL content
	q := u.Query()
	if q.Get("code_challenge") == "" {
		return errors.New("missing query param 'code_challenge")
	}
	if m := q.Get("code_challenge_method"); m != "S256" {
		return fmt.Errorf("unexpected code_challenge_method '%s'", m)
	}
	state := q.Get("state")
	if state == "" {
		return errors.New("missing query param 'state'")
	}
	redirect := q.Get("redirect_uri")
	if redirect == "" {
		return errors.New("missing query param 'redirect_uri'")
	}
	// now send the info to our local redirect server
	resp, err := http.DefaultClient.Get(redirect + fmt.Sprintf("/?state=%s&code=fake_auth_code", url.QueryEscape(state)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return nil
}

func TestAcquireTokenInteractive(t *testing.T) {
	realBrowserOpenURL := browserOpenURL
	defer func() { browserOpenURL = realBrowserOpenURL }()
	browserOpenURL = fakeBrowserOpenURL

	client, mockClient := newTestClient(t)
	var sent url.Values
	mockClient.AppendResponse(mock.WithBody(mock.GetTenantDiscoveryBody(lmo, tenant)))
	mockClient.AppendResponse(mock.WithBody(tokenBody("at", tenant)), form(&sent))

	ar, err := client.AcquireTokenInteractive(context.Background(), tokenScope)
	if err != nil {
		t.Fatal(err)
	}
	if ar.AccessToken != "at" {
		t.Errorf("TestAcquireTokenInteractive: got AccessToken %q, want %q", ar.AccessToken, "at")
	}
	if sent.Get("code") != "fake_auth_code" {
		t.Errorf("TestAcquireTokenInteractive: token request sent code %q", sent.Get("code"))
	}
	if sent.Get("code_verifier") == "" {
		t.Error("TestAcquireTokenInteractive: token request has no code_verifier")
	}
	if !strings.HasPrefix(sent.Get("redirect_uri"), "http://localhost:") {
		t.Errorf("TestAcquireTokenInteractive: unexpected redirect_uri %q", sent.Get("redirect_uri"))
	}
}

func TestAcquireTokenInteractiveBrowserFails(t *testing.T) {
	realBrowserOpenURL := browserOpenURL
	defer func() { browserOpenURL = realBrowserOpenURL }()
	browserOpenURL = func(string) error { return errors.New("no browser") }

	client, mockClient := newTestClient(t)
	mockClient.AppendResponse(mock.WithBody(mock.GetTenantDiscoveryBody(lmo, tenant)))

	if _, err := client.AcquireTokenInteractive(context.Background(), tokenScope); err == nil {
		t.Fatal("TestAcquireTokenInteractiveBrowserFails: got err == nil, want err != nil")
	}
	if n := mockClient.Pending(); n != 0 {
		t.Errorf("TestAcquireTokenInteractiveBrowserFails: %d responses unused", n)
	}
}

type redirectAuthenticator struct {
	authURL string
}

func (r *redirectAuthenticator) Authenticate(ctx context.Context, authURL string) (string, error) {
	r.authURL = authURL
	u, err := url.Parse(authURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	return q.Get("redirect_uri") + "?code=custom_code&state=" + url.QueryEscape(q.Get("state")), nil
}

func TestAcquireTokenInteractiveAuthenticator(t *testing.T) {
	client, mockClient := newTestClient(t)
	var sent url.Values
	mockClient.AppendResponse(mock.WithBody(mock.GetTenantDiscoveryBody(lmo, tenant)))
	mockClient.AppendResponse(mock.WithBody(tokenBody("at", tenant)), form(&sent))

	auth := &redirectAuthenticator{}
	_, err := client.AcquireTokenInteractive(context.Background(), tokenScope,
		WithAuthenticator(auth),
		WithRedirectURI("https://app.example/callback"),
		WithLoginHint("user@contoso.com"),
		WithPrompt("select_account"),
	)
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(auth.authURL)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("login_hint") != "user@contoso.com" || q.Get("prompt") != "select_account" {
		t.Errorf("TestAcquireTokenInteractiveAuthenticator: authorization URL lacks hints: %s", auth.authURL)
	}
	if sent.Get("code") != "custom_code" || sent.Get("redirect_uri") != "https://app.example/callback" {
		t.Errorf("TestAcquireTokenInteractiveAuthenticator: unexpected token request %v", sent)
	}
}

func TestAcquireTokenInteractiveRedirectURI(t *testing.T) {
	tests := []struct {
		desc        string
		redirectURI string
		port        int
		err         bool
	}{
		{desc: "empty", redirectURI: "", port: 0},
		{desc: "localhost", redirectURI: "http://localhost", port: 0},
		{desc: "localhost with port", redirectURI: "http://localhost:8400", port: 8400},
		{desc: "localhost with path", redirectURI: "http://localhost:8400/auth", port: 8400},
		{desc: "https", redirectURI: "https://localhost:8400", err: true},
		{desc: "not loopback", redirectURI: "http://app.example", err: true},
		{desc: "bad port", redirectURI: "http://localhost:port", err: true},
	}
	for _, test := range tests {
		port, err := loopbackPort(test.redirectURI)
		switch {
		case err == nil && test.err:
			t.Errorf("TestAcquireTokenInteractiveRedirectURI(%s): got err == nil, want err != nil", test.desc)
			continue
		case err != nil && !test.err:
			t.Errorf("TestAcquireTokenInteractiveRedirectURI(%s): got err == %s, want err == nil", test.desc, err)
			continue
		case err != nil:
			continue
		}
		if port != test.port {
			t.Errorf("TestAcquireTokenInteractiveRedirectURI(%s): got port %d, want %d", test.desc, port, test.port)
		}
	}
}

func TestAcquireTokenSilent(t *testing.T) {
	client, mockClient := newTestClient(t)
	ctx := context.Background()

	mockClient.AppendResponse(mock.WithBody(mock.GetTenantDiscoveryBody(lmo, tenant)))
	mockClient.AppendResponse(mock.WithBody(tokenBody("at", tenant)))
	ar, err := client.AcquireTokenByAuthCode(ctx, "code", "http://localhost", tokenScope)
	if err != nil {
		t.Fatal(err)
	}

	silent, err := client.AcquireTokenSilent(ctx, tokenScope, WithSilentAccount(ar.Account))
	if err != nil {
		t.Fatal(err)
	}
	if silent.AccessToken != "at" {
		t.Errorf("TestAcquireTokenSilent: got AccessToken %q, want %q", silent.AccessToken, "at")
	}
	if diff := pretty.Compare(ar.Account, silent.Account); diff != "" {
		t.Errorf("TestAcquireTokenSilent: accounts differ: -want/+got:\n%s", diff)
	}
	if n := len(mockClient.Requests()); n != 2 {
		t.Errorf("TestAcquireTokenSilent: got %d requests, want 2", n)
	}

	if _, err := client.AcquireTokenSilent(ctx, tokenScope); err == nil {
		t.Error("TestAcquireTokenSilent: got err == nil without an account, want err != nil")
	}
}

func TestAcquireTokenSilentTenants(t *testing.T) {
	tenants := []string{"a", "b"}
	client, mockClient := newTestClient(t, WithAuthority("https://"+lmo+"/common"))
	ctx := context.Background()

	accounts := make([]Account, len(tenants))
	// cache an access token for each tenant. To simplify determining their provenance below, the value of each token is the ID of the tenant that provided it.
	for i, tenant := range tenants {
		mockClient.AppendResponse(mock.WithBody(mock.GetTenantDiscoveryBody(lmo, tenant)))
		mockClient.AppendResponse(mock.WithBody(tokenBody(tenant, tenant)))
		ar, err := client.AcquireTokenByAuthCode(ctx, "code", "http://localhost", tokenScope, WithTenantID(tenant))
		if err != nil {
			t.Fatal(err)
		}
		accounts[i] = ar.Account
	}
	// cache should return the correct access token for each tenant
	for i, account := range accounts {
		if account.Realm != tenants[i] {
			t.Fatalf(`unexpected realm "%s"`, account.Realm)
		}
		otherTenant := tenants[(i+1)%len(tenants)]
		for _, test := range []struct {
			desc, expected string
			opts           []AcquireOption
		}{
			{"account only", account.Realm, []AcquireOption{WithSilentAccount(account)}},
			{"matching account and tenant", account.Realm, []AcquireOption{WithSilentAccount(account), WithTenantID(account.Realm)}},
			{"tenant overriding account", otherTenant, []AcquireOption{WithSilentAccount(account), WithTenantID(otherTenant)}},
		} {
			ar, err := client.AcquireTokenSilent(ctx, tokenScope, test.opts...)
			if err != nil {
				t.Errorf("TestAcquireTokenSilentTenants(%s): got err == %s", test.desc, err)
				continue
			}
			if ar.AccessToken != test.expected {
				t.Errorf("TestAcquireTokenSilentTenants(%s): got token from tenant %q, want %q", test.desc, ar.AccessToken, test.expected)
			}
		}
	}
}

func TestAcquireTokenSilentRefresh(t *testing.T) {
	client, mockClient := newTestClient(t)
	ctx := context.Background()

	mockClient.AppendResponse(mock.WithBody(mock.GetTenantDiscoveryBody(lmo, tenant)))
	// a token inside the expiry skew is refreshed on the next silent call
	mockClient.AppendResponse(mock.WithBody(userToken("expiring", "rt", tenant, 60).JSON()))
	ar, err := client.AcquireTokenByAuthCode(ctx, "code", "http://localhost", tokenScope)
	if err != nil {
		t.Fatal(err)
	}

	var sent url.Values
	mockClient.AppendResponse(mock.WithBody(mock.GetAccessTokenBody("fresh", "", "rt2", mock.GetClientInfo("uid", "utid"), 3600)), form(&sent))
	silent, err := client.AcquireTokenSilent(ctx, tokenScope, WithSilentAccount(ar.Account))
	if err != nil {
		t.Fatal(err)
	}
	if silent.AccessToken != "fresh" {
		t.Errorf("TestAcquireTokenSilentRefresh: got AccessToken %q, want %q", silent.AccessToken, "fresh")
	}
	if sent.Get("grant_type") != "refresh_token" || sent.Get("refresh_token") != "rt" {
		t.Errorf("TestAcquireTokenSilentRefresh: unexpected refresh request %v", sent)
	}
}

func TestAcquireTokenSilentInvalidGrant(t *testing.T) {
	client, mockClient := newTestClient(t)
	ctx := context.Background()

	mockClient.AppendResponse(mock.WithBody(mock.GetTenantDiscoveryBody(lmo, tenant)))
	mockClient.AppendResponse(mock.WithBody(userToken("expiring", "rt", tenant, 60).JSON()))
	ar, err := client.AcquireTokenByAuthCode(ctx, "code", "http://localhost", tokenScope)
	if err != nil {
		t.Fatal(err)
	}

	mockClient.AppendResponse(
		mock.WithHTTPStatusCode(http.StatusBadRequest),
		mock.WithBody(mock.GetErrorBody("invalid_grant", "the refresh token has expired")),
	)
	_, err = client.AcquireTokenSilent(ctx, tokenScope, WithSilentAccount(ar.Account))
	var ire *msalErrors.InteractionRequiredError
	if !errors.As(err, &ire) {
		t.Fatalf("TestAcquireTokenSilentInvalidGrant: got err %v, want *InteractionRequiredError", err)
	}
	// the dead refresh token is gone, so this fails without a request
	if _, err = client.AcquireTokenSilent(ctx, tokenScope, WithSilentAccount(ar.Account)); !errors.As(err, &ire) {
		t.Errorf("TestAcquireTokenSilentInvalidGrant: second call got err %v, want *InteractionRequiredError", err)
	}
	if n := len(mockClient.Requests()); n != 3 {
		t.Errorf("TestAcquireTokenSilentInvalidGrant: got %d requests, want 3", n)
	}
}

func TestAcquireTokenByAuthCodeChallenge(t *testing.T) {
	client, mockClient := newTestClient(t)
	var sent url.Values
	mockClient.AppendResponse(mock.WithBody(mock.GetTenantDiscoveryBody(lmo, tenant)))
	mockClient.AppendResponse(mock.WithBody(tokenBody("at", tenant)), form(&sent))

	_, err := client.AcquireTokenByAuthCode(context.Background(), "code", "http://localhost", tokenScope, WithChallenge("verifier"))
	if err != nil {
		t.Fatal(err)
	}
	want := url.Values{}
	for k, v := range map[string]string{
		"grant_type":    "authorization_code",
		"code":          "code",
		"code_verifier": "verifier",
		"redirect_uri":  "http://localhost",
		"client_id":     "client-id",
	} {
		want.Set(k, v)
	}
	for k := range want {
		if sent.Get(k) != want.Get(k) {
			t.Errorf("TestAcquireTokenByAuthCodeChallenge: got %s=%q, want %q", k, sent.Get(k), want.Get(k))
		}
	}
}

func TestAcquireTokenProofOfPossession(t *testing.T) {
	client, mockClient := newTestClient(t)
	ctx := context.Background()
	var sent url.Values
	mockClient.AppendResponse(mock.WithBody(mock.GetTenantDiscoveryBody(lmo, tenant)))
	popToken := userToken("at", "rt", tenant, 3600)
	popToken.TokenType = "pop"
	mockClient.AppendResponse(mock.WithBody(popToken.JSON()), form(&sent))

	ar, err := client.AcquireTokenByAuthCode(ctx, "code", "http://localhost", tokenScope,
		WithProofOfPossession("GET", "https://api.example/v1/items"),
	)
	if err != nil {
		t.Fatal(err)
	}
	if sent.Get("token_type") != "pop" || sent.Get("req_cnf") == "" {
		t.Errorf("TestAcquireTokenProofOfPossession: token request lacks PoP parameters: %v", sent)
	}

	tok, _, err := jwt.NewParser().ParseUnverified(ar.AccessToken, jwt.MapClaims{})
	if err != nil {
		t.Fatalf("TestAcquireTokenProofOfPossession: AccessToken isn't a JWT: %s", err)
	}
	if tok.Header["typ"] != "pop" {
		t.Errorf("TestAcquireTokenProofOfPossession: got typ %v, want pop", tok.Header["typ"])
	}
	claims := tok.Claims.(jwt.MapClaims)
	if claims["at"] != "at" || claims["m"] != "GET" || claims["u"] != "https://api.example/v1/items" {
		t.Errorf("TestAcquireTokenProofOfPossession: unexpected claims %v", claims)
	}

	// the cached token is bound to the client's key, so it's found for another request
	silent, err := client.AcquireTokenSilent(ctx, tokenScope,
		WithSilentAccount(ar.Account),
		WithProofOfPossession("POST", "https://api.example/v1/items"),
	)
	if err != nil {
		t.Fatal(err)
	}
	tok, _, err = jwt.NewParser().ParseUnverified(silent.AccessToken, jwt.MapClaims{})
	if err != nil {
		t.Fatal(err)
	}
	if m := tok.Claims.(jwt.MapClaims)["m"]; m != "POST" {
		t.Errorf("TestAcquireTokenProofOfPossession: got m %v, want POST", m)
	}
	// a bearer request doesn't get the PoP token
	mockClient.AppendResponse(mock.WithBody(tokenBody("bearer", tenant)))
	bearer, err := client.AcquireTokenSilent(ctx, tokenScope, WithSilentAccount(ar.Account))
	if err != nil {
		t.Fatal(err)
	}
	if bearer.AccessToken != "bearer" {
		t.Errorf("TestAcquireTokenProofOfPossession: got AccessToken %q, want %q", bearer.AccessToken, "bearer")
	}
}

func TestPoPKeyRequiresProofOfPossession(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	client, mockClient := newTestClient(t)
	_, err = client.AcquireTokenByAuthCode(context.Background(), "code", "http://localhost", tokenScope, WithPoPKey(key))
	if err == nil {
		t.Fatal("TestPoPKeyRequiresProofOfPossession: got err == nil, want err != nil")
	}
	// an RSA key is required for binding
	_, err = client.AcquireTokenByAuthCode(context.Background(), "code", "http://localhost", tokenScope,
		WithProofOfPossession("GET", "https://api.example/v1/items"), WithPoPKey(key),
	)
	if err == nil {
		t.Fatal("TestPoPKeyRequiresProofOfPossession(ECDSA key): got err == nil, want err != nil")
	}
	if n := len(mockClient.Requests()); n != 0 {
		t.Errorf("TestPoPKeyRequiresProofOfPossession: got %d requests, want 0", n)
	}
}

func TestAuthCodeURL(t *testing.T) {
	client, mockClient := newTestClient(t, WithClientCapabilities([]string{"cp1"}))
	mockClient.AppendResponse(mock.WithBody(mock.GetTenantDiscoveryBody(lmo, tenant)))

	u, err := client.AuthCodeURL(context.Background(), "http://localhost", tokenScope,
		WithState("the-state"),
		WithCodeChallenge("the-challenge"),
		WithDomainHint("contoso.com"),
	)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatal(err)
	}
	if want := "https://" + lmo + "/" + tenant + "/oauth2/v2.0/authorize"; !strings.HasPrefix(u, want) {
		t.Errorf("TestAuthCodeURL: got %s, want prefix %s", u, want)
	}
	q := parsed.Query()
	for k, v := range map[string]string{
		"client_id":             "client-id",
		"response_type":         "code",
		"redirect_uri":          "http://localhost",
		"state":                 "the-state",
		"code_challenge":        "the-challenge",
		"code_challenge_method": "S256",
		"domain_hint":           "contoso.com",
	} {
		if q.Get(k) != v {
			t.Errorf("TestAuthCodeURL: got %s=%q, want %q", k, q.Get(k), v)
		}
	}
	if !strings.Contains(q.Get("scope"), "the_scope") || !strings.Contains(q.Get("scope"), "offline_access") {
		t.Errorf("TestAuthCodeURL: unexpected scope %q", q.Get("scope"))
	}
	if !strings.Contains(q.Get("claims"), "cp1") {
		t.Errorf("TestAuthCodeURL: claims %q don't carry the client capabilities", q.Get("claims"))
	}
}

type memoryCache struct {
	mu   sync.Mutex
	data []byte
}

func (m *memoryCache) Replace(ctx context.Context, u cache.Unmarshaler, h cache.ReplaceHints) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil
	}
	return u.Unmarshal(m.data)
}

func (m *memoryCache) Export(ctx context.Context, c cache.Marshaler, h cache.ExportHints) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := c.Marshal()
	if err == nil {
		m.data = b
	}
	return err
}

func TestAccountsAndRemoveAccount(t *testing.T) {
	accessor := &memoryCache{}
	client, mockClient := newTestClient(t, WithCache(accessor))
	ctx := context.Background()

	mockClient.AppendResponse(mock.WithBody(mock.GetTenantDiscoveryBody(lmo, tenant)))
	mockClient.AppendResponse(mock.WithBody(tokenBody("at", tenant)))
	ar, err := client.AcquireTokenByAuthCode(ctx, "code", "http://localhost", tokenScope)
	if err != nil {
		t.Fatal(err)
	}

	// a second client sharing the cache sees the account
	other, _ := newTestClient(t, WithCache(accessor))
	accounts, err := other.Accounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 {
		t.Fatalf("TestAccountsAndRemoveAccount: got %d accounts, want 1", len(accounts))
	}
	if diff := pretty.Compare(ar.Account, accounts[0]); diff != "" {
		t.Errorf("TestAccountsAndRemoveAccount: -want/+got:\n%s", diff)
	}
	silent, err := other.AcquireTokenSilent(ctx, tokenScope, WithSilentAccount(accounts[0]))
	if err != nil {
		t.Fatal(err)
	}
	if silent.AccessToken != "at" {
		t.Errorf("TestAccountsAndRemoveAccount: got AccessToken %q, want %q", silent.AccessToken, "at")
	}

	if err := other.RemoveAccount(ctx, accounts[0]); err != nil {
		t.Fatal(err)
	}
	accounts, err = client.Accounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 0 {
		t.Errorf("TestAccountsAndRemoveAccount: got %d accounts after removal, want 0", len(accounts))
	}
}

func TestFileCacheFirstUse(t *testing.T) {
	ctx := context.Background()
	accessor, err := file.New(filepath.Join(t.TempDir(), "msal", "cache.json"))
	if err != nil {
		t.Fatal(err)
	}
	client, mockClient := newTestClient(t, WithCache(accessor))

	accounts, err := client.Accounts(ctx)
	if err != nil {
		t.Fatalf("TestFileCacheFirstUse: Accounts() got err == %s", err)
	}
	if len(accounts) != 0 {
		t.Errorf("TestFileCacheFirstUse: got %d accounts, want 0", len(accounts))
	}

	mockClient.AppendResponse(mock.WithBody(mock.GetTenantDiscoveryBody(lmo, tenant)))
	mockClient.AppendResponse(mock.WithBody(tokenBody("at", tenant)))
	ar, err := client.AcquireTokenByAuthCode(ctx, "code", "http://localhost", tokenScope)
	if err != nil {
		t.Fatalf("TestFileCacheFirstUse: AcquireTokenByAuthCode() got err == %s", err)
	}

	// a new client reads what the first one wrote
	other, _ := newTestClient(t, WithCache(accessor))
	silent, err := other.AcquireTokenSilent(ctx, tokenScope, WithSilentAccount(ar.Account))
	if err != nil {
		t.Fatalf("TestFileCacheFirstUse: AcquireTokenSilent() got err == %s", err)
	}
	if silent.AccessToken != "at" {
		t.Errorf("TestFileCacheFirstUse: got AccessToken %q, want %q", silent.AccessToken, "at")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		desc    string
		options []Option
		err     bool
	}{
		{desc: "defaults"},
		{desc: "authority", options: []Option{WithAuthority("https://login.microsoftonline.com/contoso.onmicrosoft.com")}},
		{desc: "generic authority", options: []Option{WithGenericAuthority("https://idp.example/realms/r")}},
		{desc: "http authority", options: []Option{WithAuthority("http://login.microsoftonline.com/common")}, err: true},
		{desc: "negative skew", options: []Option{WithExpirySkew(-1)}, err: true},
		{desc: "negative timeout", options: []Option{WithRequestTimeout(-1)}, err: true},
		{desc: "negative retries", options: []Option{WithRetryPolicy(RetryPolicy{MaxRetries: -1})}, err: true},
		{desc: "bad capabilities", options: []Option{WithClientCapabilities([]string{`cp1"`})}, err: true},
	}
	for _, test := range tests {
		_, err := New("client-id", test.options...)
		switch {
		case err == nil && test.err:
			t.Errorf("TestNew(%s): got err == nil, want err != nil", test.desc)
		case err != nil && !test.err:
			t.Errorf("TestNew(%s): got err == %s, want err == nil", test.desc, err)
		}
	}
	if _, err := New(""); err == nil {
		t.Error("TestNew(no client ID): got err == nil, want err != nil")
	}
}
