// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/require"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/cache/file"
	msalErrors "github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/errors"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/mock"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/public"
)

const (
	host   = "login.microsoftonline.com"
	tenant = "tenant"
)

func testEnv(t *testing.T) map[string]string {
	return map[string]string{
		"MSAL_CLIENT_ID":     "client-id",
		"MSAL_AUTHORITY":     "https://" + host + "/" + tenant,
		"MSAL_SCOPES":        "scope",
		"MSAL_CACHE_FILE":    filepath.Join(t.TempDir(), "cache.json"),
		"MSAL_CLIENT_SECRET": "secret",
	}
}

func run(t *testing.T, env map[string]string, httpClient *mock.Client, args ...string) (string, error) {
	t.Helper()
	a := &app{lookuper: envconfig.MapLookuper(env), httpClient: httpClient}
	root := newRootCmd(a)
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLoadConfig(t *testing.T) {
	ctx := context.Background()

	_, err := loadConfig(ctx, envconfig.MapLookuper(map[string]string{}))
	require.Error(t, err, "MSAL_CLIENT_ID is required")

	cfg, err := loadConfig(ctx, envconfig.MapLookuper(map[string]string{
		"MSAL_CLIENT_ID": "id",
		"MSAL_SCOPES":    "a,b",
	}))
	require.NoError(t, err)
	require.Equal(t, "https://login.microsoftonline.com/common", cfg.Authority)
	require.Equal(t, []string{"a", "b"}, cfg.Scopes)
	require.Equal(t, "msal_cache.json", cfg.CacheFile)
}

func TestCredentialConfig(t *testing.T) {
	for _, test := range []struct {
		desc string
		cfg  CredentialConfig
		err  bool
	}{
		{desc: "secret", cfg: CredentialConfig{Secret: "s"}},
		{desc: "PEM", cfg: CredentialConfig{CertFile: "../../confidential/testdata/test-cert.pem"}},
		{desc: "PKCS#12", cfg: CredentialConfig{CertFile: "../../confidential/testdata/cert.pfx", CertPassword: "password"}},
		{desc: "none", err: true},
		{desc: "both", cfg: CredentialConfig{Secret: "s", CertFile: "cert.pem"}, err: true},
		{desc: "missing file", cfg: CredentialConfig{CertFile: "missing.pem"}, err: true},
	} {
		t.Run(test.desc, func(t *testing.T) {
			_, err := test.cfg.credential()
			if test.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCredentialCommand(t *testing.T) {
	env := testEnv(t)
	mc := mock.NewClient()
	mc.AppendResponse(mock.WithBody(mock.GetTenantDiscoveryBody(host, tenant)))
	mc.AppendResponse(mock.WithBody(mock.GetAccessTokenBody("app-token", "", "", "", 3600)))

	out, err := run(t, env, mc, "credential", "--show-token")
	require.NoError(t, err)
	require.Contains(t, out, "token from identity provider")
	require.Contains(t, out, "app-token")

	// a new client finds the token in the cache file
	out, err = run(t, env, mc, "credential")
	require.NoError(t, err)
	require.Contains(t, out, "token from cache")
	require.NotContains(t, out, "app-token")
	require.Len(t, mc.Requests(), 2)
}

func TestAccountCommands(t *testing.T) {
	env := testEnv(t)

	// sign a user in with the same cache file
	accessor, err := file.New(env["MSAL_CACHE_FILE"])
	require.NoError(t, err)
	mc := mock.NewClient()
	client, err := public.New("client-id",
		public.WithAuthority(env["MSAL_AUTHORITY"]),
		public.WithCache(accessor),
		public.WithHTTPClient(mc),
	)
	require.NoError(t, err)
	mc.AppendResponse(mock.WithBody(mock.GetTenantDiscoveryBody(host, tenant)))
	mc.AppendResponse(mock.WithBody(mock.TokenBody{
		AccessToken:  "user-token",
		IDToken:      mock.GetIDToken(tenant, "https://"+host+"/"+tenant+"/v2.0", "uid", "user@contoso.com"),
		RefreshToken: "rt",
		ClientInfo:   mock.GetClientInfo("uid", tenant),
	}.JSON()))
	ar, err := client.AcquireTokenByAuthCode(context.Background(), "code", "http://localhost", []string{"scope"})
	require.NoError(t, err)
	homeID := ar.Account.HomeAccountID

	out, err := run(t, env, mc, "accounts")
	require.NoError(t, err)
	require.Contains(t, out, homeID)
	require.Contains(t, out, "user@contoso.com")

	out, err = run(t, env, mc, "silent", "--show-token")
	require.NoError(t, err)
	require.Contains(t, out, "token from cache")
	require.Contains(t, out, "user-token")

	_, err = run(t, env, mc, "remove", "someone-else")
	require.Error(t, err)

	out, err = run(t, env, mc, "remove", homeID)
	require.NoError(t, err)
	require.Contains(t, out, "removed "+homeID)

	out, err = run(t, env, mc, "accounts")
	require.NoError(t, err)
	require.NotContains(t, out, homeID)

	_, err = run(t, env, mc, "silent")
	require.EqualError(t, err, "no cached account")
	require.Len(t, mc.Requests(), 2)
}

func TestExitCode(t *testing.T) {
	require.Equal(t, exitInteractionRequired, exitCode(&msalErrors.InteractionRequiredError{Err: errors.New("expired")}))
	require.Equal(t, exitError, exitCode(errors.New("other")))
}
