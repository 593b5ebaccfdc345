// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Command devapps exercises the clients against a real tenant. It's configured through
// MSAL_* environment variables and keeps its token cache in MSAL_CACHE_FILE, so tokens
// acquired by one invocation are used by the next.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/cache/file"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/confidential"
	msalErrors "github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/errors"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/public"
)

const (
	exitError               = 1
	exitInteractionRequired = 2
)

// app is the state the commands share.
type app struct {
	lookuper envconfig.Lookuper
	// httpClient replaces the default HTTP client when set.
	httpClient ops.HTTPClient

	cfg   Config
	log   *slog.Logger
	cache *file.Accessor
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "devapps",
		Short: "Acquire tokens with the MSAL clients",
		Long: `devapps acquires tokens with the public and confidential clients.

Configuration comes from the environment:
  MSAL_CLIENT_ID       application (client) id, required
  MSAL_AUTHORITY       authority URL, default https://login.microsoftonline.com/common
  MSAL_SCOPES          comma separated scopes
  MSAL_CACHE_FILE      token cache file, default msal_cache.json
  MSAL_CLIENT_SECRET   client secret for the credential command
  MSAL_CERT_FILE       PEM or PKCS#12 certificate for the credential command
  MSAL_CERT_PASSWORD   password of MSAL_CERT_FILE
  MSAL_LOG_LEVEL       debug, info, warn or error`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Context(), a.lookuper)
			if err != nil {
				return err
			}
			a.cfg = cfg
			if a.log, err = cfg.logger(cmd.ErrOrStderr()); err != nil {
				return err
			}
			a.cache, err = file.New(cfg.CacheFile, file.WithResetOnCorruption(), file.WithLogger(a.log))
			return err
		},
	}
	root.AddCommand(
		newCredentialCmd(a),
		newSilentCmd(a),
		newAccountsCmd(a),
		newRemoveCmd(a),
	)
	return root
}

func (a *app) publicClient() (public.Client, error) {
	opts := []public.Option{
		public.WithAuthority(a.cfg.Authority),
		public.WithCache(a.cache),
		public.WithLogger(a.log),
	}
	if a.httpClient != nil {
		opts = append(opts, public.WithHTTPClient(a.httpClient))
	}
	return public.New(a.cfg.ClientID, opts...)
}

func (a *app) confidentialClient() (confidential.Client, error) {
	cred, err := a.cfg.Credential.credential()
	if err != nil {
		return confidential.Client{}, err
	}
	opts := []confidential.Option{
		confidential.WithAuthority(a.cfg.Authority),
		confidential.WithCache(a.cache),
		confidential.WithLogger(a.log),
	}
	if a.httpClient != nil {
		opts = append(opts, confidential.WithHTTPClient(a.httpClient))
	}
	return confidential.New(a.cfg.ClientID, cred, opts...)
}

func exitCode(err error) int {
	var ire *msalErrors.InteractionRequiredError
	if errors.As(err, &ire) {
		return exitInteractionRequired
	}
	return exitError
}

func main() {
	root := newRootCmd(&app{lookuper: envconfig.OsLookuper()})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, msalErrors.Verbose(err))
		os.Exit(exitCode(err))
	}
}
