// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/base"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/public"
)

func printResult(w io.Writer, ar base.AuthResult, showToken bool) {
	source := "identity provider"
	if ar.Metadata.TokenSource == base.TokenSourceCache {
		source = "cache"
	}
	fmt.Fprintf(w, "token from %s, expires %s\n", source, ar.ExpiresOn.Format(time.RFC3339))
	if !ar.Account.IsZero() {
		fmt.Fprintf(w, "account %s (%s)\n", ar.Account.HomeAccountID, ar.Account.PreferredUsername)
	}
	if showToken {
		fmt.Fprintln(w, ar.AccessToken)
	}
}

func newCredentialCmd(a *app) *cobra.Command {
	var showToken bool
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Acquire an application token with the client credential",
		Long: `Acquire a token for the application itself with MSAL_CLIENT_SECRET or
MSAL_CERT_FILE. A cached token is used while it's valid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.confidentialClient()
			if err != nil {
				return err
			}
			ar, err := client.AcquireTokenByCredential(cmd.Context(), a.cfg.Scopes)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), ar, showToken)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showToken, "show-token", false, "print the access token")
	return cmd
}

func newSilentCmd(a *app) *cobra.Command {
	var (
		accountID   string
		interactive bool
		showToken   bool
	)
	cmd := &cobra.Command{
		Use:   "silent",
		Short: "Acquire a user token from the cache",
		Long: `Acquire a token for a cached account, refreshing it when needed. With
--interactive the user signs in through the browser when the cache can't
provide a token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client, err := a.publicClient()
			if err != nil {
				return err
			}
			account, err := findAccount(cmd, client, accountID)
			if err != nil {
				return err
			}

			var ar public.AuthResult
			if !account.IsZero() {
				ar, err = client.AcquireTokenSilent(ctx, a.cfg.Scopes, public.WithSilentAccount(account))
			} else {
				err = errors.New("no cached account")
			}
			if err != nil {
				if !interactive {
					return err
				}
				a.log.InfoContext(ctx, "signing in interactively", "reason", err.Error())
				opts := []public.AcquireOption{public.WithLoginHint(account.PreferredUsername)}
				if a.cfg.RedirectURI != "" {
					opts = append(opts, public.WithRedirectURI(a.cfg.RedirectURI))
				}
				if ar, err = client.AcquireTokenInteractive(ctx, a.cfg.Scopes, opts...); err != nil {
					return err
				}
			}
			printResult(cmd.OutOrStdout(), ar, showToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "home account id of the cached account, default the only one")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "sign in through the browser when needed")
	cmd.Flags().BoolVar(&showToken, "show-token", false, "print the access token")
	return cmd
}

// findAccount returns the cached account with homeAccountID, or the only cached
// account when homeAccountID is empty. The zero Account means there's none.
func findAccount(cmd *cobra.Command, client public.Client, homeAccountID string) (public.Account, error) {
	accounts, err := client.Accounts(cmd.Context())
	if err != nil {
		return public.Account{}, err
	}
	if homeAccountID == "" {
		switch len(accounts) {
		case 0:
			return public.Account{}, nil
		case 1:
			return accounts[0], nil
		}
		return public.Account{}, fmt.Errorf("the cache has %d accounts, choose one with --account", len(accounts))
	}
	for _, acc := range accounts {
		if strings.EqualFold(acc.HomeAccountID, homeAccountID) {
			return acc, nil
		}
	}
	return public.Account{}, fmt.Errorf("no cached account has home account id %q", homeAccountID)
}

func newAccountsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the cached accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.publicClient()
			if err != nil {
				return err
			}
			accounts, err := client.Accounts(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HOME ACCOUNT ID\tUSERNAME\tENVIRONMENT")
			for _, acc := range accounts {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", acc.HomeAccountID, acc.PreferredUsername, acc.Environment)
			}
			return tw.Flush()
		},
	}
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove HOME_ACCOUNT_ID",
		Short: "Remove a cached account and its tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.publicClient()
			if err != nil {
				return err
			}
			account, err := findAccount(cmd, client, args[0])
			if err != nil {
				return err
			}
			if err := client.RemoveAccount(cmd.Context(), account); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", account.HomeAccountID)
			return nil
		},
	}
}
