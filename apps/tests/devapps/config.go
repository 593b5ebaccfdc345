// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/confidential"
)

// Config is read from the environment.
type Config struct {
	ClientID  string   `env:"MSAL_CLIENT_ID, required"`
	Authority string   `env:"MSAL_AUTHORITY, default=https://login.microsoftonline.com/common"`
	Scopes    []string `env:"MSAL_SCOPES, default=https://graph.microsoft.com/.default"`
	CacheFile string   `env:"MSAL_CACHE_FILE, default=msal_cache.json"`
	LogLevel  string   `env:"MSAL_LOG_LEVEL, default=warn"`

	// RedirectURI of the interactive flow. The default listens on a free localhost port.
	RedirectURI string `env:"MSAL_REDIRECT_URI"`

	Credential CredentialConfig
}

// CredentialConfig holds the confidential client's credential. Exactly one of
// Secret and CertFile must be set for the credential command.
type CredentialConfig struct {
	Secret       string `env:"MSAL_CLIENT_SECRET"`
	CertFile     string `env:"MSAL_CERT_FILE"`
	CertPassword string `env:"MSAL_CERT_PASSWORD"`
}

func loadConfig(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, fmt.Errorf("couldn't read configuration: %w", err)
	}
	return cfg, nil
}

func (c Config) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("MSAL_LOG_LEVEL: %w", err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// credential builds the confidential client credential. Certificates are read from
// PEM or, for .pfx and .p12 files, PKCS#12.
func (c CredentialConfig) credential() (confidential.Credential, error) {
	switch {
	case c.Secret != "" && c.CertFile != "":
		return confidential.Credential{}, errors.New("set only one of MSAL_CLIENT_SECRET and MSAL_CERT_FILE")
	case c.Secret != "":
		return confidential.NewCredFromSecret(c.Secret)
	case c.CertFile == "":
		return confidential.Credential{}, errors.New("the credential command needs MSAL_CLIENT_SECRET or MSAL_CERT_FILE")
	}

	data, err := os.ReadFile(c.CertFile)
	if err != nil {
		return confidential.Credential{}, err
	}
	lower := strings.ToLower(c.CertFile)
	if strings.HasSuffix(lower, ".pfx") || strings.HasSuffix(lower, ".p12") {
		cert, key, err := confidential.CertFromPKCS12(data, c.CertPassword)
		if err != nil {
			return confidential.Credential{}, err
		}
		return confidential.NewCredFromCert(cert, key)
	}
	certs, key, err := confidential.CertFromPEM(data, c.CertPassword)
	if err != nil {
		return confidential.Credential{}, err
	}
	return confidential.NewCredFromCertChain(certs, key)
}
