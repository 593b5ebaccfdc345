// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/shared"
)

// legacyKeySeparator separates the fields of keys written by the previous format,
// which had no "Version" member. Its keys carry no credential type and entries
// may omit the fields their key already holds:
//
//	AccessToken:  home_account_id|environment|client_id|realm|target
//	RefreshToken: home_account_id|environment|client_id
//	IdToken:      home_account_id|environment|client_id|realm
//	Account:      home_account_id|environment|realm
//	AppMetadata:  appmetadata|environment|client_id
const legacyKeySeparator = "|"

// legacyContract is the previous top level layout. The partitions are kept raw
// so that each entry can be completed from its key before it is decoded.
type legacyContract struct {
	AccessTokens  map[string]json.RawMessage `json:"AccessToken"`
	RefreshTokens map[string]json.RawMessage `json:"RefreshToken"`
	IDTokens      map[string]json.RawMessage `json:"IdToken"`
	Accounts      map[string]json.RawMessage `json:"Account"`
	AppMetaData   map[string]json.RawMessage `json:"AppMetadata"`
}

var legacyPartitions = map[string]bool{
	"AccessToken":  true,
	"RefreshToken": true,
	"IdToken":      true,
	"Account":      true,
	"AppMetadata":  true,
}

// importLegacy converts data written in the previous format into a Contract keyed
// the current way. Top level members other than the partitions are kept.
func importLegacy(b []byte) (*Contract, error) {
	var lc legacyContract
	if err := json.Unmarshal(b, &lc); err != nil {
		return nil, fmt.Errorf("previous cache format: %w", err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return nil, fmt.Errorf("previous cache format: %w", err)
	}

	c := NewContract()
	for k, v := range top {
		if !legacyPartitions[k] {
			if c.AdditionalFields == nil {
				c.AdditionalFields = map[string]json.RawMessage{}
			}
			c.AdditionalFields[k] = v
		}
	}

	for key, raw := range lc.AccessTokens {
		var at AccessToken
		if err := json.Unmarshal(raw, &at); err != nil {
			return nil, fmt.Errorf("access token %q: %w", key, err)
		}
		parts, err := legacyKeyParts(key, 5)
		if err != nil {
			return nil, fmt.Errorf("access token: %w", err)
		}
		fill(&at.HomeAccountID, parts[0])
		fill(&at.Environment, parts[1])
		fill(&at.ClientID, parts[2])
		fill(&at.Realm, parts[3])
		fill(&at.Scopes, parts[4])
		at.CredentialType = credentialAccessToken
		c.AccessTokens[at.Key()] = at
	}

	for key, raw := range lc.RefreshTokens {
		var rt accesstokens.RefreshToken
		if err := json.Unmarshal(raw, &rt); err != nil {
			return nil, fmt.Errorf("refresh token %q: %w", key, err)
		}
		parts, err := legacyKeyParts(key, 3)
		if err != nil {
			return nil, fmt.Errorf("refresh token: %w", err)
		}
		fill(&rt.HomeAccountID, parts[0])
		fill(&rt.Environment, parts[1])
		fill(&rt.ClientID, parts[2])
		rt.CredentialType = credentialRefreshToken
		c.RefreshTokens[rt.Key()] = rt
	}

	for key, raw := range lc.IDTokens {
		var idt IDToken
		if err := json.Unmarshal(raw, &idt); err != nil {
			return nil, fmt.Errorf("id token %q: %w", key, err)
		}
		parts, err := legacyKeyParts(key, 4)
		if err != nil {
			return nil, fmt.Errorf("id token: %w", err)
		}
		fill(&idt.HomeAccountID, parts[0])
		fill(&idt.Environment, parts[1])
		fill(&idt.ClientID, parts[2])
		fill(&idt.Realm, parts[3])
		idt.CredentialType = credentialIDToken
		c.IDTokens[idt.Key()] = idt
	}

	for key, raw := range lc.Accounts {
		var acc shared.Account
		if err := json.Unmarshal(raw, &acc); err != nil {
			return nil, fmt.Errorf("account %q: %w", key, err)
		}
		parts, err := legacyKeyParts(key, 3)
		if err != nil {
			return nil, fmt.Errorf("account: %w", err)
		}
		fill(&acc.HomeAccountID, parts[0])
		fill(&acc.Environment, parts[1])
		fill(&acc.Realm, parts[2])
		c.Accounts[acc.Key()] = acc
	}

	for key, raw := range lc.AppMetaData {
		var app AppMetaData
		if err := json.Unmarshal(raw, &app); err != nil {
			return nil, fmt.Errorf("app metadata %q: %w", key, err)
		}
		parts, err := legacyKeyParts(key, 3)
		if err != nil {
			return nil, fmt.Errorf("app metadata: %w", err)
		}
		fill(&app.Environment, parts[1])
		fill(&app.ClientID, parts[2])
		c.AppMetaData[app.Key()] = app
	}
	return c, nil
}

func legacyKeyParts(key string, n int) ([]string, error) {
	parts := strings.Split(key, legacyKeySeparator)
	if len(parts) != n {
		return nil, fmt.Errorf("key %q has %d fields, want %d", key, len(parts), n)
	}
	return parts, nil
}

// fill sets *field to v when the entry didn't carry the field itself.
func fill(field *string, v string) {
	if *field == "" {
		*field = v
	}
}
