// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package storage

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/json"
	internalTime "github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/json/types/time"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/shared"
)

// CurrentVersion is written to the "Version" member of every serialized cache.
const CurrentVersion = "2"

// Credential types recorded on cache entries.
const (
	credentialAccessToken  = "AccessToken"
	credentialRefreshToken = "RefreshToken"
	credentialIDToken      = "IdToken"
)

const bearer = "bearer"

// Contract is the JSON structure that is written to any storage medium when serializing
// the internal cache. Members this version does not know about are kept in
// AdditionalFields and written back unchanged.
type Contract struct {
	Version       string                               `json:"Version"`
	AccessTokens  map[string]AccessToken               `json:"AccessToken,omitempty"`
	RefreshTokens map[string]accesstokens.RefreshToken `json:"RefreshToken,omitempty"`
	IDTokens      map[string]IDToken                   `json:"IdToken,omitempty"`
	Accounts      map[string]shared.Account            `json:"Account,omitempty"`
	AppMetaData   map[string]AppMetaData               `json:"AppMetadata,omitempty"`

	AdditionalFields json.Fields `json:"-"`
}

// NewContract is the constructor for Contract.
func NewContract() *Contract {
	return &Contract{
		Version:       CurrentVersion,
		AccessTokens:  map[string]AccessToken{},
		RefreshTokens: map[string]accesstokens.RefreshToken{},
		IDTokens:      map[string]IDToken{},
		Accounts:      map[string]shared.Account{},
		AppMetaData:   map[string]AppMetaData{},
	}
}

func (c *Contract) UnmarshalJSON(b []byte) error {
	type alias Contract
	if err := json.Unmarshal(b, (*alias)(c), &c.AdditionalFields); err != nil {
		return err
	}
	c.init()
	return nil
}

func (c Contract) MarshalJSON() ([]byte, error) {
	type alias Contract
	return json.Marshal(alias(c), c.AdditionalFields)
}

// init replaces nil partitions with empty ones.
func (c *Contract) init() {
	if c.AccessTokens == nil {
		c.AccessTokens = map[string]AccessToken{}
	}
	if c.RefreshTokens == nil {
		c.RefreshTokens = map[string]accesstokens.RefreshToken{}
	}
	if c.IDTokens == nil {
		c.IDTokens = map[string]IDToken{}
	}
	if c.Accounts == nil {
		c.Accounts = map[string]shared.Account{}
	}
	if c.AppMetaData == nil {
		c.AppMetaData = map[string]AppMetaData{}
	}
}

// copy returns a copy of the Contract. Entries are values, so the maps are
// the only thing that needs cloning.
func (c *Contract) copy() *Contract {
	n := &Contract{
		Version:          c.Version,
		AccessTokens:     make(map[string]AccessToken, len(c.AccessTokens)),
		RefreshTokens:    make(map[string]accesstokens.RefreshToken, len(c.RefreshTokens)),
		IDTokens:         make(map[string]IDToken, len(c.IDTokens)),
		Accounts:         make(map[string]shared.Account, len(c.Accounts)),
		AppMetaData:      make(map[string]AppMetaData, len(c.AppMetaData)),
		AdditionalFields: make(json.Fields, len(c.AdditionalFields)),
	}
	for k, v := range c.AccessTokens {
		n.AccessTokens[k] = v
	}
	for k, v := range c.RefreshTokens {
		n.RefreshTokens[k] = v
	}
	for k, v := range c.IDTokens {
		n.IDTokens[k] = v
	}
	for k, v := range c.Accounts {
		n.Accounts[k] = v
	}
	for k, v := range c.AppMetaData {
		n.AppMetaData[k] = v
	}
	for k, v := range c.AdditionalFields {
		n.AdditionalFields[k] = v
	}
	return n
}

// AccessToken is the JSON representation of an access token for encoding to storage.
type AccessToken struct {
	HomeAccountID     string            `json:"home_account_id,omitempty"`
	Environment       string            `json:"environment,omitempty"`
	Realm             string            `json:"realm,omitempty"`
	CredentialType    string            `json:"credential_type,omitempty"`
	ClientID          string            `json:"client_id,omitempty"`
	Secret            string            `json:"secret,omitempty"`
	Scopes            string            `json:"target,omitempty"`
	ExpiresOn         internalTime.Unix `json:"expires_on,omitzero"`
	ExtendedExpiresOn internalTime.Unix `json:"extended_expires_on,omitzero"`
	CachedAt          internalTime.Unix `json:"cached_at,omitzero"`
	UserAssertionHash string            `json:"user_assertion_hash,omitempty"`
	// TokenType is empty for bearer tokens.
	TokenType string `json:"token_type,omitempty"`
	// KeyID identifies the key a proof-of-possession token is bound to.
	KeyID string `json:"keyid,omitempty"`

	AdditionalFields json.Fields `json:"-"`
}

// NewAccessToken is the constructor for AccessToken.
func NewAccessToken(homeID, env, realm, clientID string, cachedAt, expiresOn, extendedExpiresOn time.Time, scopes, token, tokenType, keyID string) AccessToken {
	if strings.EqualFold(tokenType, bearer) {
		tokenType = ""
	}
	return AccessToken{
		HomeAccountID:     homeID,
		Environment:       env,
		Realm:             realm,
		CredentialType:    credentialAccessToken,
		ClientID:          clientID,
		Secret:            token,
		Scopes:            scopes,
		CachedAt:          internalTime.NewUnix(cachedAt),
		ExpiresOn:         internalTime.NewUnix(expiresOn),
		ExtendedExpiresOn: internalTime.NewUnix(extendedExpiresOn),
		TokenType:         tokenType,
		KeyID:             keyID,
	}
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
// Bearer tokens keep the historical key shape; bound tokens add the type and key id,
// and tokens obtained on behalf of a user add the assertion hash, whose case is kept.
func (a AccessToken) Key() string {
	parts := []string{a.HomeAccountID, a.Environment, a.CredentialType, a.ClientID, a.Realm, a.Scopes}
	if a.TokenType != "" && !strings.EqualFold(a.TokenType, bearer) {
		parts = append(parts, a.TokenType, a.KeyID)
	}
	key := strings.ToLower(strings.Join(parts, shared.CacheKeySeparator))
	if a.UserAssertionHash != "" {
		key += shared.CacheKeySeparator + a.UserAssertionHash
	}
	return key
}

// Valid reports whether the token can still be handed out at now. A token
// expiring within skew is treated as expired, as is one cached in the future.
func (a AccessToken) Valid(now time.Time, skew time.Duration) bool {
	if a.Secret == "" || a.CachedAt.IsZero() {
		return false
	}
	if a.CachedAt.T.After(now) {
		return false
	}
	return a.ExpiresOn.T.After(now.Add(skew))
}

func (a *AccessToken) UnmarshalJSON(b []byte) error {
	type alias AccessToken
	return json.Unmarshal(b, (*alias)(a), &a.AdditionalFields)
}

func (a AccessToken) MarshalJSON() ([]byte, error) {
	type alias AccessToken
	return json.Marshal(alias(a), a.AdditionalFields)
}

// IDToken is the JSON representation of an id token for encoding to storage.
type IDToken struct {
	HomeAccountID  string `json:"home_account_id,omitempty"`
	Environment    string `json:"environment,omitempty"`
	Realm          string `json:"realm,omitempty"`
	CredentialType string `json:"credential_type,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	Secret         string `json:"secret,omitempty"`

	AdditionalFields json.Fields `json:"-"`
}

// IsZero determines if IDToken is the zero value.
func (i IDToken) IsZero() bool {
	switch {
	case i.HomeAccountID != "":
		return false
	case i.Environment != "":
		return false
	case i.Realm != "":
		return false
	case i.CredentialType != "":
		return false
	case i.ClientID != "":
		return false
	case i.Secret != "":
		return false
	case len(i.AdditionalFields) > 0:
		return false
	}
	return true
}

// NewIDToken is the constructor for IDToken.
func NewIDToken(homeID, env, realm, clientID, idToken string) IDToken {
	return IDToken{
		HomeAccountID:  homeID,
		Environment:    env,
		Realm:          realm,
		CredentialType: credentialIDToken,
		ClientID:       clientID,
		Secret:         idToken,
	}
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
func (id IDToken) Key() string {
	key := strings.Join(
		[]string{id.HomeAccountID, id.Environment, id.CredentialType, id.ClientID, id.Realm},
		shared.CacheKeySeparator,
	)
	return strings.ToLower(key)
}

func (id *IDToken) UnmarshalJSON(b []byte) error {
	type alias IDToken
	return json.Unmarshal(b, (*alias)(id), &id.AdditionalFields)
}

func (id IDToken) MarshalJSON() ([]byte, error) {
	type alias IDToken
	return json.Marshal(alias(id), id.AdditionalFields)
}

// AppMetaData is the JSON representation of application metadata for encoding to storage.
// It records whether an application belongs to a family of applications sharing refresh tokens.
type AppMetaData struct {
	FamilyID    string `json:"family_id,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	Environment string `json:"environment,omitempty"`

	AdditionalFields json.Fields `json:"-"`
}

// NewAppMetaData is the constructor for AppMetaData.
func NewAppMetaData(familyID, clientID, environment string) AppMetaData {
	return AppMetaData{
		FamilyID:    familyID,
		ClientID:    clientID,
		Environment: environment,
	}
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
func (a AppMetaData) Key() string {
	key := strings.Join(
		[]string{"AppMetaData", a.Environment, a.ClientID},
		shared.CacheKeySeparator,
	)
	return strings.ToLower(key)
}

func (a *AppMetaData) UnmarshalJSON(b []byte) error {
	type alias AppMetaData
	return json.Unmarshal(b, (*alias)(a), &a.AdditionalFields)
}

func (a AppMetaData) MarshalJSON() ([]byte, error) {
	type alias AppMetaData
	return json.Marshal(alias(a), a.AdditionalFields)
}

// UserAssertionHash is the partition key of tokens acquired on behalf of a user assertion.
func UserAssertionHash(assertion string) string {
	if assertion == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(assertion))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
