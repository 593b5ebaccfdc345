// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package storage holds all cached token information. This storage can be
// augmented with third-party extensions to provide persistent storage. In that case,
// reads and writes in upper packages will call Marshal() to take the entire in-memory
// representation and write it to storage and Unmarshal() to update the entire in-memory
// storage with what was in the persistent storage. The persistent storage can only be
// accessed in this way because several clients, possibly of different versions,
// can share the same storage and must agree on its format.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	msalErrors "github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/errors"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/json"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/authority"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/shared"
)

// DefaultSkew is how long before its expiry an access token stops being returned.
const DefaultSkew = 5 * time.Minute

const scopeSeparator = " "

// reservedScopes are added to every request by the library and never appear in
// an access token's granted scopes, so they are ignored when matching.
var reservedScopes = map[string]bool{
	"openid":         true,
	"profile":        true,
	"offline_access": true,
}

// TokenResponse mimics a token response that was pulled from the cache.
type TokenResponse struct {
	RefreshToken accesstokens.RefreshToken
	IDToken      IDToken
	AccessToken  AccessToken
	Account      shared.Account
}

// Query selects cached credentials.
type Query struct {
	ClientID string
	// HomeAccountID is empty for tokens acquired by the application itself.
	HomeAccountID string
	// UserAssertionHash, when set, selects on-behalf-of tokens instead of HomeAccountID.
	UserAssertionHash string
	// Realm is the tenant. Empty matches any tenant unless that is ambiguous.
	Realm string
	// Environment is the authority host. Tokens cached under any of its aliases match.
	Environment string
	Scopes      []string
	// TokenType and KeyID select bound tokens. Empty TokenType means bearer.
	TokenType string
	KeyID     string
}

// Manager is an in-memory cache of access tokens, accounts and meta data. This data is
// updated on read/write calls. Unmarshal() replaces all data stored here with whatever
// was given to it on each call. Manager is the only writer of cache entries; its
// mutex serializes every change.
type Manager struct {
	contract   *Contract
	contractMu sync.RWMutex

	store *authority.MetadataStore
	skew  time.Duration
	now   func() time.Time
}

// New is the constructor for Manager. store resolves the aliases of an
// environment; a negative skew is treated as zero.
func New(store *authority.MetadataStore, skew time.Duration) *Manager {
	if store == nil {
		store = authority.NewMetadataStore()
	}
	if skew < 0 {
		skew = 0
	}
	return &Manager{
		contract: NewContract(),
		store:    store,
		skew:     skew,
		now:      time.Now,
	}
}

func (m *Manager) aliases(env string) []string {
	return m.store.Aliases(env)
}

func checkAlias(alias string, aliases []string) bool {
	return slices.Contains(aliases, strings.ToLower(alias))
}

// isMatchingScopes reports whether every requested scope, other than the reserved
// ones, is in target. Comparison ignores case.
func isMatchingScopes(requested []string, target string) bool {
	granted := map[string]bool{}
	for _, s := range strings.Fields(target) {
		granted[strings.ToLower(s)] = true
	}
	for _, s := range requested {
		s = strings.ToLower(s)
		if reservedScopes[s] {
			continue
		}
		if !granted[s] {
			return false
		}
	}
	return true
}

// scopesOverlap reports whether the two targets share a scope.
func scopesOverlap(a, b string) bool {
	set := map[string]bool{}
	for _, s := range strings.Fields(a) {
		set[strings.ToLower(s)] = true
	}
	for _, s := range strings.Fields(b) {
		if set[strings.ToLower(s)] {
			return true
		}
	}
	return false
}

func tokenTypeMatches(stored, wanted string) bool {
	norm := func(s string) string {
		if strings.EqualFold(s, bearer) {
			return ""
		}
		return strings.ToLower(s)
	}
	return norm(stored) == norm(wanted)
}

// owner reports whether an entry with the given home account id and user
// assertion hash belongs to q.
func (q Query) owner(homeAccountID, userAssertionHash string) bool {
	if q.UserAssertionHash != "" {
		return userAssertionHash == q.UserAssertionHash
	}
	return userAssertionHash == "" && strings.EqualFold(homeAccountID, q.HomeAccountID)
}

// Find returns the unexpired access tokens satisfying q. When q has no realm and
// the matches come from more than one realm, Find returns an *errors.AmbiguousMatchError.
func (m *Manager) Find(q Query) ([]AccessToken, error) {
	envAliases := m.aliases(q.Environment)
	now := m.now()

	m.contractMu.RLock()
	defer m.contractMu.RUnlock()

	var found []AccessToken
	realms := map[string]bool{}
	for _, at := range m.contract.AccessTokens {
		if !strings.EqualFold(at.ClientID, q.ClientID) || !q.owner(at.HomeAccountID, at.UserAssertionHash) {
			continue
		}
		if q.Realm != "" && !strings.EqualFold(at.Realm, q.Realm) {
			continue
		}
		if !tokenTypeMatches(at.TokenType, q.TokenType) || at.KeyID != q.KeyID {
			continue
		}
		if !checkAlias(at.Environment, envAliases) || !isMatchingScopes(q.Scopes, at.Scopes) {
			continue
		}
		if !at.Valid(now, m.skew) {
			continue
		}
		found = append(found, at)
		realms[strings.ToLower(at.Realm)] = true
	}

	if q.Realm == "" && len(realms) > 1 {
		names := make([]string, 0, len(realms))
		for r := range realms {
			names = append(names, r)
		}
		sort.Strings(names)
		return nil, &msalErrors.AmbiguousMatchError{Realms: names}
	}
	// Newest first, so callers can take the first entry.
	sort.Slice(found, func(i, j int) bool {
		return found[i].CachedAt.T.After(found[j].CachedAt.T)
	})
	return found, nil
}

// Read reads everything cached for q. Missing pieces are left zero: an absent
// access token means the caller has to refresh, an absent refresh token means
// it has to ask the identity provider again. The only error is an ambiguous match.
func (m *Manager) Read(q Query) (TokenResponse, error) {
	found, err := m.Find(q)
	if err != nil {
		return TokenResponse{}, err
	}

	var tr TokenResponse
	realm := q.Realm
	if len(found) > 0 {
		tr.AccessToken = found[0]
		if realm == "" {
			realm = found[0].Realm
		}
	}

	envAliases := m.aliases(q.Environment)
	familyID := m.readAppMetaData(envAliases, q.ClientID).FamilyID
	tr.RefreshToken = m.readRefreshToken(q, envAliases, familyID)

	if q.HomeAccountID != "" {
		tr.IDToken = m.readIDToken(q.HomeAccountID, envAliases, realm, q.ClientID)
		tr.Account = m.readAccount(q.HomeAccountID, envAliases, realm)
	}
	return tr, nil
}

// Write writes a token response to the cache and returns the account information
// the token is stored with. Every entry is built and checked before any is
// stored, and all of them are stored under one lock.
func (m *Manager) Write(authParameters authority.AuthParams, tokenResponse accesstokens.TokenResponse) (shared.Account, error) {
	if err := tokenResponse.Validate(); err != nil {
		return shared.Account{}, fmt.Errorf("token response can't be cached: %w", err)
	}

	homeAccountID := tokenResponse.HomeAccountID()
	environment := m.store.PreferredCache(authParameters.AuthorityInfo.Host)
	realm := authParameters.AuthorityInfo.Tenant
	if r := tokenResponse.Realm(); r != "" && authParameters.AuthorityInfo.AuthorityType == authority.MultiTenant {
		realm = r
	}
	clientID := authParameters.ClientID
	target := strings.Join(tokenResponse.GrantedScopes.Slice, scopeSeparator)
	assertionHash := UserAssertionHash(authParameters.UserAssertion)

	keyID := ""
	if authParameters.AuthnScheme != nil {
		keyID = authParameters.AuthnScheme.KeyID()
	}

	accessToken := NewAccessToken(
		homeAccountID,
		environment,
		realm,
		clientID,
		m.now(),
		tokenResponse.ExpiresOn.T,
		tokenResponse.ExtExpiresOn.T,
		target,
		tokenResponse.AccessToken,
		tokenResponse.TokenType,
		keyID,
	)
	accessToken.UserAssertionHash = assertionHash

	var refreshToken *accesstokens.RefreshToken
	if tokenResponse.RefreshToken != "" {
		rt := accesstokens.NewRefreshToken(homeAccountID, environment, clientID, tokenResponse.RefreshToken, tokenResponse.FamilyID)
		rt.UserAssertionHash = assertionHash
		refreshToken = &rt
	}

	var (
		idToken *IDToken
		account shared.Account
	)
	if !tokenResponse.IDToken.IsZero() {
		idt := NewIDToken(homeAccountID, environment, realm, clientID, tokenResponse.IDToken.RawToken)
		idToken = &idt

		account = shared.NewAccount(
			homeAccountID,
			environment,
			realm,
			tokenResponse.IDToken.LocalAccountID(),
			authParameters.AuthorityInfo.AccountType(),
			tokenResponse.IDToken.Username(),
		)
		account.GivenName = tokenResponse.IDToken.GivenName
		account.FamilyName = tokenResponse.IDToken.FamilyName
		account.MiddleName = tokenResponse.IDToken.MiddleName
		account.Name = tokenResponse.IDToken.Name
		account.AlternativeID = tokenResponse.IDToken.AlternativeID
		account.RawClientInfo = tokenResponse.RawClientInfo
	}
	appMetaData := NewAppMetaData(tokenResponse.FamilyID, clientID, environment)

	envAliases := m.aliases(environment)

	m.contractMu.Lock()
	defer m.contractMu.Unlock()

	// A new grant supersedes any token of the same kind whose scopes it overlaps.
	for key, at := range m.contract.AccessTokens {
		if at.HomeAccountID == accessToken.HomeAccountID &&
			at.UserAssertionHash == accessToken.UserAssertionHash &&
			strings.EqualFold(at.Realm, realm) &&
			strings.EqualFold(at.ClientID, clientID) &&
			tokenTypeMatches(at.TokenType, accessToken.TokenType) &&
			at.KeyID == accessToken.KeyID &&
			checkAlias(at.Environment, envAliases) &&
			scopesOverlap(at.Scopes, target) {
			delete(m.contract.AccessTokens, key)
		}
	}
	m.contract.AccessTokens[accessToken.Key()] = accessToken

	if refreshToken != nil {
		m.contract.RefreshTokens[refreshToken.Key()] = *refreshToken
	}
	if idToken != nil {
		m.contract.IDTokens[idToken.Key()] = *idToken
	}
	if !account.IsZero() {
		if prev, ok := m.contract.Accounts[account.Key()]; ok {
			account.AdditionalFields = prev.AdditionalFields
		}
		m.contract.Accounts[account.Key()] = account
	}
	m.contract.AppMetaData[appMetaData.Key()] = appMetaData
	return account, nil
}

func (m *Manager) readRefreshToken(q Query, envAliases []string, familyID string) accesstokens.RefreshToken {
	byFamily := func(rt accesstokens.RefreshToken) bool {
		return q.owner(rt.HomeAccountID, rt.UserAssertionHash) && checkAlias(rt.Environment, envAliases) && rt.FamilyID != ""
	}
	byClient := func(rt accesstokens.RefreshToken) bool {
		return q.owner(rt.HomeAccountID, rt.UserAssertionHash) && checkAlias(rt.Environment, envAliases) && strings.EqualFold(rt.ClientID, q.ClientID)
	}

	// An application known to be outside any family only uses its own refresh
	// tokens. One in a family, or not known yet, tries the family token first.
	matchers := []func(rt accesstokens.RefreshToken) bool{byFamily, byClient}
	if familyID == "" && m.knownNonFamily(envAliases, q.ClientID) {
		matchers = matchers[1:]
	}

	m.contractMu.RLock()
	defer m.contractMu.RUnlock()
	for _, matcher := range matchers {
		for _, rt := range m.contract.RefreshTokens {
			if matcher(rt) {
				return rt
			}
		}
	}
	return accesstokens.RefreshToken{}
}

func (m *Manager) knownNonFamily(envAliases []string, clientID string) bool {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()
	for _, app := range m.contract.AppMetaData {
		if checkAlias(app.Environment, envAliases) && strings.EqualFold(app.ClientID, clientID) {
			return app.FamilyID == ""
		}
	}
	return false
}

func (m *Manager) readIDToken(homeID string, envAliases []string, realm, clientID string) IDToken {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()
	for _, idt := range m.contract.IDTokens {
		if strings.EqualFold(idt.HomeAccountID, homeID) && (realm == "" || strings.EqualFold(idt.Realm, realm)) && strings.EqualFold(idt.ClientID, clientID) {
			if checkAlias(idt.Environment, envAliases) {
				return idt
			}
		}
	}
	return IDToken{}
}

func (m *Manager) readAppMetaData(envAliases []string, clientID string) AppMetaData {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()
	for _, app := range m.contract.AppMetaData {
		if checkAlias(app.Environment, envAliases) && strings.EqualFold(app.ClientID, clientID) {
			return app
		}
	}
	return AppMetaData{}
}

// AllAccounts returns every cached account, ordered by key.
func (m *Manager) AllAccounts() []shared.Account {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()

	keys := make([]string, 0, len(m.contract.Accounts))
	for k := range m.contract.Accounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	accounts := make([]shared.Account, 0, len(keys))
	for _, k := range keys {
		accounts = append(accounts, m.contract.Accounts[k])
	}
	return accounts
}

// Account returns the account with the given home account id, or the zero Account.
func (m *Manager) Account(homeAccountID string) shared.Account {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()

	for _, v := range m.contract.Accounts {
		if strings.EqualFold(v.HomeAccountID, homeAccountID) {
			return v
		}
	}
	return shared.Account{}
}

func (m *Manager) readAccount(homeAccountID string, envAliases []string, realm string) shared.Account {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()

	// Accounts is a map only because the serialized format says so. Keys are made
	// with one environment while any alias matches here, so a scan is simpler
	// than hashing every alias, and the number of accounts is small.
	for _, acc := range m.contract.Accounts {
		if strings.EqualFold(acc.HomeAccountID, homeAccountID) && checkAlias(acc.Environment, envAliases) && (realm == "" || strings.EqualFold(acc.Realm, realm)) {
			return acc
		}
	}
	return shared.Account{}
}

// RemoveAccount removes the account and every credential of homeAccountID cached
// in one of envAliases. Removing an account that isn't cached does nothing.
func (m *Manager) RemoveAccount(homeAccountID string, envAliases []string) {
	envAliases = lowerAll(envAliases)

	m.contractMu.Lock()
	defer m.contractMu.Unlock()

	for key, at := range m.contract.AccessTokens {
		if strings.EqualFold(at.HomeAccountID, homeAccountID) && checkAlias(at.Environment, envAliases) {
			delete(m.contract.AccessTokens, key)
		}
	}
	for key, rt := range m.contract.RefreshTokens {
		if strings.EqualFold(rt.HomeAccountID, homeAccountID) && checkAlias(rt.Environment, envAliases) {
			delete(m.contract.RefreshTokens, key)
		}
	}
	for key, idt := range m.contract.IDTokens {
		if strings.EqualFold(idt.HomeAccountID, homeAccountID) && checkAlias(idt.Environment, envAliases) {
			delete(m.contract.IDTokens, key)
		}
	}
	for key, acc := range m.contract.Accounts {
		if strings.EqualFold(acc.HomeAccountID, homeAccountID) && checkAlias(acc.Environment, envAliases) {
			delete(m.contract.Accounts, key)
		}
	}
}

// RemoveRefreshToken removes rt. When it was the last refresh token of its
// account, the account is removed too.
func (m *Manager) RemoveRefreshToken(rt accesstokens.RefreshToken) {
	envAliases := m.aliases(rt.Environment)

	m.contractMu.Lock()
	defer m.contractMu.Unlock()

	delete(m.contract.RefreshTokens, rt.Key())
	if rt.HomeAccountID == "" {
		return
	}
	for _, other := range m.contract.RefreshTokens {
		if strings.EqualFold(other.HomeAccountID, rt.HomeAccountID) && checkAlias(other.Environment, envAliases) {
			return
		}
	}
	for key, acc := range m.contract.Accounts {
		if strings.EqualFold(acc.HomeAccountID, rt.HomeAccountID) && checkAlias(acc.Environment, envAliases) {
			delete(m.contract.Accounts, key)
		}
	}
}

// update updates the internal cache object. This is for use in tests, other uses are not
// supported.
func (m *Manager) update(cache *Contract) {
	m.contractMu.Lock()
	defer m.contractMu.Unlock()
	cache.init()
	m.contract = cache
}

// Marshal implements cache.Marshaler.
func (m *Manager) Marshal() ([]byte, error) {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()

	c := m.contract.copy()
	c.Version = CurrentVersion
	return json.Marshal(c, nil)
}

// Unmarshal implements cache.Unmarshaler. It replaces the whole cache with the
// content of b. Data written in the previous format is converted. When b can't
// be decoded, Unmarshal returns an *errors.CacheSerializationError and the cache
// is left as it was.
func (m *Manager) Unmarshal(b []byte) error {
	contract, err := decode(b)
	if err != nil {
		return &msalErrors.CacheSerializationError{Err: err}
	}

	m.contractMu.Lock()
	defer m.contractMu.Unlock()
	m.contract = contract
	return nil
}

func decode(b []byte) (*Contract, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, errors.New("cache data is empty")
	}
	if !gjson.ValidBytes(b) {
		return nil, errors.New("cache data isn't valid JSON")
	}
	root := gjson.ParseBytes(b)
	if !root.IsObject() {
		return nil, fmt.Errorf("cache data must be a JSON object, got %s", root.Type)
	}

	version := root.Get("Version")
	if !version.Exists() {
		return importLegacy(b)
	}
	if version.Type != gjson.String {
		return nil, fmt.Errorf("cache Version must be a string, got %s", version.Type)
	}

	contract := NewContract()
	if err := json.Unmarshal(b, contract, nil); err != nil {
		return nil, err
	}
	contract.init()
	return contract, nil
}

func lowerAll(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = strings.ToLower(v)
	}
	return out
}
