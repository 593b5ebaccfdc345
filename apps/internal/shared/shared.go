// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package shared

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/json"
)

const (
	// CacheKeySeparator is used in creating the keys of the cache.
	CacheKeySeparator = "-"
)

// Authority types recorded on cached accounts.
const (
	AccountTypeMSSTS   = "MSSTS"
	AccountTypeADFS    = "ADFS"
	AccountTypeGeneric = "Generic"
)

// Account represents a user signed in to an authority.
type Account struct {
	HomeAccountID     string `json:"home_account_id,omitempty"`
	Environment       string `json:"environment,omitempty"`
	Realm             string `json:"realm,omitempty"`
	LocalAccountID    string `json:"local_account_id,omitempty"`
	AuthorityType     string `json:"authority_type,omitempty"`
	PreferredUsername string `json:"username,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
	MiddleName        string `json:"middle_name,omitempty"`
	Name              string `json:"name,omitempty"`
	AlternativeID     string `json:"alternative_account_id,omitempty"`
	RawClientInfo     string `json:"client_info,omitempty"`

	AdditionalFields json.Fields `json:"-"`
}

// NewAccount creates an account.
func NewAccount(homeAccountID, env, realm, localAccountID, authorityType, username string) Account {
	return Account{
		HomeAccountID:     homeAccountID,
		Environment:       env,
		Realm:             realm,
		LocalAccountID:    localAccountID,
		AuthorityType:     authorityType,
		PreferredUsername: username,
	}
}

// Key creates the key for storing accounts in the cache.
func (acc Account) Key() string {
	key := strings.Join([]string{acc.HomeAccountID, acc.Environment, acc.Realm}, CacheKeySeparator)
	return strings.ToLower(key)
}

// IsZero checks the zero value of account.
func (acc Account) IsZero() bool {
	v := reflect.ValueOf(acc)
	for i := 0; i < v.NumField(); i++ {
		if !v.Field(i).IsZero() {
			return false
		}
	}
	return true
}

func (acc *Account) UnmarshalJSON(b []byte) error {
	type alias Account
	return json.Unmarshal(b, (*alias)(acc), &acc.AdditionalFields)
}

func (acc Account) MarshalJSON() ([]byte, error) {
	type alias Account
	return json.Marshal(alias(acc), acc.AdditionalFields)
}

// DefaultClient is our default shared HTTP client.
var DefaultClient = &http.Client{}
