// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package accesstokens

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	internalJSON "github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/json"
	internalTime "github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/json/types/time"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/authority"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/shared"
)

// IDToken consists of all the information used to validate a user.
// https://docs.microsoft.com/azure/active-directory/develop/id-tokens .
type IDToken struct {
	PreferredUsername string `json:"preferred_username,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
	MiddleName        string `json:"middle_name,omitempty"`
	Name              string `json:"name,omitempty"`
	Oid               string `json:"oid,omitempty"`
	TenantID          string `json:"tid,omitempty"`
	Subject           string `json:"sub,omitempty"`
	UPN               string `json:"upn,omitempty"`
	Email             string `json:"email,omitempty"`
	AlternativeID     string `json:"alternative_id,omitempty"`
	Issuer            string `json:"iss,omitempty"`
	Audience          string `json:"aud,omitempty"`
	ExpirationTime    int64  `json:"exp,omitempty"`
	IssuedAt          int64  `json:"iat,omitempty"`
	NotBefore         int64  `json:"nbf,omitempty"`
	RawToken          string `json:"-"`

	AdditionalFields internalJSON.Fields `json:"-"`
}

var null = []byte("null")

// UnmarshalJSON implements json.Unmarshaler. The member is a JWT string whose
// payload is decoded without verifying the signature: the token came straight
// from the token endpoint over TLS.
func (i *IDToken) UnmarshalJSON(b []byte) error {
	if string(b) == string(null) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	tok, err := NewIDToken(raw)
	if err != nil {
		return err
	}
	*i = tok
	return nil
}

// NewIDToken creates an ID token instance from a JWT.
func NewIDToken(jwt string) (IDToken, error) {
	jwtArr := strings.Split(jwt, ".")
	if len(jwtArr) < 2 {
		return IDToken{}, errors.New("IDToken returned from server is invalid")
	}
	jwtDecoded, err := decodeJWT(jwtArr[1])
	if err != nil {
		return IDToken{}, fmt.Errorf("unable to decode JWT token: %w", err)
	}
	type alias IDToken
	idToken := IDToken{}
	if err := internalJSON.Unmarshal(jwtDecoded, (*alias)(&idToken), &idToken.AdditionalFields); err != nil {
		return IDToken{}, fmt.Errorf("unable to unmarshal JWT token: %w", err)
	}
	idToken.RawToken = jwt
	return idToken, nil
}

// IsZero indicates if the IDToken is the zero value.
func (i IDToken) IsZero() bool {
	v := reflect.ValueOf(i)
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.IsZero() {
			switch field.Kind() {
			case reflect.Map, reflect.Slice:
				if field.Len() == 0 {
					continue
				}
			}
			return false
		}
	}
	return true
}

// LocalAccountID extracts an account's local account ID from an ID token.
func (i IDToken) LocalAccountID() string {
	if i.Oid != "" {
		return i.Oid
	}
	return i.Subject
}

// Username is the most specific sign-in name present in the token.
func (i IDToken) Username() string {
	switch {
	case i.PreferredUsername != "":
		return i.PreferredUsername
	case i.UPN != "":
		return i.UPN
	}
	return i.Email
}

// ClientInfo is used to create a Home Account ID for an account.
type ClientInfo struct {
	UID  string `json:"uid"`
	UTID string `json:"utid"`

	AdditionalFields internalJSON.Fields `json:"-"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ClientInfo) UnmarshalJSON(b []byte) error {
	if string(b) == string(null) {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		return nil
	}
	decoded, err := decodeJWT(s)
	if err != nil {
		return fmt.Errorf("client_info could not be base64 decoded: %w", err)
	}
	type alias ClientInfo
	return internalJSON.Unmarshal(decoded, (*alias)(c), &c.AdditionalFields)
}

// Scopes represents scopes in a TokenResponse.
type Scopes struct {
	Slice []string
}

// UnmarshalJSON implements json.Unmarshal.
func (s *Scopes) UnmarshalJSON(b []byte) error {
	if string(b) == string(null) {
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	s.Slice = strings.Fields(str)
	return nil
}

// TokenResponse is the information that is returned from a token endpoint during a token acquisition flow.
type TokenResponse struct {
	authority.OAuthResponseBase

	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`

	FamilyID       string                    `json:"foci"`
	IDToken        IDToken                   `json:"id_token"`
	ClientInfo     ClientInfo                `json:"client_info"`
	RawClientInfo  string                    `json:"-"`
	ExpiresOn      internalTime.DurationTime `json:"expires_in"`
	ExtExpiresOn   internalTime.DurationTime `json:"ext_expires_in"`
	GrantedScopes  Scopes                    `json:"scope"`
	DeclinedScopes []string                  // This is derived

	AdditionalFields internalJSON.Fields `json:"-"`

	scopesComputed bool
}

// UnmarshalJSON implements json.Unmarshaler and keeps the raw client_info.
func (tr *TokenResponse) UnmarshalJSON(b []byte) error {
	type alias TokenResponse
	if err := internalJSON.Unmarshal(b, (*alias)(tr), &tr.AdditionalFields); err != nil {
		return err
	}
	var raw struct {
		ClientInfo string `json:"client_info"`
	}
	if err := json.Unmarshal(b, &raw); err == nil {
		tr.RawClientInfo = raw.ClientInfo
	}
	return nil
}

// ComputeScope computes the final scopes based on what was granted by the server and
// what our AuthParams were from the authority server. Per OAuth spec, if no scopes are returned, the response should be treated as if all scopes were granted
// This behavior can be observed in client assertion flows, but can happen at any time, this check ensures we treat
// those special responses properly Link to spec: https://tools.ietf.org/html/rfc6749#section-3.3
func (tr *TokenResponse) ComputeScope(authParams authority.AuthParams) {
	if len(tr.GrantedScopes.Slice) == 0 {
		tr.GrantedScopes = Scopes{Slice: authParams.Scopes}
	} else {
		tr.DeclinedScopes = findDeclinedScopes(authParams.Scopes, tr.GrantedScopes.Slice)
	}
	tr.scopesComputed = true
}

// Validate validates the TokenResponse has basic valid values. It must be called
// after ComputeScopes() is called.
func (tr *TokenResponse) Validate() error {
	if tr.Error != "" {
		return fmt.Errorf("%s: %s", tr.Error, tr.ErrorDescription)
	}

	if tr.AccessToken == "" {
		return errors.New("response is missing access_token")
	}

	if !tr.scopesComputed {
		return fmt.Errorf("TokenResponse hasn't had ScopesComputed() called")
	}
	return nil
}

// HomeAccountID is uid.utid from client_info when the authority sends it, else the ID token subject.
func (tr *TokenResponse) HomeAccountID() string {
	if tr.ClientInfo.UID != "" && tr.ClientInfo.UTID != "" {
		return fmt.Sprintf("%s.%s", tr.ClientInfo.UID, tr.ClientInfo.UTID)
	}
	return tr.IDToken.Subject
}

// Realm is the tenant the response was issued by, or "" when the response does not say.
func (tr *TokenResponse) Realm() string {
	if tr.IDToken.TenantID != "" {
		return tr.IDToken.TenantID
	}
	return tr.ClientInfo.UTID
}

func findDeclinedScopes(requestedScopes []string, grantedScopes []string) []string {
	declined := []string{}
	grantedMap := map[string]bool{}
	for _, s := range grantedScopes {
		grantedMap[strings.ToLower(s)] = true
	}
	// Comparing the requested scopes with the granted scopes to see if there are any scopes that have been declined.
	for _, r := range requestedScopes {
		if !grantedMap[strings.ToLower(r)] {
			declined = append(declined, r)
		}
	}
	return declined
}

// decodeJWT decodes a JWT and converts it to a byte array representing a JSON object
// JWT has headers and payload base64url encoded without padding
// https://tools.ietf.org/html/rfc7519#section-3 and
// https://tools.ietf.org/html/rfc7515#section-2
func decodeJWT(data string) ([]byte, error) {
	// https://tools.ietf.org/html/rfc7515#appendix-C
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}

// RefreshToken is the JSON representation of a MSAL refresh token for encoding to storage.
type RefreshToken struct {
	HomeAccountID     string `json:"home_account_id,omitempty"`
	Environment       string `json:"environment,omitempty"`
	CredentialType    string `json:"credential_type,omitempty"`
	ClientID          string `json:"client_id,omitempty"`
	FamilyID          string `json:"family_id,omitempty"`
	Secret            string `json:"secret,omitempty"`
	Realm             string `json:"realm,omitempty"`
	Target            string `json:"target,omitempty"`
	UserAssertionHash string `json:"user_assertion_hash,omitempty"`

	AdditionalFields internalJSON.Fields `json:"-"`
}

// NewRefreshToken is the constructor for RefreshToken.
func NewRefreshToken(homeID, env, clientID, refreshToken, familyID string) RefreshToken {
	return RefreshToken{
		HomeAccountID:  homeID,
		Environment:    env,
		CredentialType: "RefreshToken",
		ClientID:       clientID,
		FamilyID:       familyID,
		Secret:         refreshToken,
	}
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
func (rt RefreshToken) Key() string {
	var fourth = rt.FamilyID
	if fourth == "" {
		fourth = rt.ClientID
	}

	key := strings.Join(
		[]string{rt.HomeAccountID, rt.Environment, rt.CredentialType, fourth},
		shared.CacheKeySeparator,
	)
	key = strings.ToLower(key)
	if rt.UserAssertionHash != "" {
		key += shared.CacheKeySeparator + rt.UserAssertionHash
	}
	return key
}

func (rt RefreshToken) GetSecret() string {
	return rt.Secret
}

func (rt *RefreshToken) UnmarshalJSON(b []byte) error {
	type alias RefreshToken
	return internalJSON.Unmarshal(b, (*alias)(rt), &rt.AdditionalFields)
}

func (rt RefreshToken) MarshalJSON() ([]byte, error) {
	type alias RefreshToken
	return internalJSON.Marshal(alias(rt), rt.AdditionalFields)
}
