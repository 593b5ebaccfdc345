// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package pop

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Scheme requests tokens bound to a Binder's key and formats them for one HTTP request.
type Scheme struct {
	binder *Binder
	method string
	uri    string
}

// NewScheme returns a Scheme binding tokens to a method+uri request through binder.
func NewScheme(binder *Binder, method, uri string) (*Scheme, error) {
	if binder == nil {
		return nil, fmt.Errorf("pop: binder is nil")
	}
	if method == "" {
		return nil, fmt.Errorf("pop: HTTP method is empty")
	}
	if _, err := RequestURL(uri); err != nil {
		return nil, err
	}
	return &Scheme{binder: binder, method: method, uri: uri}, nil
}

// TokenRequestParams asks the token endpoint for a token bound to the key.
func (s *Scheme) TokenRequestParams() map[string]string {
	cnf, _ := json.Marshal(map[string]string{"kid": s.binder.KeyID()})
	return map[string]string{
		"token_type": TokenType,
		"req_cnf":    base64.RawURLEncoding.EncodeToString(cnf),
	}
}

func (s *Scheme) KeyID() string {
	return s.binder.KeyID()
}

// FormatAccessToken binds accessToken to the Scheme's request.
func (s *Scheme) FormatAccessToken(accessToken string) (string, error) {
	return s.binder.Bind(accessToken, s.method, s.uri)
}

func (s *Scheme) AccessTokenType() string {
	return TokenType
}
