// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package pop binds access tokens to HTTP requests (proof of possession).

A Binder holds an RSA key pair. Token requests made through its Scheme ask the
identity provider for a token bound to the key, and Bind produces, for each
request the token is used on, a JWS signed with the private key whose claims
name the HTTP method, the URL and a hash of the access token. The resource
server verifies the signature with the public key carried in the "cnf" claim.

The private key never leaves the Binder.
*/
package pop

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType is the token_type requested from, and returned by, the token endpoint for bound tokens.
const TokenType = "pop"

const keyBits = 2048

// Binder signs request bindings with one key pair. It is safe for concurrent use.
type Binder struct {
	signer crypto.Signer
	// jwk is the public key as it appears in the "cnf" claim.
	jwk jose.JSONWebKey
	// kid is the RFC 7638 thumbprint of the public key.
	kid    string
	method jwt.SigningMethod
	now    func() time.Time
}

// NewBinder returns a Binder signing with a freshly generated key pair. The key
// lives as long as the Binder.
func NewBinder() (*Binder, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("pop: couldn't generate a key: %w", err)
	}
	return NewBinderFromSigner(key)
}

// NewBinderFromSigner returns a Binder signing with signer, which must hold an RSA key.
// Use it to keep the binding key across process restarts or in a hardware module.
func NewBinderFromSigner(signer crypto.Signer) (*Binder, error) {
	if signer == nil {
		return nil, errors.New("pop: signer is nil")
	}
	pub, ok := signer.Public().(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("pop: signer holds a %T, only RSA keys are supported", signer.Public())
	}
	jwk := jose.JSONWebKey{Key: pub, Algorithm: string(jose.RS256), Use: "sig"}
	thumb, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("pop: couldn't compute the key thumbprint: %w", err)
	}
	kid := base64.RawURLEncoding.EncodeToString(thumb)
	jwk.KeyID = kid
	return &Binder{
		signer: signer,
		jwk:    jwk,
		kid:    kid,
		method: signingMethod{},
		now:    time.Now,
	}, nil
}

// KeyID is the thumbprint identifying the Binder's public key.
func (b *Binder) KeyID() string {
	return b.kid
}

// PublicKey returns the public half of the Binder's key.
func (b *Binder) PublicKey() crypto.PublicKey {
	return b.signer.Public()
}

// Claims are the claims of a binding assertion.
type Claims struct {
	AccessToken string       `json:"at"`
	TimeStamp   int64        `json:"ts"`
	Nonce       string       `json:"nonce"`
	Method      string       `json:"m"`
	URL         string       `json:"u"`
	TokenHash   string       `json:"ath"`
	Confirm     Confirmation `json:"cnf"`
}

// Confirmation carries the public key the assertion is verified with.
type Confirmation struct {
	JWK json.RawMessage `json:"jwk"`
}

// jwt.Claims is implemented so the claims can be signed and parsed by jwt.
// Validation of the request binding is left to the resource server.

func (Claims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (Claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (Claims) GetIssuer() (string, error)                   { return "", nil }
func (Claims) GetSubject() (string, error)                  { return "", nil }
func (Claims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

func (c Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.TimeStamp, 0)), nil
}

// Bind returns a signed assertion binding accessToken to an HTTP request.
func (b *Binder) Bind(accessToken, method, uri string) (string, error) {
	if accessToken == "" {
		return "", errors.New("pop: access token is empty")
	}
	if method == "" {
		return "", errors.New("pop: HTTP method is empty")
	}
	u, err := RequestURL(uri)
	if err != nil {
		return "", err
	}
	jwk, err := json.Marshal(b.jwk.Public())
	if err != nil {
		return "", fmt.Errorf("pop: couldn't encode the public key: %w", err)
	}

	claims := Claims{
		AccessToken: accessToken,
		TimeStamp:   b.now().Unix(),
		Nonce:       uuid.New().String(),
		Method:      strings.ToUpper(method),
		URL:         u,
		TokenHash:   TokenHash(accessToken),
		Confirm:     Confirmation{JWK: jwk},
	}
	token := jwt.NewWithClaims(b.method, claims)
	token.Header["typ"] = TokenType
	token.Header["kid"] = b.kid
	signed, err := token.SignedString(b.signer)
	if err != nil {
		return "", fmt.Errorf("pop: couldn't sign the assertion: %w", err)
	}
	return signed, nil
}

// RequestURL is the form of uri that assertions carry: scheme, host, path and
// query. The fragment and any user information are dropped.
func RequestURL(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("pop: invalid request URI: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("pop: request URI %q must be absolute", uri)
	}
	r := url.URL{
		Scheme:   strings.ToLower(u.Scheme),
		Host:     strings.ToLower(u.Host),
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: u.RawQuery,
	}
	return r.String(), nil
}

// TokenHash is the base64url encoded SHA-256 of an access token, the "ath" claim.
func TokenHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// signingMethod is RS256 computed by a crypto.Signer, so the private key doesn't
// have to be an *rsa.PrivateKey the process can read.
type signingMethod struct{}

func (signingMethod) Alg() string {
	return jwt.SigningMethodRS256.Alg()
}

func (signingMethod) Sign(signingString string, key any) ([]byte, error) {
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	sum := sha256.Sum256([]byte(signingString))
	return signer.Sign(rand.Reader, sum[:], crypto.SHA256)
}

func (signingMethod) Verify(signingString string, sig []byte, key any) error {
	return jwt.SigningMethodRS256.Verify(signingString, sig, key)
}
