// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package errors holds the error types returned by the clients. Every type here
// can be extracted with errors.As and unwraps to its underlying cause.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kylelemons/godebug/pretty"
)

var prettyConf = &pretty.Config{IncludeUnexported: false, SkipZeroFields: true, TrackCycles: true}

type verboser interface {
	Verbose() string
}

// Verbose prints the most verbose error that the error message has.
func Verbose(err error) string {
	var v verboser
	if errors.As(err, &v) {
		return v.Verbose()
	}
	return err.Error()
}

// New is equivalent to errors.New().
func New(text string) error {
	return errors.New(text)
}

// CallErr represents an HTTP call error. Has a Verbose() method that allows getting the
// http.Request and Response objects. Implements error.
type CallErr struct {
	Req *http.Request
	// Resp contains response body
	Resp *http.Response
	Err  error
}

// Error implements error.Error().
func (e CallErr) Error() string {
	return e.Err.Error()
}

// Verbose prints a versbose error message with the request or response.
func (e CallErr) Verbose() string {
	if e.Resp != nil {
		resp := *e.Resp
		resp.Request = nil // This brings in a bunch of TLS crap we don't need
		resp.TLS = nil     // Same
		e.Resp = &resp
	}
	return fmt.Sprintf("%s:\nRequest:\n%s\nResponse:\n%s", e.Err, prettyConf.Sprint(e.Req), prettyConf.Sprint(e.Resp))
}

func (e CallErr) Unwrap() error {
	return e.Err
}

// AuthorityValidationError is returned when an authority could not be validated
// by instance discovery. It is never retried.
type AuthorityValidationError struct {
	Authority string
	Err       error
}

func (e *AuthorityValidationError) Error() string {
	return fmt.Sprintf("authority %q could not be validated: %v", e.Authority, e.Err)
}

func (e *AuthorityValidationError) Unwrap() error {
	return e.Err
}

// CacheSerializationError is returned when persisted cache data could not be decoded.
// The in-memory cache is left untouched when this happens.
type CacheSerializationError struct {
	Err error
}

func (e *CacheSerializationError) Error() string {
	return fmt.Sprintf("token cache could not be deserialized: %v", e.Err)
}

func (e *CacheSerializationError) Unwrap() error {
	return e.Err
}

// InteractionRequiredError means no token could be obtained without the user
// taking part, for example because the refresh token was revoked or consent is missing.
type InteractionRequiredError struct {
	Err error
}

func (e *InteractionRequiredError) Error() string {
	if e.Err == nil {
		return "interaction required"
	}
	return "interaction required: " + e.Err.Error()
}

func (e *InteractionRequiredError) Unwrap() error {
	return e.Err
}

// ProtocolError is an error the identity provider returned in an OAuth error body.
type ProtocolError struct {
	StatusCode    int
	Code          string
	Description   string
	SubError      string
	CorrelationID string
	ErrorCodes    []int
	// Body is the raw response body.
	Body []byte
}

func (e *ProtocolError) Error() string {
	b := strings.Builder{}
	fmt.Fprintf(&b, "http status %d: %s", e.StatusCode, e.Code)
	if e.SubError != "" {
		fmt.Fprintf(&b, " (%s)", e.SubError)
	}
	if e.Description != "" {
		b.WriteString(": " + e.Description)
	}
	return b.String()
}

// Verbose includes the raw response body.
func (e *ProtocolError) Verbose() string {
	return fmt.Sprintf("%s\ncorrelation id: %s\nbody:\n%s", e.Error(), e.CorrelationID, e.Body)
}

// TransientNetworkError is a failure that may succeed when retried: a connection
// failure, a 5xx response or throttling.
type TransientNetworkError struct {
	// StatusCode is zero when no response was received.
	StatusCode int
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transient network failure: %v", e.Err)
	}
	return fmt.Sprintf("transient network failure (http status %d): %v", e.StatusCode, e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when a network call did not complete within its deadline.
type TimeoutError struct {
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("request timed out after %s: %v", e.After, e.Err)
	}
	return fmt.Sprintf("request timed out: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// AmbiguousMatchError is returned when a cache lookup without a tenant matched
// tokens from more than one tenant. Callers should specify the tenant.
type AmbiguousMatchError struct {
	Realms []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("cached tokens match more than one tenant (%s); specify a tenant", strings.Join(e.Realms, ", "))
}

// CacheWriteError is returned together with a usable result when the token was
// acquired but could not be stored or persisted.
type CacheWriteError struct {
	Err error
}

func (e *CacheWriteError) Error() string {
	return "token acquired but not cached: " + e.Err.Error()
}

func (e *CacheWriteError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying. Authority validation
// failures are never transient, whatever caused them.
func IsTransient(err error) bool {
	var av *AuthorityValidationError
	if errors.As(err, &av) {
		return false
	}
	var tn *TransientNetworkError
	var to *TimeoutError
	return errors.As(err, &tn) || errors.As(err, &to)
}
