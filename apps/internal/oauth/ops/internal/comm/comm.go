// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package comm provides helpers for communicating with HTTP backends. Failures are
// classified into the types in apps/errors so that callers can decide what to retry.
package comm

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	msalErrors "github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/errors"
)

// Version is sent to the identity provider in the x-client-Ver header.
const Version = "0.9.0"

// defaultTimeout bounds calls whose context carries no deadline.
const defaultTimeout = 30 * time.Second

// HTTPClient represents an HTTP client.
// It's usually an *http.Client from the standard library.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)

	// CloseIdleConnections closes any idle connections in a "keep-alive" state.
	CloseIdleConnections()
}

// Client provides a wrapper to our *http.Client that handles compression and serialization needs.
type Client struct {
	client HTTPClient
}

// New returns a new Client object.
func New(httpClient HTTPClient) *Client {
	if httpClient == nil {
		panic("http.Client cannot == nil")
	}

	return &Client{client: httpClient}
}

// JSONCall connects to the REST endpoint passing the HTTP query values, headers and JSON conversion
// of body in the HTTP body. It automatically handles compression and decompression with gzip. The response is JSON
// unmarshalled into resp. resp must be a pointer to a struct. If the body struct contains a field called
// "AdditionalFields" we use a custom marshal/unmarshal engine.
func (c *Client) JSONCall(ctx context.Context, endpoint string, headers http.Header, qv url.Values, body, resp any) error {
	if qv == nil {
		qv = url.Values{}
	}

	v := reflect.ValueOf(resp)
	if err := c.checkResp(v); err != nil {
		return err
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("could not parse path URL(%s): %w", endpoint, err)
	}
	u.RawQuery = qv.Encode()

	if headers == nil {
		headers = http.Header{}
	}
	addStdHeaders(headers)

	req := &http.Request{Method: http.MethodGet, URL: u, Header: headers}

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("bug: conn.Call(): could not marshal the body object: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewBuffer(data))
		req.ContentLength = int64(len(data))
		req.Method = http.MethodPost
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, resp); err != nil {
		return fmt.Errorf("json decode error: %w\njson message bytes were: %s", err, string(data))
	}
	return nil
}

// URLFormCall is used to make a call where we need to send application/x-www-form-urlencoded data
// to the backend and receive JSON back. qv will be encoded into the request body.
func (c *Client) URLFormCall(ctx context.Context, endpoint string, qv url.Values, resp any) error {
	if len(qv) == 0 {
		return fmt.Errorf("URLFormCall() requires qv to have non-zero length")
	}

	if err := c.checkResp(reflect.ValueOf(resp)); err != nil {
		return err
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("could not parse path URL(%s): %w", endpoint, err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	addStdHeaders(headers)

	enc := qv.Encode()

	req := &http.Request{
		Method:        http.MethodPost,
		URL:           u,
		Header:        headers,
		ContentLength: int64(len(enc)),
		Body:          io.NopCloser(strings.NewReader(enc)),
		GetBody: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(enc)), nil
		},
	}

	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, resp); err != nil {
		return fmt.Errorf("json decode error: %w\nraw message was: %s", err, string(data))
	}
	return nil
}

// do makes the HTTP call to the server and returns the contents of the body.
func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	req = req.WithContext(ctx)

	reply, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportErr(ctx, err)
	}
	defer reply.Body.Close()

	data, err := c.readBody(reply)
	if err != nil {
		return nil, classifyTransportErr(ctx, err)
	}

	if reply.StatusCode >= 200 && reply.StatusCode < 300 {
		return data, nil
	}
	return nil, classifyStatus(req, reply, data)
}

// classifyTransportErr maps a failure that left us without a complete response.
func classifyTransportErr(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &msalErrors.TimeoutError{Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &msalErrors.TimeoutError{Err: err}
	}
	return &msalErrors.TransientNetworkError{Err: err}
}

// oauthErrorBody is the error document defined by RFC 6749 section 5.2, plus
// the members AAD adds.
type oauthErrorBody struct {
	Error         string `json:"error"`
	Description   string `json:"error_description"`
	SubError      string `json:"suberror"`
	CorrelationID string `json:"correlation_id"`
	ErrorCodes    []int  `json:"error_codes"`
}

// classifyStatus maps a non-2xx response. 5xx and 429 are transient. Any other
// status carrying an OAuth error body is a protocol error. The rest are CallErr.
func classifyStatus(req *http.Request, reply *http.Response, data []byte) error {
	var oe oauthErrorBody
	var protocol *msalErrors.ProtocolError
	if json.Unmarshal(data, &oe) == nil && oe.Error != "" {
		protocol = &msalErrors.ProtocolError{
			StatusCode:    reply.StatusCode,
			Code:          oe.Error,
			Description:   oe.Description,
			SubError:      oe.SubError,
			CorrelationID: oe.CorrelationID,
			ErrorCodes:    oe.ErrorCodes,
			Body:          data,
		}
	}
	callErr := msalErrors.CallErr{
		Req:  req,
		Resp: reply,
		Err:  fmt.Errorf("http call(%s)(%s) error: reply status code was %d:\n%s", req.URL.String(), req.Method, reply.StatusCode, sanitize(data)),
	}

	if reply.StatusCode >= http.StatusInternalServerError || reply.StatusCode == http.StatusTooManyRequests {
		var cause error = callErr
		if protocol != nil {
			cause = protocol
		}
		return &msalErrors.TransientNetworkError{StatusCode: reply.StatusCode, Err: cause}
	}
	if protocol != nil {
		return protocol
	}
	return callErr
}

// sanitize truncates long bodies so errors stay readable.
func sanitize(b []byte) []byte {
	const max = 2048
	if len(b) > max {
		return append(b[:max:max], "..."...)
	}
	return b
}

func (c *Client) checkResp(v reflect.Value) error {
	if v.Kind() != reflect.Ptr {
		return fmt.Errorf("bug: resp argument must a *struct, was %T", v.Interface())
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("bug: resp argument must be a *struct, was %T", v.Interface())
	}
	return nil
}

// readBody reads the body out of an *http.Response. It supports gzip encoded responses.
func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "":
		// Do nothing
	case "gzip":
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("could not create gzip reader: %w", err)
		}
		defer gr.Close()
		reader = gr
	default:
		return nil, fmt.Errorf("Content-Encoding(%s) unknown", resp.Header.Get("Content-Encoding"))
	}

	b, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("http response body could not be read: %w", err)
	}
	return b, nil
}

var testID string

// addStdHeaders adds the standard headers we use on all calls.
func addStdHeaders(headers http.Header) http.Header {
	headers.Set("Accept-Encoding", "gzip")
	// So that I can have a static id for tests.
	if testID != "" {
		headers.Set("client-request-id", testID)
		headers.Set("Return-Client-Request-Id", "false")
	} else {
		headers.Set("client-request-id", uuid.New().String())
		headers.Set("Return-Client-Request-Id", "false")
	}
	headers.Set("x-client-sku", "MSAL.Go")
	headers.Set("x-client-os", runtime.GOOS)
	headers.Set("x-client-cpu", runtime.GOARCH)
	headers.Set("x-client-ver", Version)
	return headers
}
