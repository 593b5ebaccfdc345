// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package local contains a local HTTP server used with interactive authentication.
// The server receives the identity provider's redirect and hands it back to the
// token acquisition, which checks the state and redeems the code.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var okPage = []byte(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8" />
    <title>Authentication Complete</title>
</head>
<body>
    <p>Authentication complete. You can return to the application. Feel free to close this browser tab.</p>
</body>
</html>
`)

var failPage = []byte(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8" />
    <title>Authentication Failed</title>
</head>
<body>
	<p>Authentication failed. You can return to the application. Feel free to close this browser tab.</p>
	<p>Error details: error {{.Code}}, error description: {{.Err}}</p>
</body>
</html>
`)

var (
	codeVar = []byte("{{.Code}}")
	errVar  = []byte("{{.Err}}")
)

// Result is what the redirect delivered.
type Result struct {
	// RedirectURI is the URI the browser was redirected to, including its query.
	RedirectURI string
	// Err is set when no redirect was received.
	Err error
}

// Server receives one redirect on localhost.
type Server struct {
	// Addr is the redirect URI the server listens on.
	Addr string
	// Open sends the user's browser to a URL. Authenticate fails without it.
	Open func(url string) error

	resultCh    chan Result
	s           *http.Server
	successPage []byte
	errorPage   []byte
}

// New starts a server on port, or on a free port when port is 0. Empty pages select the defaults.
func New(port int, successPage, errorPage []byte) (*Server, error) {
	l, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("couldn't listen for the redirect: %w", err)
	}
	tcpAddr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		l.Close()
		return nil, fmt.Errorf("unexpected listener address %s", l.Addr())
	}

	if len(successPage) == 0 {
		successPage = okPage
	}
	if len(errorPage) == 0 {
		errorPage = failPage
	}

	serv := &Server{
		Addr:        fmt.Sprintf("http://localhost:%d", tcpAddr.Port),
		s:           &http.Server{ReadHeaderTimeout: time.Second},
		resultCh:    make(chan Result, 1),
		successPage: successPage,
		errorPage:   errorPage,
	}
	serv.s.Handler = http.HandlerFunc(serv.handler)
	go func() {
		if err := serv.s.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serv.putResult(Result{Err: err})
		}
	}()
	return serv, nil
}

// Authenticate opens authURL in the browser and waits for the redirect. The
// server is shut down before Authenticate returns.
func (s *Server) Authenticate(ctx context.Context, authURL string) (string, error) {
	defer s.Shutdown()
	if s.Open == nil {
		return "", errors.New("no way to open the authorization URL")
	}
	if err := s.Open(authURL); err != nil {
		return "", fmt.Errorf("couldn't open the authorization URL: %w", err)
	}
	res := s.Result(ctx)
	return res.RedirectURI, res.Err
}

// Result gets the result of the redirect operation. ctx deadline will be honored.
func (s *Server) Result(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	case r := <-s.resultCh:
		return r
	}
}

// Shutdown shuts down the server.
func (s *Server) Shutdown() {
	// Note: You might get clever and think you can do this in handler() as a defer, you can't.
	_ = s.s.Shutdown(context.Background())
}

func (s *Server) putResult(r Result) {
	select {
	case s.resultCh <- r:
	default:
	}
}

func (s *Server) handler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirect := url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path, RawQuery: r.URL.RawQuery}

	if headerErr := q.Get("error"); headerErr != "" {
		// escaped against XSS
		page := bytes.ReplaceAll(s.errorPage, codeVar, []byte(html.EscapeString(headerErr)))
		page = bytes.ReplaceAll(page, errVar, []byte(html.EscapeString(q.Get("error_description"))))
		_, _ = w.Write(page)
		s.putResult(Result{RedirectURI: redirect.String()})
		return
	}
	if q.Get("code") == "" {
		// Not a redirect from the identity provider, e.g. a favicon request. Keep waiting.
		http.Error(w, "authorization code missing in query string", http.StatusBadRequest)
		return
	}
	_, _ = w.Write(s.successPage)
	s.putResult(Result{RedirectURI: redirect.String()})
}
