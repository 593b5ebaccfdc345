// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package performance

import (
	"fmt"
	"math/rand/v2"
	"os"
	"testing"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/base/internal/storage"
	internalTime "github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/json/types/time"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/internal/oauth/ops/authority"
)

const (
	authorityURI = "https://login.microsoftonline.com/my_utid"
	clientID     = "fake_client_id"
	tenant       = "my_utid"
)

func authParams(t *testing.T) authority.AuthParams {
	info, err := authority.NewInfoFromAuthorityURI(authorityURI, true)
	if err != nil {
		t.Fatal(err)
	}
	p := authority.NewAuthParams(clientID, info)
	p.AuthorizationType = authority.ATOnBehalfOf
	return p
}

func userAssertion(user int) string {
	return fmt.Sprintf("fake_user_assertion%d", user)
}

// populateCache caches tokens on behalf of users, each for its own scope.
func populateCache(t *testing.T, m *storage.Manager, users, tokens int) {
	params := authParams(t)
	for user := 0; user < users; user++ {
		for token := 0; token < tokens; token++ {
			p := params
			p.UserAssertion = userAssertion(user)
			p.Scopes = []string{fmt.Sprintf("scope%d", token)}
			tr := accesstokens.TokenResponse{
				AccessToken:  fmt.Sprintf("fake_access_token%d", user),
				RefreshToken: "fake_refresh_token",
				ClientInfo:   accesstokens.ClientInfo{UID: fmt.Sprintf("uid%d", user), UTID: tenant},
				ExpiresOn:    internalTime.DurationTime{T: time.Now().Add(time.Hour)},
			}
			tr.ComputeScope(p)
			if _, err := m.Write(p, tr); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func queryCache(t *testing.T, m *storage.Manager, users, tokens int) {
	user := rand.IntN(users)
	q := storage.Query{
		ClientID:          clientID,
		UserAssertionHash: storage.UserAssertionHash(userAssertion(user)),
		Realm:             tenant,
		Environment:       "login.microsoftonline.com",
		Scopes:            []string{fmt.Sprintf("scope%d", rand.IntN(tokens))},
	}
	tr, err := m.Read(q)
	if err != nil {
		t.Fatal(err)
	}
	if want := fmt.Sprintf("fake_access_token%d", user); tr.AccessToken.Secret != want {
		t.Fatalf("got access token %q, want %q", tr.AccessToken.Secret, want)
	}
}

// report logs latency statistics of durations, in microseconds.
func report(t *testing.T, users, tokens int, durations []float64) {
	for _, f := range []struct {
		name string
		fn   func(stats.Float64Data) (float64, error)
	}{
		{"mean", stats.Mean},
		{"median", stats.Median},
		{"standard deviation", stats.StandardDeviation},
		{"min", stats.Min},
		{"max", stats.Max},
		{"p99", func(d stats.Float64Data) (float64, error) { return stats.Percentile(d, 99) }},
	} {
		v, err := f.fn(durations)
		if err != nil {
			t.Fatal(err)
		}
		t.Logf("users: %d, tokens per user: %d, %s: %.2fµs", users, tokens, f.name, v/float64(time.Microsecond))
	}
}

func TestOnBehalfOfCacheReads(t *testing.T) {
	if os.Getenv("CI") != "" || testing.Short() {
		t.Skip("Skipping performance test")
	}
	tests := []struct {
		users  int
		tokens int
	}{
		{1, 1000},
		{1, 10000},
		{100, 100},
		{1000, 10},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%dx%d", test.users, test.tokens), func(t *testing.T) {
			m := storage.New(authority.NewMetadataStore(), storage.DefaultSkew)
			populateCache(t, m, test.users, test.tokens)

			var durations []float64
			for start := time.Now(); time.Since(start) < 5*time.Second; {
				s := time.Now()
				queryCache(t, m, test.users, test.tokens)
				durations = append(durations, float64(time.Since(s)))
			}
			report(t, test.users, test.tokens, durations)
		})
	}
}
