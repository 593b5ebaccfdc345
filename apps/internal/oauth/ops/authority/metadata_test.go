// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package authority

import (
	"slices"
	"sync"
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func TestMetadataStoreSeeded(t *testing.T) {
	s := NewMetadataStore()
	got := s.Aliases("LOGIN.windows.net")
	slices.Sort(got)
	want := []string{"login.microsoft.com", "login.microsoftonline.com", "login.windows.net", "sts.windows.net"}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("TestMetadataStoreSeeded: -want/+got:\n%s", diff)
	}
	if p := s.PreferredCache("login.microsoftonline.com"); p != "login.windows.net" {
		t.Errorf("TestMetadataStoreSeeded: got preferred cache %s, want login.windows.net", p)
	}
}

func TestMetadataStoreTrusted(t *testing.T) {
	s := NewMetadataStore("Custom.Example.com")
	for host, want := range map[string]bool{
		"login.microsoftonline.com": true,
		"custom.example.com":        true,
		"evil.example.com":          false,
	} {
		if got := s.Trusted(host); got != want {
			t.Errorf("Trusted(%s): got %v, want %v", host, got, want)
		}
	}
}

func TestMetadataStoreMerge(t *testing.T) {
	resp := InstanceDiscoveryResponse{
		TenantDiscoveryEndpoint: "https://a.example/tenant/v2.0/.well-known/openid-configuration",
		Metadata: []InstanceDiscoveryMetadata{
			{PreferredNetwork: "a.example", PreferredCache: "b.example", Aliases: []string{"A.example", "b.example"}},
		},
	}

	tests := []struct {
		desc string
		host string
		want InstanceDiscoveryMetadata
	}{
		{
			desc: "host is an alias",
			host: "b.example",
			want: InstanceDiscoveryMetadata{
				PreferredNetwork:        "a.example",
				PreferredCache:          "b.example",
				Aliases:                 []string{"a.example", "b.example"},
				TenantDiscoveryEndpoint: resp.TenantDiscoveryEndpoint,
			},
		},
		{
			desc: "host not covered gets a self entry",
			host: "c.example",
			want: InstanceDiscoveryMetadata{
				PreferredNetwork:        "c.example",
				PreferredCache:          "c.example",
				Aliases:                 []string{"c.example"},
				TenantDiscoveryEndpoint: resp.TenantDiscoveryEndpoint,
			},
		},
	}
	for _, test := range tests {
		s := NewMetadataStore()
		got := s.Merge(test.host, resp)
		if diff := pretty.Compare(test.want, got); diff != "" {
			t.Errorf("TestMetadataStoreMerge(%s): -want/+got:\n%s", test.desc, diff)
		}
		for _, alias := range test.want.Aliases {
			stored, ok := s.Lookup(alias)
			if !ok {
				t.Errorf("TestMetadataStoreMerge(%s): no entry stored for alias %s", test.desc, alias)
				continue
			}
			if diff := pretty.Compare(test.want, stored); diff != "" {
				t.Errorf("TestMetadataStoreMerge(%s): alias %s: -want/+got:\n%s", test.desc, alias, diff)
			}
		}
	}
}

func TestMetadataStoreInvalidate(t *testing.T) {
	s := NewMetadataStore()
	s.Invalidate("login.windows.net")
	if _, ok := s.Lookup("login.windows.net"); ok {
		t.Error("TestMetadataStoreInvalidate: entry still present")
	}
	if _, ok := s.Lookup("login.microsoftonline.com"); !ok {
		t.Error("TestMetadataStoreInvalidate: sibling alias entry was removed")
	}
	if got := s.Aliases("login.windows.net"); !slices.Equal(got, []string{"login.windows.net"}) {
		t.Errorf("TestMetadataStoreInvalidate: got aliases %v", got)
	}
}

func TestMetadataStoreConcurrency(t *testing.T) {
	s := NewMetadataStore()
	resp := InstanceDiscoveryResponse{
		TenantDiscoveryEndpoint: "https://x.example/t/v2.0/.well-known/openid-configuration",
		Metadata:                []InstanceDiscoveryMetadata{{Aliases: []string{"x.example"}}},
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Merge("x.example", resp)
		}()
		go func() {
			defer wg.Done()
			s.Aliases("x.example")
			s.Trusted("x.example")
		}()
	}
	wg.Wait()
	if _, ok := s.Lookup("x.example"); !ok {
		t.Error("TestMetadataStoreConcurrency: entry missing")
	}
}
