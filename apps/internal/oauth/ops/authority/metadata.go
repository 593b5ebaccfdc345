// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package authority

import (
	"slices"
	"strings"
	"sync"
)

// knownMetadata is the alias topology of the public clouds. It lets tokens
// cached under one alias be found through another without a discovery call.
var knownMetadata = []InstanceDiscoveryMetadata{
	{
		PreferredNetwork: "login.microsoftonline.com",
		PreferredCache:   "login.windows.net",
		Aliases:          []string{"login.microsoftonline.com", "login.windows.net", "login.microsoft.com", "sts.windows.net"},
	},
	{
		PreferredNetwork: "login.partner.microsoftonline.cn",
		PreferredCache:   "login.partner.microsoftonline.cn",
		Aliases:          []string{"login.partner.microsoftonline.cn", "login.chinacloudapi.cn"},
	},
	{
		PreferredNetwork: "login.microsoftonline.de",
		PreferredCache:   "login.microsoftonline.de",
		Aliases:          []string{"login.microsoftonline.de"},
	},
	{
		PreferredNetwork: "login.microsoftonline.us",
		PreferredCache:   "login.microsoftonline.us",
		Aliases:          []string{"login.microsoftonline.us", "login.usgovcloudapi.net"},
	},
	{
		PreferredNetwork: "login-us.microsoftonline.com",
		PreferredCache:   "login-us.microsoftonline.com",
		Aliases:          []string{"login-us.microsoftonline.com"},
	},
}

// MetadataStore holds instance discovery results keyed by every alias host.
// Entries never expire; Invalidate drops one. A MetadataStore is safe for
// concurrent use and is meant to be shared by everything talking to the same clouds.
type MetadataStore struct {
	mu      sync.RWMutex
	trusted map[string]bool
	entries map[string]InstanceDiscoveryMetadata
}

// NewMetadataStore returns a store seeded with the public cloud topology.
// knownHosts are treated as trusted: authorities on them skip instance discovery.
func NewMetadataStore(knownHosts ...string) *MetadataStore {
	s := &MetadataStore{
		trusted: map[string]bool{},
		entries: map[string]InstanceDiscoveryMetadata{},
	}
	for _, h := range knownHosts {
		s.trusted[strings.ToLower(h)] = true
	}
	s.seed()
	return s
}

func (s *MetadataStore) seed() {
	for _, md := range knownMetadata {
		for _, alias := range md.Aliases {
			s.entries[alias] = md
		}
	}
}

// Trusted reports whether host is a well known AAD host or one the caller declared known.
func (s *MetadataStore) Trusted(host string) bool {
	host = strings.ToLower(host)
	if TrustedHost(host) {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trusted[host]
}

// Lookup returns the metadata stored for host, if any.
func (s *MetadataStore) Lookup(host string) (InstanceDiscoveryMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.entries[strings.ToLower(host)]
	return md, ok
}

// Merge stores every metadata entry of resp under each of its aliases. When no
// entry covers host, a self-referencing entry is stored for it so it is not rediscovered.
func (s *MetadataStore) Merge(host string, resp InstanceDiscoveryResponse) InstanceDiscoveryMetadata {
	host = strings.ToLower(host)
	s.mu.Lock()
	defer s.mu.Unlock()

	var self *InstanceDiscoveryMetadata
	for _, md := range resp.Metadata {
		md.TenantDiscoveryEndpoint = resp.TenantDiscoveryEndpoint
		md.Aliases = lower(md.Aliases)
		for _, alias := range md.Aliases {
			s.entries[alias] = md
		}
		if slices.Contains(md.Aliases, host) {
			self = &md
		}
	}
	if self == nil {
		self = &InstanceDiscoveryMetadata{
			PreferredNetwork:        host,
			PreferredCache:          host,
			Aliases:                 []string{host},
			TenantDiscoveryEndpoint: resp.TenantDiscoveryEndpoint,
		}
		s.entries[host] = *self
	}
	return *self
}

// Invalidate removes the entry for host. Other aliases keep theirs.
func (s *MetadataStore) Invalidate(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, strings.ToLower(host))
}

// Aliases returns every host equivalent to host, including host itself.
func (s *MetadataStore) Aliases(host string) []string {
	host = strings.ToLower(host)
	md, ok := s.Lookup(host)
	if !ok {
		return []string{host}
	}
	aliases := slices.Clone(md.Aliases)
	if !slices.Contains(aliases, host) {
		aliases = append(aliases, host)
	}
	return aliases
}

// PreferredCache is the environment new cache entries for host are written under.
func (s *MetadataStore) PreferredCache(host string) string {
	if md, ok := s.Lookup(host); ok && md.PreferredCache != "" {
		return md.PreferredCache
	}
	return strings.ToLower(host)
}

func lower(hosts []string) []string {
	out := make([]string, len(hosts))
	for i, h := range hosts {
		out[i] = strings.ToLower(h)
	}
	return out
}
