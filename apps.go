// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package msal acquires security tokens from Microsoft Entra ID and other OpenID Connect
authorities, caches them and refreshes them silently.

The clients live in subpackages:

	apps/public        applications that can't keep a secret: desktop tools and CLIs
	apps/confidential  services holding a secret, certificate or assertion
	apps/cache         the interface persistent caches implement
	apps/cache/file    a cache persisted to a locked file
	apps/pop           keys proof-of-possession tokens are bound to
	apps/errors        the errors the clients return

A client should be created once and reused: its in-memory cache, endpoint metadata and
in-flight refreshes are shared by all its calls.
*/
package msal
