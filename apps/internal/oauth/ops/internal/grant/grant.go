// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package grant holds types of grants issued by authorization services.
package grant

const (
	Password         = "password"
	JWT              = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	AuthCode         = "authorization_code"
	RefreshToken     = "refresh_token"
	ClientCredential = "client_credentials"
	ClientAssertion  = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)
