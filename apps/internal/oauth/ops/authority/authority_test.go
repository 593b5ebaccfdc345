// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

type fakeJSONCaller struct {
	err bool

	resp []byte

	gotEndpoint string
	gotHeaders  http.Header
	gotQV       url.Values
	gotBody     any
	gotResp     any
}

func (f *fakeJSONCaller) JSONCall(ctx context.Context, endpoint string, headers http.Header, qv url.Values, body, resp any) error {
	if f.err {
		return errors.New("error")
	}
	f.gotEndpoint = endpoint
	f.gotHeaders = headers
	f.gotQV = qv
	f.gotBody = body
	f.gotResp = resp

	if f.resp != nil {
		if err := json.Unmarshal(f.resp, resp); err != nil {
			return err
		}
	}

	return nil
}

func (f *fakeJSONCaller) compare(endpoint string, headers http.Header, qv url.Values, body, resp any) error {
	if f.gotEndpoint != endpoint {
		return fmt.Errorf("got endpoint == %s, want endpoint == %s", f.gotEndpoint, endpoint)
	}
	if diff := pretty.Compare(headers, f.gotHeaders); diff != "" {
		return fmt.Errorf("headers -want/+got:\n%s", diff)
	}
	if diff := pretty.Compare(qv, f.gotQV); diff != "" {
		return fmt.Errorf("qv -want/+got:\n%s", diff)
	}
	if diff := pretty.Compare(body, f.gotBody); diff != "" {
		return fmt.Errorf("body -want/+got:\n%s", diff)
	}
	gotValue := reflect.ValueOf(f.gotResp)
	if gotValue.Kind() != reflect.Ptr {
		return fmt.Errorf("resp cannot be a non-pointer type")
	}
	gotValue = gotValue.Elem()

	gotName := gotValue.Type().Name()
	wantName := reflect.ValueOf(resp).Elem().Type().Name()

	if gotName != wantName {
		return fmt.Errorf("resp type was %s, want %s", gotName, wantName)
	}
	return nil
}

func TestTenantDiscoveryResponse(t *testing.T) {
	tests := []struct {
		desc     string
		err      bool
		endpoint string
		resp     any
	}{
		{
			desc: "Error: comm returns error",
			err:  true,
		},
		{
			desc:     "Success",
			endpoint: "endpoint",
			resp:     &TenantDiscoveryResponse{},
		},
	}

	for _, test := range tests {
		fake := &fakeJSONCaller{err: test.err}
		client := Client{fake}

		// We don't care about the result, that is just a translation from the JSON handled
		// automatically in the comm package.  We care only that the comm package got what
		// it needed.
		_, err := client.GetTenantDiscoveryResponse(context.Background(), "endpoint")
		switch {
		case err == nil && test.err:
			t.Errorf("TestTenantDiscoveryResponse(%s): got err == nil , want err != nil", test.desc)
			continue
		case err != nil && !test.err:
			t.Errorf("TestTenantDiscoveryResponse(%s): got err == %s , want err == nil", test.desc, err)
			continue
		case err != nil:
			continue
		}

		if err := fake.compare(test.endpoint, http.Header{}, nil, nil, test.resp); err != nil {
			t.Errorf("TestTenantDiscoveryResponse(%s): %s", test.desc, err)
		}
	}
}

func TestAADInstanceDiscovery(t *testing.T) {
	tests := []struct {
		desc     string
		err      bool
		authInfo Info
		endpoint string
		qv       url.Values
		resp     any
	}{
		{
			desc: "Error: comm returns error",
			err:  true,
		},
		{
			desc:     "Success with authorityInfo.Host not in trusted list",
			endpoint: fmt.Sprintf(instanceDiscoveryEndpoint, defaultHost),
			authInfo: Info{
				Host:   "host",
				Tenant: "tenant",
			},
			qv: url.Values{
				"api-version":            []string{"1.1"},
				"authorization_endpoint": []string{fmt.Sprintf(authorizationEndpoint, "host", "tenant")},
			},
			resp: &InstanceDiscoveryResponse{},
		},
		{
			desc:     "Success with authorityInfo.Host in trusted list",
			endpoint: fmt.Sprintf(instanceDiscoveryEndpoint, "login.microsoftonline.de"),
			authInfo: Info{
				Host:   "login.microsoftonline.de",
				Tenant: "tenant",
			},
			qv: url.Values{
				"api-version":            []string{"1.1"},
				"authorization_endpoint": []string{fmt.Sprintf(authorizationEndpoint, "login.microsoftonline.de", "tenant")},
			},
			resp: &InstanceDiscoveryResponse{},
		},
	}

	for _, test := range tests {
		fake := &fakeJSONCaller{err: test.err}
		client := Client{fake}

		// We don't care about the result, that is just a translation from the JSON handled
		// automatically in the comm package.  We care only that the comm package got what
		// it needed.
		_, err := client.AADInstanceDiscovery(context.Background(), test.authInfo)
		switch {
		case err == nil && test.err:
			t.Errorf("AADInstanceDiscovery(%s): got err == nil , want err != nil", test.desc)
			continue
		case err != nil && !test.err:
			t.Errorf("AADInstanceDiscovery(%s): got err == %s , want err == nil", test.desc, err)
			continue
		case err != nil:
			continue
		}

		if err := fake.compare(test.endpoint, http.Header{}, test.qv, nil, test.resp); err != nil {
			t.Errorf("AADInstanceDiscovery(%s): %s", test.desc, err)
		}
	}
}

func TestNewInfoFromAuthorityURI(t *testing.T) {
	tests := []struct {
		desc      string
		authority string
		want      Info
		err       bool
	}{
		{
			desc:      "tenant scoped",
			authority: "https://login.microsoftonline.com/Contoso.onmicrosoft.com",
			want: Info{
				Host:                  "login.microsoftonline.com",
				CanonicalAuthorityURI: "https://login.microsoftonline.com/contoso.onmicrosoft.com/",
				AuthorityType:         AAD,
				Tenant:                "contoso.onmicrosoft.com",
				ValidateAuthority:     true,
			},
		},
		{
			desc:      "multi-tenant",
			authority: "https://login.microsoftonline.com/common/",
			want: Info{
				Host:                  "login.microsoftonline.com",
				CanonicalAuthorityURI: "https://login.microsoftonline.com/common/",
				AuthorityType:         MultiTenant,
				Tenant:                "common",
				ValidateAuthority:     true,
			},
		},
		{
			desc:      "ADFS",
			authority: "https://fs.contoso.com/adfs",
			want: Info{
				Host:                  "fs.contoso.com",
				CanonicalAuthorityURI: "https://fs.contoso.com/adfs/",
				AuthorityType:         ADFS,
				Tenant:                "adfs",
				ValidateAuthority:     true,
			},
		},
		{
			desc:      "B2C tfp",
			authority: "https://login.microsoftonline.com/tfp/contoso.onmicrosoft.com/B2C_1_signin/extra",
			want: Info{
				Host:                  "login.microsoftonline.com",
				CanonicalAuthorityURI: "https://login.microsoftonline.com/tfp/contoso.onmicrosoft.com/b2c_1_signin/",
				AuthorityType:         B2C,
				Tenant:                "contoso.onmicrosoft.com",
				ValidateAuthority:     true,
			},
		},
		{
			desc:      "B2C b2clogin",
			authority: "https://contoso.b2clogin.com/contoso.onmicrosoft.com/B2C_1_signin",
			want: Info{
				Host:                  "contoso.b2clogin.com",
				CanonicalAuthorityURI: "https://contoso.b2clogin.com/contoso.onmicrosoft.com/b2c_1_signin/",
				AuthorityType:         B2C,
				Tenant:                "contoso.onmicrosoft.com",
				ValidateAuthority:     true,
			},
		},
		{desc: "no tenant", authority: "https://login.microsoftonline.com", err: true},
		{desc: "http", authority: "http://login.microsoftonline.com/common", err: true},
		{desc: "B2C missing policy", authority: "https://login.microsoftonline.com/tfp/contoso", err: true},
		{desc: "not a URL", authority: "login", err: true},
	}

	for _, test := range tests {
		got, err := NewInfoFromAuthorityURI(test.authority, true)
		switch {
		case err == nil && test.err:
			t.Errorf("TestNewInfoFromAuthorityURI(%s): got err == nil, want err != nil", test.desc)
			continue
		case err != nil && !test.err:
			t.Errorf("TestNewInfoFromAuthorityURI(%s): got err == %s, want err == nil", test.desc, err)
			continue
		case err != nil:
			continue
		}
		if diff := pretty.Compare(test.want, got); diff != "" {
			t.Errorf("TestNewInfoFromAuthorityURI(%s): -want/+got:\n%s", test.desc, diff)
		}
	}
}

func TestOpenIDConfigurationEndpoint(t *testing.T) {
	generic, err := NewGenericInfo("https://idp.example.com/realms/dev")
	if err != nil {
		t.Fatal(err)
	}
	adfs, err := NewInfoFromAuthorityURI("https://fs.contoso.com/adfs", true)
	if err != nil {
		t.Fatal(err)
	}
	aad, err := NewInfoFromAuthorityURI("https://login.microsoftonline.com/tenant", true)
	if err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct {
		info          Info
		want          string
		wantDiscovery bool
	}{
		{generic, "https://idp.example.com/realms/dev/.well-known/openid-configuration", false},
		{adfs, "https://fs.contoso.com/adfs/.well-known/openid-configuration", false},
		{aad, "https://login.microsoftonline.com/tenant/v2.0/.well-known/openid-configuration", true},
	} {
		if got := test.info.OpenIDConfigurationEndpoint(); got != test.want {
			t.Errorf("OpenIDConfigurationEndpoint(%s): got %s, want %s", test.info.AuthorityType, got, test.want)
		}
		if got := test.info.UsesInstanceDiscovery(); got != test.wantDiscovery {
			t.Errorf("UsesInstanceDiscovery(%s): got %v, want %v", test.info.AuthorityType, got, test.wantDiscovery)
		}
	}
}

func TestAuthParamsWithTenant(t *testing.T) {
	uuid1 := "00000000-0000-0000-0000-000000000000"
	uuid2 := strings.ReplaceAll(uuid1, "0", "1")
	host := "https://localhost/"
	for _, test := range []struct {
		authority, expectedAuthority, tenant string
		expectError                          bool
	}{
		{authority: host + "common", tenant: uuid1, expectedAuthority: host + uuid1},
		{authority: host + "organizations", tenant: uuid1, expectedAuthority: host + uuid1},
		{authority: host + uuid1, tenant: uuid2, expectedAuthority: host + uuid2},
		{authority: host + uuid1, tenant: "", expectedAuthority: host + uuid1},
		{authority: host + uuid1, tenant: "common", expectError: true},
		{authority: host + uuid1, tenant: "organizations", expectError: true},
		{authority: host + "adfs", tenant: uuid1, expectError: true},
		{authority: host + "consumers", tenant: uuid1, expectError: true},
	} {
		t.Run("", func(t *testing.T) {
			info, err := NewInfoFromAuthorityURI(test.authority, false)
			if err != nil {
				t.Fatal(err)
			}
			params := NewAuthParams("client-id", info)
			p, err := params.WithTenant(test.tenant)
			if test.expectError {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}

			if v := strings.TrimSuffix(p.AuthorityInfo.CanonicalAuthorityURI, "/"); v != test.expectedAuthority {
				t.Fatalf(`unexpected tenant "%s"`, v)
			}
		})
	}
}

func TestMergeCapabilitiesAndClaims(t *testing.T) {
	for _, test := range []struct {
		capabilities              []string
		challenge, desc, expected string
		err                       bool
	}{
		{
			desc:     "no capabilities or challenge",
			expected: "",
		},
		{
			desc:         "encoded challenge",
			capabilities: []string{"cp1"},
			challenge:    "eyJpZF90b2tlbiI6eyJhdXRoX3RpbWUiOnsiZXNzZW50aWFsIjp0cnVlfX19",
			err:          true,
		},
		{
			desc:         "only capabilities",
			capabilities: []string{"cp1"},
			expected:     `{"access_token":{"xms_cc":{"values":["cp1"]}}}`,
		},
		{
			desc:      "only challenge",
			challenge: `{"id_token":{"auth_time":{"essential":true}}}`,
			expected:  `{"id_token":{"auth_time":{"essential":true}}}`,
		},
		{
			desc:         "overlapping claim", // i.e. capabilities and claims are siblings
			capabilities: []string{"cp1", "cp2"},
			challenge:    `{"access_token":{"nbf":{"essential":true, "value":"42"}}}`,
			expected:     `{"access_token":{"nbf":{"essential":true, "value":"42"}, "xms_cc":{"values":["cp1","cp2"]}}}`,
		},
		{
			desc:         "non-overlapping claim",
			capabilities: []string{"cp1", "cp2"},
			challenge:    `{"id_token":{"auth_time":{"essential":true}}}`,
			expected:     `{"id_token":{"auth_time":{"essential":true}}, "access_token":{"xms_cc":{"values":["cp1","cp2"]}}}`,
		},
		{
			desc:         "overlapping and non-overlapping claims",
			capabilities: []string{"cp1", "cp2"},
			challenge:    `{"id_token":{"auth_time":{"essential":true}},"access_token":{"nbf":{"essential":true, "value":"42"}}}`,
			expected:     `{"id_token":{"auth_time":{"essential":true}},"access_token":{"nbf":{"essential":true, "value":"42"},"xms_cc":{"values":["cp1","cp2"]}}}`,
		},
	} {
		cpb, err := NewClientCapabilities(test.capabilities)
		if err != nil {
			t.Fatal(err)
		}
		ap := AuthParams{Capabilities: cpb, Claims: test.challenge}
		t.Run(test.desc, func(t *testing.T) {
			var expected map[string]any
			if err := json.Unmarshal([]byte(test.expected), &expected); err != nil && test.expected != "" {
				t.Fatal("test bug: the expected result must be JSON or an empty string")
			}
			merged, err := ap.MergeCapabilitiesAndClaims()
			if err != nil {
				if test.err {
					return
				}
				t.Fatal(err)
			}
			if merged == test.expected {
				return
			}
			var actual map[string]any
			if err = json.Unmarshal([]byte(merged), &actual); err != nil {
				t.Fatal(err)
			}
			if diff := pretty.Compare(expected, actual); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}
