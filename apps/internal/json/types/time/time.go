// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package time provides for custom types to translate time from JSON and other formats
// into time.Time objects.
package time

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unix provides a type that can marshal and unmarshal a string representation
// of the unix epoch into a time.Time object. Values are kept in UTC at second
// precision, which is all the wire format can carry.
type Unix struct {
	T time.Time
}

// NewUnix truncates t to the second and converts it to UTC.
func NewUnix(t time.Time) Unix {
	if t.IsZero() {
		return Unix{}
	}
	return Unix{T: time.Unix(t.Unix(), 0).UTC()}
}

// IsZero lets the omitzero option skip unset values.
func (u Unix) IsZero() bool {
	return u.T.IsZero()
}

// MarshalJSON implements encoding/json.MarshalJSON().
func (u Unix) MarshalJSON() ([]byte, error) {
	if u.T.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(strconv.FormatInt(u.T.Unix(), 10))), nil
}

// UnmarshalJSON implements encoding/json.UnmarshalJSON(). Both quoted and bare
// numbers are accepted.
func (u *Unix) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		u.T = time.Time{}
		return nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("unix time(%s) could not be converted from string to int: %w", string(b), err)
	}
	u.T = time.Unix(i, 0).UTC()
	return nil
}

// DurationTime provides a type that can unmarshal a representation of a duration from
// now (the "expires_in" member of a token response) into a time.Time object.
type DurationTime struct {
	T time.Time
}

// MarshalJSON implements encoding/json.MarshalJSON().
func (d DurationTime) MarshalJSON() ([]byte, error) {
	if d.T.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(int64(time.Until(d.T)/time.Second), 10)), nil
}

// UnmarshalJSON implements encoding/json.UnmarshalJSON(). The server sends
// either a number or a string holding a number.
func (d *DurationTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		d.T = time.Time{}
		return nil
	}
	i, err := json.Number(s).Int64()
	if err != nil {
		return fmt.Errorf("duration(%s) could not be converted to int: %w", string(b), err)
	}
	d.T = time.Now().Add(time.Duration(i) * time.Second).UTC()
	return nil
}
