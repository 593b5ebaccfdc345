// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package json provides encoding helpers for types that must keep fields they
// do not understand. A type opts in by holding an AdditionalFields map and
// calling Unmarshal/Marshal from its own UnmarshalJSON/MarshalJSON through an
// alias type, so that data written by other library versions survives a round trip.
package json

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Fields holds raw JSON members that have no matching struct field.
type Fields = map[string]json.RawMessage

// knownNames caches the lower cased JSON member names of a struct type.
var knownNames sync.Map // reflect.Type -> map[string]struct{}

// Unmarshal decodes b into v, which must be a pointer to a struct, and stores
// every member of b that v has no field for in *extra. *extra is nil when there
// are no such members.
func Unmarshal(b []byte, v any, extra *Fields) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("json.Unmarshal: receiver must be a non-nil pointer, got %T", v)
	}
	if rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("json.Unmarshal: receiver must point to a struct, got %T", v)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return err
	}
	if extra == nil {
		return nil
	}

	all := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	known := names(rv.Elem().Type())
	var out Fields
	for k, raw := range all {
		if _, ok := known[strings.ToLower(k)]; ok {
			continue
		}
		if out == nil {
			out = Fields{}
		}
		out[k] = raw
	}
	*extra = out
	return nil
}

// Marshal encodes v and merges extra into the resulting object. Members of v
// take precedence over extra members with the same name.
func Marshal(v any, extra Fields) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return b, nil
	}
	if !bytes.HasPrefix(bytes.TrimSpace(b), []byte("{")) {
		return nil, fmt.Errorf("json.Marshal: cannot add fields to non-object %T", v)
	}
	all := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, ok := all[k]; ok {
			continue
		}
		all[k] = raw
	}
	return json.Marshal(all)
}

// MarshalRaw marshals v into a json.RawMessage, panicking on failure. It is meant
// for building AdditionalFields literals.
func MarshalRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func names(t reflect.Type) map[string]struct{} {
	if m, ok := knownNames.Load(t); ok {
		return m.(map[string]struct{})
	}
	m := map[string]struct{}{}
	collect(t, m)
	knownNames.Store(t, m)
	return m
}

func collect(t reflect.Type, m map[string]struct{}) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collect(ft, m)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		m[strings.ToLower(name)] = struct{}{}
	}
}
