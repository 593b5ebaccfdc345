// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package coalesce collapses concurrent requests for the same key onto a single
execution whose result every waiting caller receives.

The work runs detached from the caller that started it. A caller whose context
ends stops waiting and returns immediately; the work continues for the others
until it finishes or the Group's timeout expires.
*/
package coalesce

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds work when the Group isn't given a timeout.
const DefaultTimeout = 30 * time.Second

// Group coalesces work of type T by key. The zero value isn't usable, call New.
type Group[T any] struct {
	flight  singleflight.Group
	timeout time.Duration
}

// New returns a Group whose work is cancelled after timeout. A timeout <= 0 means DefaultTimeout.
func New[T any](timeout time.Duration) *Group[T] {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Group[T]{timeout: timeout}
}

// Do runs work for key unless a call for key is already in flight, in which
// case it waits for that call's result. shared reports whether the result was
// delivered to more than one caller.
func (g *Group[T]) Do(ctx context.Context, key string, work func(context.Context) (T, error)) (v T, shared bool, err error) {
	ch := g.flight.DoChan(key, func() (any, error) {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		return work(wctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		if res.Val == nil {
			return v, res.Shared, nil
		}
		t, ok := res.Val.(T)
		if !ok {
			return v, res.Shared, fmt.Errorf("coalesce: work for %q returned %T", key, res.Val)
		}
		return t, res.Shared, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// Forget makes the next Do for key start new work instead of joining the call in flight.
func (g *Group[T]) Forget(key string) {
	g.flight.Forget(key)
}
