// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package coalesce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoSharesResult(t *testing.T) {
	g := New[string](time.Minute)
	release := make(chan struct{})
	var calls atomic.Int32
	work := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "token", nil
	}

	const n = 10
	var started, done sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	started.Add(n)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i], _, errs[i] = g.Do(context.Background(), "key", work)
		}(i)
	}
	started.Wait()
	// give every goroutine time to join the call in flight
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	require.EqualValues(t, 1, calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "token", results[i])
	}
}

func TestDoSharesFailure(t *testing.T) {
	g := New[int](time.Minute)
	release := make(chan struct{})
	boom := errors.New("boom")
	var calls atomic.Int32
	work := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 0, boom
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := g.Do(context.Background(), "key", work)
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	require.EqualValues(t, 1, calls.Load())
	for err := range errs {
		require.ErrorIs(t, err, boom)
	}
}

func TestDoIndependentKeys(t *testing.T) {
	g := New[string](time.Minute)
	aStarted := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _, _ = g.Do(context.Background(), "a", func(context.Context) (string, error) {
			close(aStarted)
			<-release
			return "a", nil
		})
	}()
	<-aStarted
	defer close(release)

	// "b" must not wait behind "a".
	v, shared, err := g.Do(context.Background(), "b", func(context.Context) (string, error) {
		return "b", nil
	})
	require.NoError(t, err)
	require.False(t, shared)
	require.Equal(t, "b", v)
}

func TestDoCallerCanceled(t *testing.T) {
	g := New[string](time.Minute)
	release := make(chan struct{})
	workCtx := make(chan context.Context, 1)
	work := func(ctx context.Context) (string, error) {
		workCtx <- ctx
		<-release
		return "token", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, _, err := g.Do(ctx, "key", work)
		errc <- err
	}()
	wctx := <-workCtx

	// A second caller joins the same call.
	got := make(chan string, 1)
	go func() {
		v, _, _ := g.Do(context.Background(), "key", work)
		got <- v
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller didn't return")
	}
	require.NoError(t, wctx.Err(), "work shouldn't be canceled with its first caller")

	close(release)
	select {
	case v := <-got:
		require.Equal(t, "token", v)
	case <-time.After(time.Second):
		t.Fatal("remaining caller didn't get the result")
	}
}

func TestDoTimeout(t *testing.T) {
	g := New[string](20 * time.Millisecond)
	_, _, err := g.Do(context.Background(), "key", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoAfterFailure(t *testing.T) {
	g := New[string](time.Minute)
	_, _, err := g.Do(context.Background(), "key", func(context.Context) (string, error) {
		return "", errors.New("first")
	})
	require.Error(t, err)

	// Nothing stays locked after a failure.
	v, _, err := g.Do(context.Background(), "key", func(context.Context) (string, error) {
		return "second", nil
	})
	require.NoError(t, err)
	require.Equal(t, "second", v)
}
