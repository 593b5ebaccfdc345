// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package file persists the token cache of a client to a file. Processes sharing the
file coordinate through an advisory lock on a sibling ".lock" file, and exports
replace the file atomically so readers never observe a partial write.

Usage:

	accessor, err := file.New(filepath.Join(dir, "msal_cache.json"))
	if err != nil {
		// handle error
	}
	client, err := public.New(clientID, public.WithCache(accessor))
*/
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/tidwall/gjson"

	"github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/cache"
	msalErrors "github.com/ClarkShaTaiYou/microsoft-authentication-library-for-go/apps/errors"
)

const (
	defaultTimeout    = 10 * time.Second
	lockRetryInterval = 20 * time.Millisecond
	filePerm          = 0o600
)

// Accessor implements cache.ExportReplace over a file. It's safe for concurrent use.
type Accessor struct {
	path  string
	lock  *flock.Flock
	reset bool
	log   *slog.Logger

	// mu serializes this process's use of lock, which doesn't count holders.
	mu sync.Mutex
}

// Option is an optional argument to New().
type Option func(*Accessor)

// WithResetOnCorruption makes Replace ignore a file it can't decode instead of failing,
// so the client starts from an empty cache. The next export overwrites the file.
func WithResetOnCorruption() Option {
	return func(a *Accessor) {
		a.reset = true
	}
}

// WithLogger logs discarded cache files. By default the accessor doesn't log.
func WithLogger(l *slog.Logger) Option {
	return func(a *Accessor) {
		a.log = l
	}
}

// New returns an Accessor for the file at path. The file and its directory are
// created by the first export.
func New(path string, opts ...Option) (*Accessor, error) {
	if path == "" {
		return nil, errors.New("cache file path can't be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't resolve cache file path %q: %w", path, err)
	}
	a := &Accessor{
		path: abs,
		lock: flock.New(abs + ".lock"),
		log:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Path is the absolute path of the cache file.
func (a *Accessor) Path() string {
	return a.path
}

// Replace implements cache.ExportReplace. A missing or empty file leaves the cache unchanged.
func (a *Accessor) Replace(ctx context.Context, c cache.Unmarshaler, _ cache.ReplaceHints) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	// the lock file lives beside the cache file, so without the directory there's nothing to read
	if _, err := os.Stat(filepath.Dir(a.path)); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	var data []byte
	err := a.withLock(ctx, false, func() error {
		var err error
		data, err = os.ReadFile(a.path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("couldn't read cache file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	if !gjson.ValidBytes(data) {
		err = &msalErrors.CacheSerializationError{Err: fmt.Errorf("%s doesn't hold valid JSON", a.path)}
	} else {
		err = c.Unmarshal(data)
	}
	if err == nil {
		return nil
	}
	var serr *msalErrors.CacheSerializationError
	if a.reset && errors.As(err, &serr) {
		a.log.WarnContext(ctx, "discarding cache file that can't be decoded", slog.String("path", a.path), slog.Any("error", err))
		return nil
	}
	return err
}

// Export implements cache.ExportReplace. The file is written through a temporary file
// in the same directory that's renamed over it.
func (a *Accessor) Export(ctx context.Context, c cache.Marshaler, _ cache.ExportHints) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o700); err != nil {
		return fmt.Errorf("couldn't create cache directory: %w", err)
	}
	return a.withLock(ctx, true, func() error {
		return writeAtomic(a.path, data)
	})
}

// withLock runs fn holding the file lock, shared unless exclusive.
func (a *Accessor) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = a.lock.TryLockContext(ctx, lockRetryInterval)
	} else {
		locked, err = a.lock.TryRLockContext(ctx, lockRetryInterval)
	}
	if err != nil {
		return fmt.Errorf("couldn't lock %s: %w", a.lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("couldn't lock %s", a.lock.Path())
	}
	defer func() {
		if err := a.lock.Unlock(); err != nil {
			a.log.Warn("couldn't unlock cache file", slog.String("path", a.lock.Path()), slog.Any("error", err))
		}
	}()
	return fn()
}

func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}
