// File: pkg/fsscope/fsscope.go
// Brief: Filesystem resources for scope stacks.

// Package fsscope provides filesystem resources for scope stacks:
// temporary directories, created files, and advisory file locks.
//
// Plain *os.File handles need no adapter; a stack accepts them directly
// through the closer capability.
package fsscope

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// TempDir creates a temporary directory on enter and removes it, with
// contents, on exit. One value tracks one directory; use a fresh value per
// push.
type TempDir struct {
	// Dir is the parent directory. Empty means the system temp dir.
	Dir string
	// Pattern is the MkdirTemp pattern. Empty means "scope-*".
	Pattern string

	path string
}

func (d *TempDir) Enter(ctx context.Context) (any, error) {
	pattern := d.Pattern
	if pattern == "" {
		pattern = "scope-*"
	}
	path, err := os.MkdirTemp(d.Dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	d.path = path
	return path, nil
}

func (d *TempDir) Exit(_ context.Context, _ error) error {
	if d.path == "" {
		return nil
	}
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("remove temp dir %s: %w", d.path, err)
	}
	return nil
}

// Create opens Path for writing on enter, creating parent directories, and
// closes it on exit. A clean exit syncs the file before closing; a failing
// exit just closes it.
type Create struct {
	Path string
	// Perm is the file mode for new files. Zero means 0o644.
	Perm os.FileMode

	f *os.File
}

func (c *Create) Enter(ctx context.Context) (any, error) {
	perm := c.Perm
	if perm == 0 {
		perm = 0o644
	}
	if dir := filepath.Dir(c.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create parent dir for %s: %w", c.Path, err)
		}
	}
	f, err := os.OpenFile(c.Path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, perm)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", c.Path, err)
	}
	c.f = f
	return f, nil
}

func (c *Create) Exit(_ context.Context, cause error) error {
	if c.f == nil {
		return nil
	}
	var err error
	if cause == nil {
		err = c.f.Sync()
	}
	return errors.Join(err, c.f.Close())
}

// Lock acquires an advisory file lock on enter and releases it on exit.
type Lock struct {
	Path string
	// RetryDelay is the poll interval while waiting. Zero means 50ms.
	RetryDelay time.Duration
	// Timeout bounds the wait on top of whatever deadline ctx carries.
	// Zero means wait as long as ctx allows.
	Timeout time.Duration

	fl *flock.Flock
}

func (l *Lock) Enter(ctx context.Context) (any, error) {
	delay := l.RetryDelay
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}
	fl := flock.New(l.Path)
	ok, err := fl.TryLockContext(ctx, delay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", l.Path, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: not acquired", l.Path)
	}
	l.fl = fl
	return fl, nil
}

func (l *Lock) Exit(_ context.Context, _ error) error {
	if l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.Path, err)
	}
	return nil
}
