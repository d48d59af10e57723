// Package txn provides file-level atomic writes and multi-file transactions.
//
// WriteFile replaces a single file by writing a synced temporary file in the
// same directory and renaming it over the target, so readers observe either
// the old or the new content. Tx groups several such replacements: writes are
// staged as temporaries, and Commit renames them into place in order. If any
// rename fails, files already replaced are restored from their preserved
// originals and the remaining temporaries are removed.
package txn

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	tmpSuffix    = ".tmp"
	backupSuffix = ".txbak"
)

// RenameFunc matches os.Rename.
type RenameFunc func(oldpath, newpath string) error

// Option configures a Tx or WriteFile call.
type Option func(*options)

type options struct {
	rename RenameFunc
	perm   os.FileMode
}

// WithRename replaces os.Rename, e.g. to inject commit failures in tests.
func WithRename(fn RenameFunc) Option {
	return func(o *options) {
		o.rename = fn
	}
}

// WithPerm sets the mode of written files. Default 0644.
func WithPerm(perm os.FileMode) Option {
	return func(o *options) {
		o.perm = perm
	}
}

func buildOptions(opts []Option) options {
	o := options{rename: os.Rename, perm: 0o644}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WriteFile atomically replaces path with data.
func WriteFile(path string, data []byte, opts ...Option) error {
	o := buildOptions(opts)
	tmp, err := writeTemp(path, data, o.perm)
	if err != nil {
		return err
	}
	if err := o.rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return syncDir(filepath.Dir(path))
}

// writeTemp writes data to a synced temporary file next to path.
func writeTemp(path string, data []byte, perm os.FileMode) (tmpPath string, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*"+tmpSuffix)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath = f.Name()

	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err = f.Chmod(perm); err != nil {
		return "", fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return tmpPath, nil
}

// syncDir fsyncs a directory so a completed rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}

// CopyFile atomically copies src to dst.
func CopyFile(src, dst string, opts ...Option) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	return WriteFile(dst, data, opts...)
}

// copyRaw copies src to dst without the temp-and-rename protocol. Used only
// to preserve originals that a Tx may need to put back.
func copyRaw(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
