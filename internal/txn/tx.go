package txn

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrTxDone is returned when a committed or rolled back Tx is used again.
var ErrTxDone = errors.New("transaction has already been committed or rolled back")

type stagedFile struct {
	target string
	tmp    string
}

// Tx is a multi-file write transaction. It is not safe for concurrent use.
//
//	tx := txn.Begin()
//	defer tx.Rollback()
//	if err := tx.WriteFile(statePath, doc); err != nil { ... }
//	if err := tx.CopyFile(src, handoffPath); err != nil { ... }
//	return tx.Commit()
type Tx struct {
	opts   options
	staged []stagedFile
	done   bool
}

// Begin starts a transaction.
func Begin(opts ...Option) *Tx {
	return &Tx{opts: buildOptions(opts)}
}

// WriteFile stages data for path. Staging the same path twice keeps the
// later content.
func (tx *Tx) WriteFile(path string, data []byte) error {
	if tx.done {
		return ErrTxDone
	}
	tmp, err := writeTemp(path, data, tx.opts.perm)
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", filepath.Base(path), err)
	}
	for i := range tx.staged {
		if tx.staged[i].target == path {
			_ = os.Remove(tx.staged[i].tmp)
			tx.staged[i].tmp = tmp
			return nil
		}
	}
	tx.staged = append(tx.staged, stagedFile{target: path, tmp: tmp})
	return nil
}

// CopyFile stages a copy of src at dst.
func (tx *Tx) CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	return tx.WriteFile(dst, data)
}

// Len returns the number of staged files.
func (tx *Tx) Len() int {
	return len(tx.staged)
}

// Commit renames every staged file into place, in staging order.
//
// Each existing target is preserved before it is replaced. On the first
// failed rename all earlier replacements are reverted, so the set of targets
// is left exactly as it was before Commit.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	type applied struct {
		target string
		backup string
	}
	var done []applied

	revert := func() {
		for i := len(done) - 1; i >= 0; i-- {
			a := done[i]
			if a.backup != "" {
				_ = os.Rename(a.backup, a.target)
			} else {
				_ = os.Remove(a.target)
			}
		}
	}

	for i, s := range tx.staged {
		backup := ""
		if _, err := os.Stat(s.target); err == nil {
			backup = s.target + backupSuffix
			if err := copyRaw(s.target, backup); err != nil {
				revert()
				tx.cleanup(i)
				return fmt.Errorf("failed to preserve %s: %w", filepath.Base(s.target), err)
			}
		}

		if err := tx.opts.rename(s.tmp, s.target); err != nil {
			if backup != "" {
				_ = os.Remove(backup)
			}
			revert()
			tx.cleanup(i)
			return fmt.Errorf("failed to commit %s: %w", filepath.Base(s.target), err)
		}
		done = append(done, applied{target: s.target, backup: backup})
	}

	dirs := make(map[string]bool)
	for _, a := range done {
		if a.backup != "" {
			_ = os.Remove(a.backup)
		}
		dirs[filepath.Dir(a.target)] = true
	}
	for dir := range dirs {
		if err := syncDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// Rollback discards staged files. It is a no-op after Commit.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.cleanup(0)
	return nil
}

// cleanup removes the temporaries of staged[from:].
func (tx *Tx) cleanup(from int) {
	for _, s := range tx.staged[from:] {
		_ = os.Remove(s.tmp)
	}
}
