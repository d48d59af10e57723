// Package manifest records and verifies per-file content digests for a
// snapshot directory.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/fyrsmithlabs/waypoint/internal/txn"
)

// FileName is the manifest's name inside a snapshot directory.
const FileName = "manifest.json"

// Version is the manifest schema version written by Build.
const Version = 1

// Problem reasons reported by Verify.
const (
	ReasonMissing        = "missing"
	ReasonDigestMismatch = "digest_mismatch"
)

// ErrNoManifest is returned by Read when the directory has no manifest.
var ErrNoManifest = errors.New("manifest not found")

// Digester produces a content hash. The algorithm name is recorded in the
// manifest so Verify can refuse a mismatched digester.
type Digester interface {
	Algorithm() string
	New() hash.Hash
}

// SHA256 is the default Digester.
type SHA256 struct{}

func (SHA256) Algorithm() string { return "sha256" }
func (SHA256) New() hash.Hash    { return sha256.New() }

// Entry describes one covered file.
type Entry struct {
	Path     string `json:"path"`
	Digest   string `json:"digest"`
	Size     int64  `json:"size"`
	Required bool   `json:"required"`
}

// Manifest is the ordered list of covered files.
type Manifest struct {
	Version   int     `json:"version"`
	Algorithm string  `json:"algorithm"`
	Files     []Entry `json:"files"`
}

// Problem is a single verification failure.
type Problem struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.Path, p.Reason)
}

// Build hashes every regular file under dir except the manifest itself.
// Paths are slash-separated and sorted.
func Build(dir string, d Digester) (*Manifest, error) {
	if d == nil {
		d = SHA256{}
	}
	m := &Manifest{Version: Version, Algorithm: d.Algorithm()}

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == FileName {
			return nil
		}
		digest, size, err := digestFile(path, d)
		if err != nil {
			return err
		}
		m.Files = append(m.Files, Entry{Path: rel, Digest: digest, Size: size, Required: true})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build manifest for %s: %w", dir, err)
	}

	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
	return m, nil
}

// Write stores the manifest in dir atomically.
func Write(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return txn.WriteFile(filepath.Join(dir, FileName), append(data, '\n'))
}

// Read loads the manifest in dir.
func Read(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// Exists reports whether dir has a manifest.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil
}

// Verify recomputes each entry's digest. It is read-only and returns the
// problems in manifest order; an empty result means the directory matches.
func Verify(dir string, m *Manifest, d Digester) ([]Problem, error) {
	if d == nil {
		d = SHA256{}
	}
	if m.Algorithm != "" && m.Algorithm != d.Algorithm() {
		return nil, fmt.Errorf("manifest uses %s, verifier uses %s", m.Algorithm, d.Algorithm())
	}

	var problems []Problem
	for _, e := range m.Files {
		path := filepath.Join(dir, filepath.FromSlash(e.Path))
		digest, _, err := digestFile(path, d)
		switch {
		case os.IsNotExist(err):
			if e.Required {
				problems = append(problems, Problem{Path: e.Path, Reason: ReasonMissing})
			}
		case err != nil:
			return nil, fmt.Errorf("failed to hash %s: %w", e.Path, err)
		case digest != e.Digest:
			problems = append(problems, Problem{Path: e.Path, Reason: ReasonDigestMismatch})
		}
	}
	return problems, nil
}

func digestFile(path string, d Digester) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := d.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
