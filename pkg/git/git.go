// Package git captures repository provenance for checkpoints and commits
// snapshot directories when auto-commit is enabled.
//
// Everything here goes through go-git, so no git binary is required. A
// project that is not a repository is not an error for Capture; it yields a
// Fingerprint with Available=false.
package git

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNotGitRepo indicates the directory is not inside a git repository.
var ErrNotGitRepo = errors.New("not a git repository")

// Detached is reported as the branch when HEAD is not a branch ref.
const Detached = "detached"

// Fingerprint identifies the working tree at capture time.
type Fingerprint struct {
	Available  bool   `yaml:"available" json:"available"`
	Commit     string `yaml:"commit,omitempty" json:"commit,omitempty"`
	Branch     string `yaml:"branch,omitempty" json:"branch,omitempty"`
	DirtyFiles int    `yaml:"dirty_files" json:"dirty_files"`
}

// ShortCommit returns the first 12 characters of the commit hash.
func (f Fingerprint) ShortCommit() string {
	if len(f.Commit) > 12 {
		return f.Commit[:12]
	}
	return f.Commit
}

func open(dir string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNotGitRepo, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return repo, nil
}

// Capture records the commit, branch and dirty-file count of the repository
// containing dir.
func Capture(dir string) (Fingerprint, error) {
	repo, err := open(dir)
	if errors.Is(err, ErrNotGitRepo) {
		return Fingerprint{}, nil
	}
	if err != nil {
		return Fingerprint{}, err
	}

	fp := Fingerprint{Available: true}

	head, err := repo.Head()
	switch {
	case err == nil:
		fp.Commit = head.Hash().String()
		fp.Branch = branchName(head)
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// Unborn branch: HEAD is symbolic but points at nothing yet.
		if ref, rerr := repo.Reference(plumbing.HEAD, false); rerr == nil {
			fp.Branch = ref.Target().Short()
		}
	default:
		return fp, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		// Bare repository.
		return fp, nil
	}
	status, err := wt.Status()
	if err != nil {
		return fp, fmt.Errorf("failed to read worktree status: %w", err)
	}
	for _, s := range status {
		if s.Worktree != gogit.Unmodified || s.Staging != gogit.Unmodified {
			fp.DirtyFiles++
		}
	}
	return fp, nil
}

func branchName(ref *plumbing.Reference) string {
	if ref.Name().IsBranch() {
		return ref.Name().Short()
	}
	return Detached
}

// Commit stages paths (files or directories) and commits them with msg.
// It returns the new commit hash.
func Commit(dir string, paths []string, msg string) (string, error) {
	repo, err := open(dir)
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}
	root := wt.Filesystem.Root()

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", err
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		if _, err := wt.Add(filepath.ToSlash(rel)); err != nil {
			return "", fmt.Errorf("failed to stage %s: %w", rel, err)
		}
	}

	hash, err := wt.Commit(msg, &gogit.CommitOptions{Author: signature(repo)})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return hash.String(), nil
}

// signature prefers the repository's user, then the global one.
func signature(repo *gogit.Repository) *object.Signature {
	sig := &object.Signature{Name: "waypoint", Email: "waypoint@localhost", When: time.Now()}
	if cfg, err := repo.Config(); err == nil && cfg.User.Name != "" {
		sig.Name, sig.Email = cfg.User.Name, cfg.User.Email
		return sig
	}
	if cfg, err := config.LoadConfig(config.GlobalScope); err == nil && cfg.User.Name != "" {
		sig.Name, sig.Email = cfg.User.Name, cfg.User.Email
	}
	return sig
}
