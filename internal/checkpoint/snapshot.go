package checkpoint

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/waypoint/internal/layout"
	"github.com/fyrsmithlabs/waypoint/internal/manifest"
	"github.com/fyrsmithlabs/waypoint/pkg/git"
	"gopkg.in/yaml.v3"
)

// FormatVersion is written to metadata.yaml of new snapshots. Version 1
// snapshots stored agent and capability records at the snapshot root;
// version 2 moved them under active_state/.
const FormatVersion = 2

// Snapshot formats reported by Verify and Inspect.
const (
	FormatManifest = "manifest"
	FormatLegacy   = "legacy"
)

// Snapshot locations, newest first.
const (
	LayoutCurrent           = "current"
	LayoutLegacyCheckpoints = "legacy-checkpoints"
	LayoutLegacySnapshots   = "legacy-snapshots"
)

// Metadata is metadata.yaml. Older snapshots used flat git_* keys and a
// "created" timestamp; migrateMetadata folds them into the current shape.
type Metadata struct {
	FormatVersion int             `yaml:"format_version"`
	ID            string          `yaml:"id"`
	Phase         int             `yaml:"phase"`
	Sequence      int             `yaml:"sequence"`
	Message       string          `yaml:"message"`
	Timestamp     string          `yaml:"timestamp"`
	Git           git.Fingerprint `yaml:"git"`
	Redactions    int             `yaml:"redactions,omitempty"`

	LegacyCreated string `yaml:"created,omitempty"`
	LegacyCommit  string `yaml:"git_commit,omitempty"`
	LegacyBranch  string `yaml:"git_branch,omitempty"`
	LegacyDirty   string `yaml:"dirty_files,omitempty"`
}

// Session is active_state/session.yaml, written fresh for every snapshot.
type Session struct {
	ID            string `yaml:"id"`
	CheckpointID  string `yaml:"checkpoint_id"`
	StartedAt     string `yaml:"started_at"`
	Host          string `yaml:"host,omitempty"`
	PID           int    `yaml:"pid"`
	Methodology   string `yaml:"methodology,omitempty"`
	ResearchPhase string `yaml:"research_phase,omitempty"`
	SDLCPhase     string `yaml:"sdlc_phase,omitempty"`
}

// Backup is backup.yaml inside a pre-restore backup directory.
type Backup struct {
	Target             string   `yaml:"target"`
	CreatedAt          string   `yaml:"created_at"`
	PreviousCheckpoint string   `yaml:"previous_checkpoint,omitempty"`
	Files              []string `yaml:"files"`
}

func migrateMetadata(m *Metadata) bool {
	if m.FormatVersion >= FormatVersion {
		return false
	}
	if m.Timestamp == "" {
		m.Timestamp = m.LegacyCreated
	}
	if m.Git.Commit == "" && m.LegacyCommit != "" {
		m.Git.Commit = m.LegacyCommit
		m.Git.Available = true
	}
	if m.Git.Branch == "" {
		m.Git.Branch = m.LegacyBranch
	}
	if m.Git.DirtyFiles == 0 && m.LegacyDirty != "" {
		m.Git.DirtyFiles, _ = strconv.Atoi(strings.TrimSpace(m.LegacyDirty))
	}
	m.LegacyCreated, m.LegacyCommit, m.LegacyBranch, m.LegacyDirty = "", "", "", ""
	if m.FormatVersion == 0 {
		m.FormatVersion = 1
	}
	return true
}

// snapshot is a resolved checkpoint directory.
type snapshot struct {
	id     string
	dir    string
	layout string
}

func (s snapshot) path(elem ...string) string {
	return filepath.Join(append([]string{s.dir}, elem...)...)
}

func (s snapshot) format() string {
	if manifest.Exists(s.dir) {
		return FormatManifest
	}
	return FormatLegacy
}

func (s snapshot) hasState() bool {
	return fileExists(s.path(layout.StateFile))
}

// resolve finds id in the current layout, then the two legacy layouts.
func resolve(l layout.Layout, id string) (snapshot, error) {
	p, seq, err := ParseID(id)
	if err != nil {
		return snapshot{}, err
	}
	candidates := []snapshot{
		{id: id, dir: l.SnapshotDir(id), layout: LayoutCurrent},
		{id: id, dir: l.LegacyCheckpointDir(id), layout: LayoutLegacyCheckpoints},
		{id: id, dir: l.LegacySnapshotDir(p.String(), fmt.Sprintf("%03d", seq)), layout: LayoutLegacySnapshots},
	}
	for _, c := range candidates {
		if info, err := os.Stat(c.dir); err == nil && info.IsDir() {
			return c, nil
		}
	}
	return snapshot{}, fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
}

func (s snapshot) readMetadata() (*Metadata, bool, error) {
	data, err := os.ReadFile(s.path(layout.MetadataFile))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read metadata: %w", err)
	}
	var m Metadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, false, fmt.Errorf("failed to parse metadata: %w", err)
	}
	migrated := migrateMetadata(&m)
	return &m, migrated, nil
}

// record is an agent or capability record read from a snapshot.
type record struct {
	data   []byte
	legacy bool
}

// readRecord prefers active_state/<name> and falls back to the version 1
// location at the snapshot root.
func (s snapshot) readRecord(name string) (*record, error) {
	for _, c := range []struct {
		path   string
		legacy bool
	}{
		{s.path(layout.ActiveStateDir, name), false},
		{s.path(name), true},
	} {
		data, err := os.ReadFile(c.path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		return &record{data: data, legacy: c.legacy}, nil
	}
	return nil, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// tail returns the last n lines of path, or nil when it does not exist.
func tail(path string, n int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []byte{}, nil
	}
	trimmed := bytes.TrimRight(data, "\n")
	if len(trimmed) == 0 {
		return []byte{}, nil
	}
	lines := bytes.Split(trimmed, []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return append(bytes.Join(lines, []byte("\n")), '\n'), nil
}
