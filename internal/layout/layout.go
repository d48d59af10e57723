// Package layout names every path under a waypoint root.
package layout

import (
	"path/filepath"
)

// Snapshot-relative file names.
const (
	StateFile        = "state.yaml"
	HandoffFile      = "handoff.md"
	MetadataFile     = "metadata.yaml"
	ActiveStateDir   = "active_state"
	ContextDir       = "context"
	AgentFile        = "agent.yaml"
	CapabilitiesFile = "capabilities.yaml"
	SessionFile      = "session.yaml"
	DecisionsFile    = "decisions.log"
	ExecutionFile    = "execution.log"
	BackupFile       = "backup.yaml"
	BackupPrefix     = "backup_"
)

// Layout resolves paths relative to a waypoint root directory.
type Layout struct {
	Root string
}

// New returns the layout for root.
func New(root string) Layout {
	return Layout{Root: root}
}

func (l Layout) path(elem ...string) string {
	return filepath.Join(append([]string{l.Root}, elem...)...)
}

func (l Layout) StatePath() string             { return l.path(StateFile) }
func (l Layout) LogPath() string               { return l.path("checkpoints.log") }
func (l Layout) HandoffPath() string           { return l.path(HandoffFile) }
func (l Layout) AgentPath() string             { return l.path("active", AgentFile) }
func (l Layout) CapabilitiesPath() string      { return l.path("active", CapabilitiesFile) }
func (l Layout) DecisionLogPath() string       { return l.path("logs", DecisionsFile) }
func (l Layout) ExecutionLogPath() string      { return l.path("logs", ExecutionFile) }
func (l Layout) ProjectConfigPath() string     { return l.path("project.toml") }
func (l Layout) AgentRegistryPath() string     { return l.path("registry", "agents.yaml") }
func (l Layout) CapabilityCatalogPath() string { return l.path("registry", CapabilitiesFile) }
func (l Layout) SecretsAllowlistPath() string  { return l.path("secrets-allowlist.toml") }
func (l Layout) LockPath() string              { return l.path(".lock") }

// SnapshotsDir holds current-format snapshots and pre-restore backups.
func (l Layout) SnapshotsDir() string { return l.path("checkpoints", "snapshots") }

// SnapshotDir is the current-format location of a checkpoint.
func (l Layout) SnapshotDir(id string) string { return filepath.Join(l.SnapshotsDir(), id) }

// BackupDir is the location of a pre-restore backup.
func (l Layout) BackupDir(stamp string) string {
	return filepath.Join(l.SnapshotsDir(), BackupPrefix+stamp)
}

// LegacyCheckpointDir is the pre-snapshots layout, checkpoints/<id>.
func (l Layout) LegacyCheckpointDir(id string) string { return l.path("checkpoints", id) }

// LegacySnapshotDir is the oldest layout, snapshots/<phase>_<seq>.
func (l Layout) LegacySnapshotDir(phase, seq string) string {
	return l.path("snapshots", phase+"_"+seq)
}
