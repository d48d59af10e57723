package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/waypoint/internal/layout"
	"github.com/fyrsmithlabs/waypoint/internal/logging"
	"github.com/fyrsmithlabs/waypoint/internal/recovery"
	"github.com/fyrsmithlabs/waypoint/internal/txn"
)

const backupStampLayout = "20060102T150405Z"

// RestoreOptions controls the operator gates of Restore.
type RestoreOptions struct {
	// Force skips the confirmation prompt. It does not bypass a failed
	// integrity check.
	Force bool

	// AllowCorrupt restores a snapshot that failed verification.
	AllowCorrupt bool

	// Confirmer answers the confirmation and corruption prompts.
	Confirmer Confirmer
}

// RestoreResult describes a completed restore.
type RestoreResult struct {
	ID                 string         `json:"id"`
	Info               *Info          `json:"info"`
	Report             *VerifyReport  `json:"report,omitempty"`
	BackupDir          string         `json:"backup_dir"`
	Files              []string       `json:"files"`
	MigratedRecords    bool           `json:"migrated_records"`
	OverrodeCorruption bool           `json:"overrode_corruption"`
	Score              recovery.Score `json:"score"`
}

// Restore replaces the live state with snapshot id. The live state document,
// handoff, agent and capability records are first copied into a backup
// directory, then replaced together in one transaction. If the commit fails
// every live file is left as it was.
func (m *Manager) Restore(ctx context.Context, id string, opts RestoreOptions) (res *RestoreResult, err error) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "checkpoint.restore")
	span.SetAttributes(attribute.String("checkpoint.id", id))
	ctx = logging.WithCheckpointID(ctx, id)
	defer func() { m.finish(ctx, span, "restore", start, resultOf(err), err) }()

	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	snap, err := resolve(m.layout, id)
	if err != nil {
		return nil, err
	}
	if !snap.hasState() {
		return nil, fmt.Errorf("%w: %s has no state document", ErrCorruptCheckpoint, id)
	}

	info, err := m.Inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	res = &RestoreResult{ID: id, Info: info}
	m.logger.Info(ctx, "restoring checkpoint",
		zap.String("message", info.Message),
		zap.String("timestamp", info.Timestamp),
		zap.String("format", info.Format),
	)

	if info.Format == FormatManifest {
		report, err := m.verifySnapshot(snap)
		if err != nil {
			return nil, err
		}
		res.Report = report
		if !report.Valid() {
			if err := m.overrideCorruption(ctx, id, report, opts); err != nil {
				return nil, err
			}
			res.OverrodeCorruption = true
		}
	} else {
		m.logger.Warn(ctx, "restoring legacy checkpoint without integrity check")
	}

	if !opts.Force {
		if opts.Confirmer == nil {
			return nil, ErrConfirmationRequired
		}
		prompt := fmt.Sprintf("Restore %s (%q, %s)? Current state will be backed up first.", id, info.Message, info.Timestamp)
		ok, err := opts.Confirmer.Confirm(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("confirmation failed: %w", err)
		}
		if !ok {
			return nil, ErrRestoreCancelled
		}
	}

	now := m.now().UTC()
	backupDir, err := m.backup(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("failed to back up live state: %w", err)
	}
	res.BackupDir = backupDir
	span.SetAttributes(attribute.String("checkpoint.backup", filepath.Base(backupDir)))

	files, migrated, err := m.replaceLive(snap, filepath.Base(backupDir), now)
	if err != nil {
		return nil, fmt.Errorf("failed to restore %s: %w", id, err)
	}
	res.Files, res.MigratedRecords = files, migrated

	if _, err := m.ledger.Append(now, restoredTag+":"+id, "restored, backup "+filepath.Base(backupDir)); err != nil {
		m.logger.Warn(ctx, "failed to log restore", zap.Error(err))
	}

	res.Score = m.Score()
	m.logger.Info(ctx, "checkpoint restored",
		zap.String("backup", backupDir),
		zap.Int("completeness", res.Score.Total),
		zap.Bool("migrated_records", migrated),
	)
	return res, nil
}

// overrideCorruption returns nil only when the operator explicitly accepts a
// snapshot that failed verification.
func (m *Manager) overrideCorruption(ctx context.Context, id string, report *VerifyReport, opts RestoreOptions) error {
	corrupt := fmt.Errorf("%w: %s: %s", ErrCorruptCheckpoint, id, strings.Join(report.Errors, "; "))
	if opts.AllowCorrupt {
		m.logger.Warn(ctx, "restoring checkpoint that failed verification", zap.Strings("errors", report.Errors))
		return nil
	}
	if opts.Confirmer == nil || !opts.Confirmer.IsInteractive() {
		return corrupt
	}
	ok, err := opts.Confirmer.Confirm(ctx, fmt.Sprintf("%s failed verification (%d errors). Restore anyway?", id, len(report.Errors)))
	if err != nil || !ok {
		return corrupt
	}
	m.logger.Warn(ctx, "operator overrode failed verification", zap.Strings("errors", report.Errors))
	return nil
}

// backup copies the live files into a fresh backup directory.
func (m *Manager) backup(ctx context.Context, target string, now time.Time) (string, error) {
	stamp := now.Format(backupStampLayout)
	dir := m.layout.BackupDir(stamp)
	for i := 2; dirExists(dir); i++ {
		dir = m.layout.BackupDir(fmt.Sprintf("%s_%d", stamp, i))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	info := Backup{Target: target, CreatedAt: now.Format(timeLayout), Files: []string{}}
	if cur, ok, err := m.store.Get(KeyCurrentCheckpoint); err == nil && ok {
		info.PreviousCheckpoint = cur
	}

	for _, f := range []struct{ src, rel string }{
		{m.layout.StatePath(), layout.StateFile},
		{m.layout.HandoffPath(), layout.HandoffFile},
		{m.layout.AgentPath(), filepath.Join(layout.ActiveStateDir, layout.AgentFile)},
		{m.layout.CapabilitiesPath(), filepath.Join(layout.ActiveStateDir, layout.CapabilitiesFile)},
	} {
		if !fileExists(f.src) {
			continue
		}
		if err := txn.CopyFile(f.src, filepath.Join(dir, f.rel)); err != nil {
			m.discard(ctx, dir)
			return "", err
		}
		info.Files = append(info.Files, filepath.ToSlash(f.rel))
	}

	data, err := yaml.Marshal(info)
	if err == nil {
		err = txn.WriteFile(filepath.Join(dir, layout.BackupFile), data)
	}
	if err != nil {
		m.discard(ctx, dir)
		return "", err
	}
	return dir, nil
}

// replaceLive stages the snapshot's files over the live ones and commits.
func (m *Manager) replaceLive(snap snapshot, backup string, now time.Time) ([]string, bool, error) {
	data, err := os.ReadFile(snap.path(layout.StateFile))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	doc, err := m.store.Parse(data)
	if err != nil {
		return nil, false, fmt.Errorf("%w: state document copy: %v", ErrCorruptCheckpoint, err)
	}
	stamp := now.Format(timeLayout)
	for _, kv := range [][2]string{
		{KeyCurrentCheckpoint, snap.id},
		{KeyRestored, "true"},
		{KeyRestoredFrom, snap.id},
		{KeyRestoredAt, stamp},
		{KeyBackup, backup},
		{"workflow.last_updated", stamp},
	} {
		if err := doc.Set(kv[0], kv[1]); err != nil {
			return nil, false, err
		}
	}

	tx := txn.Begin(m.txOpts...)
	defer tx.Rollback()

	files := []string{layout.StateFile}
	if err := m.store.Stage(tx, doc); err != nil {
		return nil, false, err
	}
	if src := snap.path(layout.HandoffFile); fileExists(src) {
		if err := tx.CopyFile(src, m.layout.HandoffPath()); err != nil {
			return nil, false, err
		}
		files = append(files, layout.HandoffFile)
	}

	migrated := false
	for _, r := range []struct{ name, dst string }{
		{layout.AgentFile, m.layout.AgentPath()},
		{layout.CapabilitiesFile, m.layout.CapabilitiesPath()},
	} {
		rec, err := snap.readRecord(r.name)
		if err != nil {
			return nil, false, err
		}
		if rec == nil {
			continue
		}
		if err := tx.WriteFile(r.dst, rec.data); err != nil {
			return nil, false, err
		}
		migrated = migrated || rec.legacy
		files = append(files, r.name)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return files, migrated, nil
}

// IsPrecondition reports whether err is a precondition failure rather than
// an integrity or write failure.
func IsPrecondition(err error) bool {
	for _, target := range []error{ErrNotInitialized, ErrInvalidPhase, ErrEmptyID, ErrInvalidID, ErrCheckpointNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
