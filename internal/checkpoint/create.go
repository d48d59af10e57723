package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/waypoint/internal/docstore"
	"github.com/fyrsmithlabs/waypoint/internal/layout"
	"github.com/fyrsmithlabs/waypoint/internal/logging"
	"github.com/fyrsmithlabs/waypoint/internal/manifest"
	"github.com/fyrsmithlabs/waypoint/internal/phase"
	"github.com/fyrsmithlabs/waypoint/internal/txn"
	"github.com/fyrsmithlabs/waypoint/pkg/git"
)

// Progress is capped below 100 until a phase is explicitly completed.
const (
	progressStep = 10
	progressCap  = 95
)

// CreateResult describes a new checkpoint.
type CreateResult struct {
	ID         string          `json:"id"`
	Phase      phase.Macro     `json:"phase"`
	Sequence   int             `json:"sequence"`
	Dir        string          `json:"dir"`
	Message    string          `json:"message"`
	Timestamp  string          `json:"timestamp"`
	Progress   int             `json:"progress"`
	Files      int             `json:"files"`
	Redactions int             `json:"redactions"`
	Git        git.Fingerprint `json:"git"`
	Commit     string          `json:"commit,omitempty"`
}

// Progress returns the presentation estimate for count checkpoints in a
// phase.
func Progress(count int) int {
	return min(count*progressStep, progressCap)
}

// Create snapshots the live state as a new checkpoint in the current macro
// phase. The live document is committed only after the snapshot and its
// manifest are complete; on failure the partial snapshot is removed and the
// live document is untouched.
func (m *Manager) Create(ctx context.Context, message string) (res *CreateResult, err error) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "checkpoint.create")
	defer func() { m.finish(ctx, span, "create", start, resultOf(err), err) }()

	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := m.store.Load()
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: no state document at %s", ErrNotInitialized, m.store.Path())
	}
	if err != nil {
		return nil, err
	}

	raw, _ := doc.Get(phase.KeyCurrentPhase)
	p, err := phase.ParseMacro(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPhase, raw)
	}

	count, err := m.ledger.CountPhase(p)
	if err != nil {
		return nil, err
	}
	seq := count + 1
	for dirExists(m.layout.SnapshotDir(FormatID(p, seq))) {
		seq++
	}
	id := FormatID(p, seq)
	ctx = logging.WithCheckpointID(ctx, id)
	span.SetAttributes(
		attribute.String("checkpoint.id", id),
		attribute.Int("checkpoint.phase", int(p)),
	)

	message = flatten(message)
	if message == "" {
		message = "checkpoint"
	}
	now := m.now().UTC()
	stamp := now.Format(timeLayout)

	progress := Progress(count + 1)
	if cur, ok := doc.Get(p.ProgressKey()); ok {
		if n, err := strconv.Atoi(cur); err == nil && n > progress {
			progress = n
		}
	}
	for _, kv := range [][2]string{
		{KeyCurrentCheckpoint, id},
		{phase.KeyLastUpdated, stamp},
		{p.ProgressKey(), strconv.Itoa(progress)},
	} {
		if err := doc.Set(kv[0], kv[1]); err != nil {
			return nil, fmt.Errorf("failed to update state document: %w", err)
		}
	}
	state, err := doc.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state document: %w", err)
	}

	fp, ferr := m.fingerprint(m.projectDir)
	if ferr != nil {
		m.logger.Warn(ctx, "git provenance unavailable", zap.Error(ferr))
	}

	res = &CreateResult{
		ID:        id,
		Phase:     p,
		Sequence:  seq,
		Dir:       m.layout.SnapshotDir(id),
		Message:   message,
		Timestamp: stamp,
		Progress:  progress,
		Git:       fp,
	}
	meta := Metadata{
		FormatVersion: FormatVersion,
		ID:            id,
		Phase:         int(p),
		Sequence:      seq,
		Message:       message,
		Timestamp:     stamp,
		Git:           fp,
	}

	files, redactions, err := m.materialize(ctx, res.Dir, meta, state, doc, now)
	if err != nil {
		m.discard(ctx, res.Dir)
		return nil, fmt.Errorf("failed to write snapshot %s: %w", id, err)
	}
	res.Files, res.Redactions = files, redactions

	if err := m.store.Write(doc); err != nil {
		m.discard(ctx, res.Dir)
		return nil, err
	}
	if _, err := m.ledger.Append(now, id, message); err != nil {
		return nil, fmt.Errorf("checkpoint %s was written but not logged: %w", id, err)
	}
	if m.recorder != nil {
		m.recorder.SetLastCreated(now)
	}

	if m.autoCommit {
		paths := []string{res.Dir, m.layout.StatePath(), m.layout.LogPath()}
		hash, err := m.commit(m.projectDir, paths, fmt.Sprintf("waypoint: %s %s", id, message))
		if err != nil {
			m.logger.Warn(ctx, "auto-commit failed", zap.Error(err))
		} else {
			res.Commit = hash
		}
	}

	m.logger.Info(ctx, "checkpoint created",
		zap.String("phase", p.Label()),
		zap.Int("progress", progress),
		zap.Int("files", files),
		zap.Int("redactions", redactions),
	)
	return res, nil
}

// materialize writes every snapshot file and then the manifest. It returns
// the number of covered files and the number of redacted secrets.
func (m *Manager) materialize(ctx context.Context, dir string, meta Metadata, state []byte, doc docstore.Document, now time.Time) (int, int, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return 0, 0, err
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return 0, 0, err
	}
	put := func(data []byte, elem ...string) error {
		return txn.WriteFile(filepath.Join(append([]string{dir}, elem...)...), data)
	}

	if err := put(state, layout.StateFile); err != nil {
		return 0, 0, err
	}
	if fileExists(m.layout.HandoffPath()) {
		if err := txn.CopyFile(m.layout.HandoffPath(), filepath.Join(dir, layout.HandoffFile)); err != nil {
			return 0, 0, err
		}
	}
	for _, rec := range []struct{ src, name string }{
		{m.layout.AgentPath(), layout.AgentFile},
		{m.layout.CapabilitiesPath(), layout.CapabilitiesFile},
	} {
		if !fileExists(rec.src) {
			continue
		}
		if err := txn.CopyFile(rec.src, filepath.Join(dir, layout.ActiveStateDir, rec.name)); err != nil {
			return 0, 0, err
		}
	}

	session, err := yaml.Marshal(newSession(meta.ID, doc, now))
	if err != nil {
		return 0, 0, err
	}
	if err := put(session, layout.ActiveStateDir, layout.SessionFile); err != nil {
		return 0, 0, err
	}

	for _, t := range []struct {
		src, name string
		lines     int
	}{
		{m.layout.DecisionLogPath(), layout.DecisionsFile, m.decisions},
		{m.layout.ExecutionLogPath(), layout.ExecutionFile, m.execution},
	} {
		data, err := tail(t.src, t.lines)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read %s: %w", t.name, err)
		}
		if data == nil {
			continue
		}
		scrubbed := m.scrubber.Scrub(string(data))
		meta.Redactions += len(scrubbed.Findings)
		if err := put([]byte(scrubbed.Content), layout.ContextDir, t.name); err != nil {
			return 0, 0, err
		}
	}
	if err := m.scrubber.Err(); err != nil {
		m.logger.Warn(ctx, "gitleaks detector unavailable, regexp rules only", zap.Error(err))
	}

	metadata, err := yaml.Marshal(meta)
	if err != nil {
		return 0, 0, err
	}
	if err := put(metadata, layout.MetadataFile); err != nil {
		return 0, 0, err
	}

	man, err := manifest.Build(dir, m.digester)
	if err != nil {
		return 0, 0, err
	}
	if err := manifest.Write(dir, man); err != nil {
		return 0, 0, err
	}
	return len(man.Files), meta.Redactions, nil
}

func newSession(id string, doc docstore.Document, now time.Time) Session {
	s := Session{
		ID:           uuid.NewString(),
		CheckpointID: id,
		StartedAt:    now.Format(timeLayout),
		PID:          os.Getpid(),
	}
	s.Host, _ = os.Hostname()
	s.Methodology, _ = doc.Get(phase.KeyMethodology)
	s.ResearchPhase, _ = doc.Get(phase.Research().Field())
	s.SDLCPhase, _ = doc.Get(phase.SDLC().Field())
	return s
}

func (m *Manager) discard(ctx context.Context, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn(ctx, "failed to remove partial snapshot", zap.String("dir", dir), zap.Error(err))
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func parentDir(root string) string {
	return filepath.Dir(strings.TrimRight(root, string(filepath.Separator)))
}
