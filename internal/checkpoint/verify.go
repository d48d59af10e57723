package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/waypoint/internal/docstore"
	"github.com/fyrsmithlabs/waypoint/internal/layout"
	"github.com/fyrsmithlabs/waypoint/internal/manifest"
	"github.com/fyrsmithlabs/waypoint/internal/phase"
)

// VerifyReport is the result of Verify. A report is valid iff it has no
// errors; warnings are advisory.
type VerifyReport struct {
	ID       string             `json:"id"`
	Dir      string             `json:"dir"`
	Layout   string             `json:"layout"`
	Format   string             `json:"format"`
	Errors   []string           `json:"errors"`
	Warnings []string           `json:"warnings"`
	Problems []manifest.Problem `json:"problems,omitempty"`
}

// Valid reports whether verification found no errors.
func (r *VerifyReport) Valid() bool {
	return len(r.Errors) == 0
}

func (r *VerifyReport) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *VerifyReport) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Verify checks a snapshot without modifying anything. Precondition
// failures (empty, malformed, or unknown id) are returned as errors;
// integrity failures are reported in the VerifyReport.
func (m *Manager) Verify(ctx context.Context, id string) (report *VerifyReport, err error) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "checkpoint.verify")
	span.SetAttributes(attribute.String("checkpoint.id", id))
	defer func() {
		result := resultOf(err)
		if err == nil && !report.Valid() {
			result = ResultInvalid
		}
		m.finish(ctx, span, "verify", start, result, err)
	}()

	snap, err := resolve(m.layout, id)
	if err != nil {
		return nil, err
	}
	report, err = m.verifySnapshot(snap)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("checkpoint.format", report.Format),
		attribute.Int("verify.errors", len(report.Errors)),
		attribute.Int("verify.warnings", len(report.Warnings)),
	)
	return report, nil
}

func (m *Manager) verifySnapshot(snap snapshot) (*VerifyReport, error) {
	r := &VerifyReport{
		ID:       snap.id,
		Dir:      snap.dir,
		Layout:   snap.layout,
		Format:   snap.format(),
		Errors:   []string{},
		Warnings: []string{},
	}

	if !snap.hasState() {
		r.errorf("state document copy missing")
	}
	if !fileExists(snap.path(layout.MetadataFile)) {
		r.warnf("metadata missing")
	} else if _, _, err := snap.readMetadata(); err != nil {
		r.warnf("metadata unreadable: %v", err)
	}
	if !fileExists(snap.path(layout.HandoffFile)) {
		r.warnf("handoff missing")
	}
	if snap.layout != LayoutCurrent {
		r.warnf("stored in %s layout", snap.layout)
	}

	if r.Format != FormatManifest {
		r.warnf("legacy format: no manifest, integrity cannot be verified")
		return r, nil
	}

	man, err := manifest.Read(snap.dir)
	if err != nil {
		r.errorf("manifest unreadable: %v", err)
		return r, nil
	}
	problems, err := manifest.Verify(snap.dir, man, m.digester)
	if err != nil {
		r.errorf("manifest check failed: %v", err)
		return r, nil
	}
	r.Problems = problems
	for _, p := range problems {
		r.errorf("%s", p.String())
	}
	return r, nil
}

// Info is a snapshot's provenance.
type Info struct {
	ID        string    `json:"id"`
	Dir       string    `json:"dir"`
	Layout    string    `json:"layout"`
	Format    string    `json:"format"`
	Message   string    `json:"message"`
	Timestamp string    `json:"timestamp"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	Migrated  bool      `json:"migrated"`
}

// Inspect resolves id and reads its provenance from metadata, falling back
// to the checkpoint log for snapshots without metadata.
func (m *Manager) Inspect(ctx context.Context, id string) (*Info, error) {
	snap, err := resolve(m.layout, id)
	if err != nil {
		return nil, err
	}
	info := &Info{ID: id, Dir: snap.dir, Layout: snap.layout, Format: snap.format()}

	meta, migrated, err := snap.readMetadata()
	if err != nil {
		m.logger.Warn(ctx, "snapshot metadata unreadable", zap.String("checkpoint.id", id), zap.Error(err))
	}
	if meta != nil {
		info.Metadata, info.Migrated = meta, migrated
		info.Message, info.Timestamp = meta.Message, meta.Timestamp
	}
	if info.Message == "" || info.Timestamp == "" {
		if e, ok, err := m.ledger.Find(id); err == nil && ok {
			if info.Message == "" {
				info.Message = e.Message
			}
			if info.Timestamp == "" {
				info.Timestamp = e.Time
			}
		}
	}
	return info, nil
}

// PhaseGroup is the checkpoints of one macro phase, oldest first.
type PhaseGroup struct {
	Phase   phase.Macro `json:"phase"`
	Label   string      `json:"label"`
	Entries []LogEntry  `json:"entries"`
}

// Listing is the grouped checkpoint log.
type Listing struct {
	Current string       `json:"current"`
	Groups  []PhaseGroup `json:"groups"`
	Events  []LogEntry   `json:"events"`
	Skipped int          `json:"skipped,omitempty"`
}

// List groups checkpoint log entries by macro phase and marks the entry the
// state document points at.
func (m *Manager) List(ctx context.Context) (listing *Listing, err error) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "checkpoint.list")
	defer func() { m.finish(ctx, span, "list", start, resultOf(err), err) }()

	entries, skipped, err := m.ledger.Entries()
	if err != nil {
		return nil, err
	}

	listing = &Listing{Skipped: skipped}
	cur, ok, gerr := m.store.Get(KeyCurrentCheckpoint)
	switch {
	case gerr == nil && ok:
		listing.Current = cur
	case gerr != nil && !errors.Is(gerr, docstore.ErrNotFound):
		m.logger.Warn(ctx, "state document unreadable, current checkpoint unknown", zap.Error(gerr))
	}

	byPhase := map[phase.Macro][]LogEntry{}
	for _, e := range entries {
		if !e.IsCheckpoint() {
			listing.Events = append(listing.Events, e)
			continue
		}
		e.Current = e.ID == listing.Current
		if snap, err := resolve(m.layout, e.ID); err == nil {
			e.Exists = snap.hasState()
		}
		byPhase[e.Phase] = append(byPhase[e.Phase], e)
	}
	for p := phase.FirstMacro; p <= phase.LastMacro; p++ {
		if len(byPhase[p]) == 0 {
			continue
		}
		listing.Groups = append(listing.Groups, PhaseGroup{Phase: p, Label: p.Label(), Entries: byPhase[p]})
	}

	span.SetAttributes(attribute.Int("checkpoint.count", len(entries)-len(listing.Events)))
	if skipped > 0 {
		m.logger.Warn(ctx, "skipped malformed checkpoint log lines", zap.Int("count", skipped))
	}
	return listing, nil
}
