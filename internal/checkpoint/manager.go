package checkpoint

import (
	"context"
	"errors"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/waypoint/internal/docstore"
	"github.com/fyrsmithlabs/waypoint/internal/layout"
	"github.com/fyrsmithlabs/waypoint/internal/logging"
	"github.com/fyrsmithlabs/waypoint/internal/manifest"
	"github.com/fyrsmithlabs/waypoint/internal/recovery"
	"github.com/fyrsmithlabs/waypoint/internal/secrets"
	"github.com/fyrsmithlabs/waypoint/internal/telemetry"
	"github.com/fyrsmithlabs/waypoint/internal/txn"
	"github.com/fyrsmithlabs/waypoint/pkg/git"
)

const instrumentationName = "github.com/fyrsmithlabs/waypoint/internal/checkpoint"

// KeyCurrentCheckpoint is the state document key naming the latest snapshot.
const KeyCurrentCheckpoint = "workflow.current_checkpoint"

// Recovery keys set on the live document by Restore.
const (
	KeyRestored     = "recovery.restored"
	KeyRestoredFrom = "recovery.restored_from"
	KeyRestoredAt   = "recovery.restored_at"
	KeyBackup       = "recovery.backup"
)

// Default log tail lengths captured into each snapshot.
const (
	DefaultDecisionTail  = 100
	DefaultExecutionTail = 200
)

// Operation results recorded in metrics.
const (
	ResultSuccess   = "success"
	ResultError     = "error"
	ResultInvalid   = "invalid"
	ResultCancelled = "cancelled"
)

// Recorder receives operation outcomes, typically for Prometheus.
type Recorder interface {
	ObserveOperation(operation, result string)
	SetCompleteness(score int)
	SetLastCreated(t time.Time)
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
	// IsInteractive reports whether a human answers. Only an interactive
	// confirmer may override a failed integrity check.
	IsInteractive() bool
}

// Manager performs checkpoint operations on one waypoint root.
type Manager struct {
	layout     layout.Layout
	projectDir string
	store      *docstore.Store
	ledger     *Ledger
	scorer     *recovery.Scorer

	digester  manifest.Digester
	scrubber  *secrets.Scrubber
	recorder  Recorder
	logger    *logging.Logger
	now       func() time.Time
	txOpts    []txn.Option
	decisions int
	execution int

	locking     bool
	lockTimeout time.Duration

	autoCommit  bool
	fingerprint func(dir string) (git.Fingerprint, error)
	commit      func(dir string, paths []string, msg string) (string, error)

	tracer   trace.Tracer
	meter    metric.Meter
	ops      metric.Int64Counter
	duration metric.Float64Histogram
}

// Option configures a Manager.
type Option func(*Manager)

// WithProjectDir sets the directory used for git provenance and auto-commit.
// It defaults to the parent of the waypoint root.
func WithProjectDir(dir string) Option {
	return func(m *Manager) { m.projectDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTelemetry takes tracer and meter from t instead of the otel globals.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(m *Manager) {
		m.tracer = t.Tracer(instrumentationName)
		m.meter = t.Meter(instrumentationName)
	}
}

// WithDigester overrides the manifest digest algorithm.
func WithDigester(d manifest.Digester) Option {
	return func(m *Manager) { m.digester = d }
}

// WithScrubber redacts secrets from captured log tails.
func WithScrubber(s *secrets.Scrubber) Option {
	return func(m *Manager) { m.scrubber = s }
}

// WithRecorder reports outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTxOptions passes options to the restore transaction.
func WithTxOptions(opts ...txn.Option) Option {
	return func(m *Manager) { m.txOpts = append(m.txOpts, opts...) }
}

// WithTails sets how many decision and execution log lines are captured.
func WithTails(decisions, execution int) Option {
	return func(m *Manager) {
		m.decisions = decisions
		m.execution = execution
	}
}

// WithLock serializes Create and Restore with an advisory lock on the root.
func WithLock(timeout time.Duration) Option {
	return func(m *Manager) {
		m.locking = true
		m.lockTimeout = timeout
	}
}

// WithAutoCommit commits every new snapshot to the project repository.
func WithAutoCommit(enabled bool) Option {
	return func(m *Manager) { m.autoCommit = enabled }
}

// WithGit replaces the git provenance and commit functions.
func WithGit(fingerprint func(string) (git.Fingerprint, error), commit func(string, []string, string) (string, error)) Option {
	return func(m *Manager) {
		if fingerprint != nil {
			m.fingerprint = fingerprint
		}
		if commit != nil {
			m.commit = commit
		}
	}
}

// NewManager creates a manager for the root described by l. store must point
// at l.StatePath().
func NewManager(l layout.Layout, store *docstore.Store, opts ...Option) *Manager {
	m := &Manager{
		layout:      l,
		store:       store,
		ledger:      NewLedger(l.LogPath()),
		scorer:      recovery.NewScorer(l, store),
		digester:    manifest.SHA256{},
		scrubber:    secrets.Disabled(),
		logger:      logging.NewNop(),
		now:         time.Now,
		decisions:   DefaultDecisionTail,
		execution:   DefaultExecutionTail,
		fingerprint: git.Capture,
		commit:      git.Commit,
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.projectDir == "" {
		m.projectDir = parentDir(l.Root)
	}
	m.initMetrics()
	return m
}

func (m *Manager) initMetrics() {
	var err error

	m.ops, err = m.meter.Int64Counter(
		"waypoint.checkpoint.operations",
		metric.WithDescription("Checkpoint operations by operation and result"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create operations counter", zap.Error(err))
	}

	m.duration, err = m.meter.Float64Histogram(
		"waypoint.checkpoint.duration",
		metric.WithDescription("Checkpoint operation duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create duration histogram", zap.Error(err))
	}
}

// Ledger returns the checkpoint log.
func (m *Manager) Ledger() *Ledger { return m.ledger }

// Layout returns the root layout.
func (m *Manager) Layout() layout.Layout { return m.layout }

// Score runs the completeness checklist and records it.
func (m *Manager) Score() recovery.Score {
	score := m.scorer.Score()
	if m.recorder != nil {
		m.recorder.SetCompleteness(score.Total)
	}
	return score
}

// acquire takes the root lock when locking is enabled and the root exists.
func (m *Manager) acquire(ctx context.Context) (func(), error) {
	if !m.locking {
		return func() {}, nil
	}
	if info, err := os.Stat(m.layout.Root); err != nil || !info.IsDir() {
		return func() {}, nil
	}
	lock, err := txn.Acquire(ctx, m.layout.LockPath(), m.lockTimeout)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Release(); err != nil {
			m.logger.Warn(ctx, "failed to release lock", zap.Error(err))
		}
	}, nil
}

// Locker adapts the manager's lock for other mutators of the same root.
func (m *Manager) Locker() func(ctx context.Context) (func(), error) {
	return m.acquire
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrRestoreCancelled):
		return ResultCancelled
	default:
		return ResultError
	}
}

// finish ends span and records the outcome of op.
func (m *Manager) finish(ctx context.Context, span trace.Span, op string, start time.Time, result string, err error) {
	if err != nil && result == ResultError {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("result", result))

	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("result", result),
	)
	if m.ops != nil {
		m.ops.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if m.recorder != nil {
		m.recorder.ObserveOperation(op, result)
	}
	span.End()
}
