package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/waypoint/internal/activation"
	"github.com/fyrsmithlabs/waypoint/internal/checkpoint"
	"github.com/fyrsmithlabs/waypoint/internal/config"
	"github.com/fyrsmithlabs/waypoint/internal/docstore"
	"github.com/fyrsmithlabs/waypoint/internal/layout"
	"github.com/fyrsmithlabs/waypoint/internal/logging"
	"github.com/fyrsmithlabs/waypoint/internal/metrics"
	"github.com/fyrsmithlabs/waypoint/internal/phase"
	"github.com/fyrsmithlabs/waypoint/internal/prompt"
	"github.com/fyrsmithlabs/waypoint/internal/registry"
	"github.com/fyrsmithlabs/waypoint/internal/secrets"
	"github.com/fyrsmithlabs/waypoint/internal/telemetry"
)

// gitleaksConfig is the project-level allowlist file shared with gitleaks.
const gitleaksConfig = ".gitleaks.toml"

// app holds the services one command invocation needs.
type app struct {
	opts       *options
	projectDir string
	cfg        *config.Config
	layout     layout.Layout

	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	metrics   *metrics.Metrics

	store     *docstore.Store
	manager   *checkpoint.Manager
	phases    *phase.Controller
	activator *activation.Activator
	registry  *registry.Registry
	confirmer prompt.Confirmer

	// problems are setup failures a lenient app tolerated.
	problems []string
}

// newApp loads configuration and wires every service. Callers must Close
// the result.
//
// A lenient app falls back to defaults when the config file cannot be
// loaded and to a disabled scrubber when the allowlists cannot be read,
// recording each failure in problems. Reporting commands use it so they
// can always describe the state.
func newApp(cmd *cobra.Command, opts *options, lenient bool) (*app, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	projectDir := opts.projectDir
	if projectDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		projectDir = wd
	}
	projectDir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	var problems []string
	loadOpts := config.LoadOptions{ProjectDir: projectDir, Root: opts.root, File: opts.configFile}
	cfg, err := config.Load(loadOpts)
	if err != nil {
		if !lenient {
			return nil, err
		}
		problems = append(problems, err.Error())
		if cfg, err = config.DefaultFor(loadOpts); err != nil {
			return nil, err
		}
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	a := &app{
		opts:       opts,
		projectDir: projectDir,
		cfg:        cfg,
		layout:     layout.New(cfg.Root),
		metrics:    metrics.New(),
		problems:   problems,
	}

	// Telemetry comes first so the logger can bridge into its log provider.
	a.telemetry, err = telemetry.New(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := a.initLogger(cmd); err != nil {
		return nil, err
	}
	for _, p := range problems {
		a.logger.Warn(ctx, "using default configuration", zap.String("reason", p))
	}
	for _, derr := range a.telemetry.Degraded() {
		a.logger.Warn(ctx, "telemetry degraded", zap.Error(derr))
	}

	a.store, err = docstore.New(a.layout.StatePath(), docstore.WithMode(cfg.State.Codec))
	if err != nil {
		return nil, fmt.Errorf("failed to open state document: %w", err)
	}

	scrubber, err := a.newScrubber()
	if err != nil {
		if !lenient {
			return nil, err
		}
		a.logger.Warn(ctx, "secret scrubbing disabled", zap.Error(err))
		a.problems = append(a.problems, err.Error())
		scrubber = secrets.Disabled()
	}

	mopts := []checkpoint.Option{
		checkpoint.WithProjectDir(projectDir),
		checkpoint.WithLogger(a.logger),
		checkpoint.WithTelemetry(a.telemetry),
		checkpoint.WithScrubber(scrubber),
		checkpoint.WithRecorder(a.metrics),
		checkpoint.WithTails(cfg.Checkpoint.DecisionTail, cfg.Checkpoint.ExecutionTail),
		checkpoint.WithAutoCommit(cfg.Checkpoint.AutoCommit),
	}
	if cfg.Checkpoint.Lock {
		mopts = append(mopts, checkpoint.WithLock(cfg.Checkpoint.LockTimeout.Duration()))
	}
	a.manager = checkpoint.NewManager(a.layout, a.store, mopts...)

	a.phases = phase.NewController(a.store,
		phase.WithDecisionLog(a.layout.DecisionLogPath()),
		phase.WithLocker(a.manager.Locker()),
		phase.WithLogger(a.logger),
	)

	a.registry, err = registry.Load(a.layout.AgentRegistryPath(), a.layout.CapabilityCatalogPath())
	if err != nil {
		// A broken catalog only disables validation; the records still work.
		a.logger.Warn(ctx, "registry unavailable", zap.Error(err))
		a.registry = nil
	}
	a.activator = activation.New(a.layout, a.store,
		activation.WithRegistry(a.registry),
		activation.WithLocker(a.manager.Locker()),
		activation.WithLogger(a.logger),
	)

	a.confirmer = prompt.Select(os.Stdin, os.Stdout, opts.yes)
	return a, nil
}

func (a *app) initLogger(cmd *cobra.Command) error {
	logCfg, err := logging.FromConfig(a.cfg.Logging)
	if err != nil {
		return err
	}
	logCfg.Output.Writer = cmd.ErrOrStderr()

	a.logger, err = logging.NewLogger(logCfg, a.telemetry.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	return nil
}

func (a *app) newScrubber() (*secrets.Scrubber, error) {
	if !a.cfg.Checkpoint.ScrubSecrets {
		return secrets.Disabled(), nil
	}
	allow, err := secrets.LoadAllowlists(
		a.layout.SecretsAllowlistPath(),
		filepath.Join(a.projectDir, gitleaksConfig),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load secrets allowlist: %w", err)
	}
	s, err := secrets.New(secrets.WithAllowlist(allow), secrets.WithGitleaks(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets scrubber: %w", err)
	}
	return s, nil
}

// Close flushes metrics and telemetry. Errors are logged, not
// returned, so they never mask the command's own result.
func (a *app) Close(ctx context.Context) {
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warn(ctx, "failed to write metrics textfile", zap.Error(err))
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// run wires an app, calls fn, and closes the app.
func run(cmd *cobra.Command, opts *options, fn func(ctx context.Context, a *app) error) error {
	return runApp(cmd, opts, false, fn)
}

// runReport is run for commands that must report rather than fail on a
// broken configuration.
func runReport(cmd *cobra.Command, opts *options, fn func(ctx context.Context, a *app) error) error {
	return runApp(cmd, opts, true, fn)
}

func runApp(cmd *cobra.Command, opts *options, lenient bool, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cmd, opts, lenient)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithProject(ctx, filepath.Base(a.projectDir))
	defer a.Close(ctx)
	return fn(ctx, a)
}
