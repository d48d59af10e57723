// Package activation records which agent role is active and which
// capabilities are enabled.
//
// The two records live at <root>/active/agent.yaml and
// <root>/active/capabilities.yaml. They are captured into every checkpoint
// and written back by restore, so their shape is part of the snapshot
// format. Names are checked against the registry catalogs when those exist.
package activation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/waypoint/internal/docstore"
	"github.com/fyrsmithlabs/waypoint/internal/layout"
	"github.com/fyrsmithlabs/waypoint/internal/logging"
	"github.com/fyrsmithlabs/waypoint/internal/phase"
	"github.com/fyrsmithlabs/waypoint/internal/registry"
	"github.com/fyrsmithlabs/waypoint/internal/txn"
)

// ErrNoActiveAgent is returned by Current when no agent has been activated.
var ErrNoActiveAgent = errors.New("no active agent")

// ErrInvalidRecord is returned when an active record fails to parse or
// validate.
var ErrInvalidRecord = errors.New("invalid active record")

// AgentRecord is active/agent.yaml.
type AgentRecord struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	ActivatedAt string `yaml:"activated_at" json:"activated_at" validate:"required"`
	Reason      string `yaml:"reason,omitempty" json:"reason,omitempty"`
	MacroPhase  string `yaml:"macro_phase,omitempty" json:"macro_phase,omitempty"`
	Methodology string `yaml:"methodology,omitempty" json:"methodology,omitempty"`
}

// CapabilitySet is active/capabilities.yaml.
type CapabilitySet struct {
	Enabled   []string `yaml:"enabled" json:"enabled" validate:"dive,required"`
	UpdatedAt string   `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Has reports whether name is enabled.
func (s *CapabilitySet) Has(name string) bool {
	return s != nil && slices.Contains(s.Enabled, name)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Activator mutates the active records of one root.
type Activator struct {
	layout   layout.Layout
	store    *docstore.Store
	registry *registry.Registry
	lock     phase.Locker
	logger   *logging.Logger
	now      func() time.Time
}

// Option configures an Activator.
type Option func(*Activator)

// WithRegistry validates names against reg.
func WithRegistry(reg *registry.Registry) Option {
	return func(a *Activator) { a.registry = reg }
}

// WithLocker wraps every mutation in the given lock.
func WithLocker(l phase.Locker) Option {
	return func(a *Activator) { a.lock = l }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Activator) { a.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Activator) { a.now = now }
}

// New creates an activator for the root described by l. store is read for
// the phase context stamped on agent records and may be nil.
func New(l layout.Layout, store *docstore.Store, opts ...Option) *Activator {
	a := &Activator{
		layout: l,
		store:  store,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Activator) acquire(ctx context.Context) (func(), error) {
	if a.lock == nil {
		return func() {}, nil
	}
	return a.lock(ctx)
}

// Activate makes name the active agent. If the registry lists default
// capabilities for the agent they are enabled in the same write.
func (a *Activator) Activate(ctx context.Context, name, reason string) (*AgentRecord, *CapabilitySet, error) {
	agent, err := a.registry.Agent(name)
	if err != nil {
		return nil, nil, err
	}

	release, err := a.acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	stamp := a.now().UTC().Format(time.RFC3339)
	rec := &AgentRecord{
		Name:        agent.Name,
		Description: agent.Description,
		ActivatedAt: stamp,
		Reason:      strings.Join(strings.Fields(reason), " "),
	}
	if a.store != nil {
		if doc, err := a.store.Load(); err == nil {
			if raw, ok := doc.Get(phase.KeyCurrentPhase); ok {
				if p, err := phase.ParseMacro(raw); err == nil {
					rec.MacroPhase = p.Label()
				}
			}
			rec.Methodology, _ = doc.Get(phase.KeyMethodology)
		}
	}

	tx := txn.Begin()
	defer tx.Rollback()
	if err := stage(tx, a.layout.AgentPath(), rec); err != nil {
		return nil, nil, err
	}

	var caps *CapabilitySet
	if len(agent.Capabilities) > 0 {
		current, err := a.capabilities()
		if err != nil {
			return nil, nil, err
		}
		caps = &CapabilitySet{Enabled: merge(current.Enabled, agent.Capabilities), UpdatedAt: stamp}
		if err := stage(tx, a.layout.CapabilitiesPath(), caps); err != nil {
			return nil, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to activate %s: %w", name, err)
	}

	a.logger.Info(ctx, "agent activated",
		zap.String("agent", rec.Name),
		zap.String("macro_phase", rec.MacroPhase),
		zap.Int("default_capabilities", len(agent.Capabilities)))
	return rec, caps, nil
}

// Enable adds capabilities to the enabled set.
func (a *Activator) Enable(ctx context.Context, names ...string) (*CapabilitySet, error) {
	for _, n := range names {
		if _, err := a.registry.Capability(n); err != nil {
			return nil, err
		}
	}
	return a.updateCapabilities(ctx, "capabilities enabled", names, func(cur []string) []string {
		return merge(cur, names)
	})
}

// Disable removes capabilities from the enabled set. Names that are not
// enabled are ignored.
func (a *Activator) Disable(ctx context.Context, names ...string) (*CapabilitySet, error) {
	return a.updateCapabilities(ctx, "capabilities disabled", names, func(cur []string) []string {
		return slices.DeleteFunc(slices.Clone(cur), func(s string) bool { return slices.Contains(names, s) })
	})
}

func (a *Activator) updateCapabilities(ctx context.Context, msg string, names []string, update func([]string) []string) (*CapabilitySet, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no capabilities named", registry.ErrInvalidName)
	}
	release, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := a.capabilities()
	if err != nil {
		return nil, err
	}
	next := &CapabilitySet{
		Enabled:   update(current.Enabled),
		UpdatedAt: a.now().UTC().Format(time.RFC3339),
	}
	data, err := yaml.Marshal(next)
	if err != nil {
		return nil, err
	}
	if err := txn.WriteFile(a.layout.CapabilitiesPath(), data); err != nil {
		return nil, fmt.Errorf("failed to write capabilities: %w", err)
	}
	a.logger.Info(ctx, msg, zap.Strings("names", names), zap.Int("enabled", len(next.Enabled)))
	return next, nil
}

// Current returns the active agent and enabled capabilities. The capability
// set is empty, never nil, when none are recorded.
func (a *Activator) Current() (*AgentRecord, *CapabilitySet, error) {
	caps, err := a.capabilities()
	if err != nil {
		return nil, nil, err
	}
	var rec AgentRecord
	ok, err := load(a.layout.AgentPath(), &rec)
	if err != nil {
		return nil, caps, err
	}
	if !ok {
		return nil, caps, ErrNoActiveAgent
	}
	return &rec, caps, nil
}

func (a *Activator) capabilities() (*CapabilitySet, error) {
	set := &CapabilitySet{}
	if _, err := load(a.layout.CapabilitiesPath(), set); err != nil {
		return nil, err
	}
	if set.Enabled == nil {
		set.Enabled = []string{}
	}
	return set, nil
}

func load(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, path, err)
	}
	if err := validate.Struct(out); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, path, err)
	}
	return true, nil
}

func stage(tx *txn.Tx, path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return tx.WriteFile(path, data)
}

// merge appends the names in add that base lacks, keeping order.
func merge(base, add []string) []string {
	out := slices.Clone(base)
	for _, n := range add {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}
