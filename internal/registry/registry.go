// Package registry reads the agent and capability catalogs of a waypoint
// root.
//
// Both catalogs are optional descriptive YAML files:
//
//	<root>/registry/
//	├── agents.yaml         ← roles that may be activated
//	└── capabilities.yaml   ← capabilities that may be enabled
//
// When a catalog file is absent the corresponding lookups accept any
// well-formed name, so a project without a registry still works.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Errors for registry operations.
var (
	ErrAgentNotFound      = errors.New("agent not in registry")
	ErrCapabilityNotFound = errors.New("capability not in registry")
	ErrInvalidName        = errors.New("invalid name: must be alphanumeric with hyphens/underscores")
	ErrPathTraversal      = errors.New("path traversal detected")
	ErrRegistryCorrupted  = errors.New("registry file corrupted")
)

// namePattern validates agent and capability names.
// Allows alphanumeric, hyphens, underscores, and dots.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Agent is one role in agents.yaml.
type Agent struct {
	Name         string   `yaml:"name" json:"name" validate:"required,max=255"`
	Description  string   `yaml:"description,omitempty" json:"description,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty" validate:"dive,required"`
	Phases       []string `yaml:"phases,omitempty" json:"phases,omitempty"`
}

// Capability is one entry in capabilities.yaml.
type Capability struct {
	Name        string `yaml:"name" json:"name" validate:"required,max=255"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type agentsFile struct {
	Agents []Agent `yaml:"agents" validate:"dive"`
}

type capabilitiesFile struct {
	Capabilities []Capability `yaml:"capabilities" validate:"dive"`
}

// Registry is a loaded pair of catalogs.
type Registry struct {
	agents       map[string]*Agent
	capabilities map[string]*Capability
	hasAgents    bool
	hasCaps      bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads both catalogs. Missing files are not an error.
func Load(agentsPath, capabilitiesPath string) (*Registry, error) {
	r := &Registry{
		agents:       make(map[string]*Agent),
		capabilities: make(map[string]*Capability),
	}

	var af agentsFile
	ok, err := readCatalog(agentsPath, &af)
	if err != nil {
		return nil, err
	}
	if ok {
		r.hasAgents = true
		for i := range af.Agents {
			a := &af.Agents[i]
			if err := ValidateName(a.Name); err != nil {
				return nil, fmt.Errorf("%w: %s: agent %q: %v", ErrRegistryCorrupted, filepath.Base(agentsPath), a.Name, err)
			}
			r.agents[a.Name] = a
		}
	}

	var cf capabilitiesFile
	ok, err = readCatalog(capabilitiesPath, &cf)
	if err != nil {
		return nil, err
	}
	if ok {
		r.hasCaps = true
		for i := range cf.Capabilities {
			c := &cf.Capabilities[i]
			if err := ValidateName(c.Name); err != nil {
				return nil, fmt.Errorf("%w: %s: capability %q: %v", ErrRegistryCorrupted, filepath.Base(capabilitiesPath), c.Name, err)
			}
			r.capabilities[c.Name] = c
		}
	}

	return r, nil
}

func readCatalog(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrRegistryCorrupted, filepath.Base(path), err)
	}
	if err := validate.Struct(out); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrRegistryCorrupted, filepath.Base(path), err)
	}
	return true, nil
}

// ValidateName checks if a name is safe to store and display.
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	if len(name) > 255 {
		return fmt.Errorf("%w: name too long (max 255)", ErrInvalidName)
	}
	if name == "." || name == ".." {
		return ErrPathTraversal
	}
	for _, c := range name {
		if c == '/' || c == '\\' || c == '\x00' {
			return ErrPathTraversal
		}
	}
	if !namePattern.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// HasAgents reports whether an agent catalog was loaded.
func (r *Registry) HasAgents() bool { return r != nil && r.hasAgents }

// HasCapabilities reports whether a capability catalog was loaded.
func (r *Registry) HasCapabilities() bool { return r != nil && r.hasCaps }

// Agent looks up name. Without an agent catalog every valid name resolves
// to a bare Agent.
func (r *Registry) Agent(name string) (*Agent, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if !r.HasAgents() {
		return &Agent{Name: name}, nil
	}
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return a, nil
}

// Capability looks up name, with the same fallback as Agent.
func (r *Registry) Capability(name string) (*Capability, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if !r.HasCapabilities() {
		return &Capability{Name: name}, nil
	}
	c, ok := r.capabilities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityNotFound, name)
	}
	return c, nil
}

// Agents returns the catalog sorted by name.
func (r *Registry) Agents() []Agent {
	if r == nil {
		return nil
	}
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Capabilities returns the catalog sorted by name.
func (r *Registry) Capabilities() []Capability {
	if r == nil {
		return nil
	}
	out := make([]Capability, 0, len(r.capabilities))
	for _, c := range r.capabilities {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
