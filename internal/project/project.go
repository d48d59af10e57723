package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/fyrsmithlabs/waypoint/internal/txn"
)

// Common errors.
var (
	ErrProjectNotFound    = errors.New("project config not found")
	ErrProjectExists      = errors.New("project config already exists")
	ErrInvalidProjectID   = errors.New("invalid project ID")
	ErrInvalidMethodology = errors.New("invalid methodology")
	ErrEmptyProjectID     = errors.New("project ID cannot be empty")
	ErrEmptyProjectName   = errors.New("project name cannot be empty")
	ErrEmptyProjectPath   = errors.New("project path cannot be empty")
)

// Project is the content of project.toml.
type Project struct {
	// ID is the unique project identifier (UUID).
	ID string `toml:"id" json:"id"`

	// Name is the human-readable project name.
	Name string `toml:"name" json:"name"`

	// Path is the filesystem location of the project.
	Path string `toml:"path" json:"path"`

	// Type is the detected build system, e.g. "go" or "node".
	Type string `toml:"type" json:"type"`

	// Methodology is the lifecycle chosen at init, if any.
	Methodology string `toml:"methodology,omitempty" json:"methodology,omitempty"`

	// CreatedAt is when the project was initialized.
	CreatedAt time.Time `toml:"created_at" json:"created_at"`
}

// NewProject creates a project rooted at path with a generated UUID. An
// empty name defaults to the directory name.
func NewProject(name, path string) (*Project, error) {
	if path == "" {
		return nil, ErrEmptyProjectPath
	}
	if name == "" {
		name = filepath.Base(filepath.Clean(path))
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, ErrEmptyProjectName
	}

	return &Project{
		ID:        uuid.New().String(),
		Name:      name,
		Path:      path,
		Type:      DetectType(path),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}, nil
}

// Validate checks if the project has valid fields.
func (p *Project) Validate() error {
	if p.ID == "" {
		return ErrEmptyProjectID
	}
	if _, err := uuid.Parse(p.ID); err != nil {
		return ErrInvalidProjectID
	}
	if p.Name == "" {
		return ErrEmptyProjectName
	}
	if p.Path == "" {
		return ErrEmptyProjectPath
	}
	switch p.Methodology {
	case "", "research", "sdlc":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMethodology, p.Methodology)
	}
	return nil
}

// Load reads and validates project.toml.
func Load(path string) (*Project, error) {
	var p Project
	if _, err := toml.DecodeFile(path, &p); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, path)
		}
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Create writes p to path. It refuses to overwrite an existing file.
func Create(path string, p *Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrProjectExists, path)
	}
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode project config: %w", err)
	}
	return txn.WriteFile(path, data)
}
