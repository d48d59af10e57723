package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "WAYPOINT_"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// LoadOptions locate the configuration sources.
type LoadOptions struct {
	// ProjectDir is the working tree the waypoint root belongs to.
	ProjectDir string
	// Root overrides the waypoint root directory. Relative paths resolve
	// against ProjectDir.
	Root string
	// File overrides the config file path. Defaults to <root>/config.yaml.
	File string
}

// Load resolves the configuration for a project.
//
// Precedence (highest to lowest):
//  1. Environment variables (WAYPOINT_CHECKPOINT_AUTO_COMMIT, ...)
//  2. YAML config file (<root>/config.yaml)
//  3. Defaults
//
// Environment variables map to keys by dropping the prefix and splitting on
// the first underscore:
//
//	WAYPOINT_CHECKPOINT_AUTO_COMMIT -> checkpoint.auto_commit
//	WAYPOINT_LOGGING_LEVEL          -> logging.level
//	WAYPOINT_ROOT                   -> root
func Load(opts LoadOptions) (*Config, error) {
	projectDir, err := projectDirOf(opts)
	if err != nil {
		return nil, err
	}
	cfg := rootedDefault(opts, projectDir)

	configPath := opts.File
	if configPath == "" {
		configPath = filepath.Join(cfg.Root, DefaultConfigFile)
	}

	k := koanf.New(".")

	content, err := readConfigFile(configPath, opts.File != "")
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal over the defaults so absent keys keep their default values.
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if opts.Root != "" {
		cfg.Root = opts.Root
	}
	cfg.Root = resolvePath(projectDir, cfg.Root)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// DefaultFor returns the defaults with the root located the same way Load
// locates it. No config file is read; of the environment only WAYPOINT_ROOT
// is consulted.
func DefaultFor(opts LoadOptions) (*Config, error) {
	projectDir, err := projectDirOf(opts)
	if err != nil {
		return nil, err
	}
	return rootedDefault(opts, projectDir), nil
}

func projectDirOf(opts LoadOptions) (string, error) {
	if opts.ProjectDir != "" {
		return opts.ProjectDir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return wd, nil
}

func rootedDefault(opts LoadOptions, projectDir string) *Config {
	cfg := Default(projectDir)
	switch {
	case opts.Root != "":
		cfg.Root = opts.Root
	case os.Getenv(envPrefix+"ROOT") != "":
		cfg.Root = os.Getenv(envPrefix + "ROOT")
	}
	cfg.Root = resolvePath(projectDir, cfg.Root)
	return cfg
}

// envKey maps WAYPOINT_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile returns nil content when an optional file is absent.
func readConfigFile(path string, required bool) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func resolvePath(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
