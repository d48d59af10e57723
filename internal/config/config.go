// Package config provides configuration loading for waypoint.
//
// Configuration is layered: compiled-in defaults, then the optional
// <root>/config.yaml file, then WAYPOINT_* environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// Default locations, relative to the project directory and the waypoint root.
const (
	DefaultRootDir    = ".waypoint"
	DefaultConfigFile = "config.yaml"
)

// Config holds the complete waypoint configuration.
type Config struct {
	Root       string           `koanf:"root" validate:"required"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	State      StateConfig      `koanf:"state"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// CheckpointConfig controls snapshot capture and restore.
type CheckpointConfig struct {
	// AutoCommit commits each new snapshot to the project's git repository.
	AutoCommit    bool     `koanf:"auto_commit"`
	DecisionTail  int      `koanf:"decision_tail" validate:"gte=0,lte=100000"`
	ExecutionTail int      `koanf:"execution_tail" validate:"gte=0,lte=100000"`
	Lock          bool     `koanf:"lock"`
	LockTimeout   Duration `koanf:"lock_timeout"`
	ScrubSecrets  bool     `koanf:"scrub_secrets"`
}

// StateConfig selects the state document codec.
type StateConfig struct {
	Codec string `koanf:"codec" validate:"oneof=auto yaml patch"`
}

// LoggingConfig is the subset of logger settings exposed to operators.
type LoggingConfig struct {
	Level    string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format   string `koanf:"format" validate:"oneof=json console"`
	OTEL     bool   `koanf:"otel"`
	Sampling bool   `koanf:"sampling"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint" validate:"required_if=Enabled true"`
	Protocol    string `koanf:"protocol" validate:"oneof=http grpc"`
	ServiceName string `koanf:"service_name" validate:"required"`
	Insecure    bool   `koanf:"insecure"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `koanf:"textfile"`
}

// Default returns configuration with defaults for a project directory.
func Default(projectDir string) *Config {
	return &Config{
		Root: filepath.Join(projectDir, DefaultRootDir),
		Checkpoint: CheckpointConfig{
			AutoCommit:    false,
			DecisionTail:  100,
			ExecutionTail: 200,
			Lock:          true,
			LockTimeout:   Duration(5 * time.Second),
			ScrubSecrets:  true,
		},
		State: StateConfig{
			Codec: "auto",
		},
		Logging: LoggingConfig{
			Level:    "warn",
			Format:   "console",
			Sampling: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			Protocol:    "http",
			ServiceName: "waypoint",
			Insecure:    true,
		},
	}
}

var validate = validator.New()

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Checkpoint.Lock && c.Checkpoint.LockTimeout.Duration() <= 0 {
		return fmt.Errorf("checkpoint.lock_timeout must be > 0 when locking is enabled")
	}
	return nil
}
