package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"sessionguard/internal/signals"
)

// Duration wraps time.Duration so config files can use forms like "10m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config holds the recognized options of the checkpoint subsystem plus
// resolved filesystem paths.
type Config struct {
	// ToolCallInterval is the periodic checkpoint trigger by call count.
	ToolCallInterval int `yaml:"tool_call_interval"`
	// TimeInterval is the periodic checkpoint trigger by elapsed time.
	TimeInterval Duration `yaml:"time_interval"`
	// Thresholds are the warning and danger zone threshold sets.
	Thresholds signals.Thresholds `yaml:"thresholds"`
	// MaxCheckpointsPerSession bounds retained checkpoints per session.
	MaxCheckpointsPerSession int `yaml:"max_checkpoints_per_session"`
	// RetentionDays is the age-based cleanup cutoff.
	RetentionDays int `yaml:"retention_days"`
	// Compression toggles zstd compression of checkpoint payloads.
	Compression bool `yaml:"compression"`
	// CompressionLevel follows zstd's own scale.
	CompressionLevel int `yaml:"compression_level"`

	// Resolved paths, not read from the file.
	BaseDir      string `yaml:"-"`
	DatabasePath string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	policy := signals.DefaultTriggerPolicy()
	return &Config{
		ToolCallInterval:         policy.ToolCallInterval,
		TimeInterval:             Duration(policy.TimeInterval),
		Thresholds:               signals.DefaultThresholds(),
		MaxCheckpointsPerSession: 50,
		RetentionDays:            30,
		Compression:              true,
		CompressionLevel:         3,
	}
}

// Load resolves paths under baseDir (defaults to ~/.sessionguard),
// ensures the directory exists, and merges config.yaml over the defaults
// when present. A missing file is not an error.
func Load(baseDir string) (*Config, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".sessionguard")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	cfg := Default()
	cfg.BaseDir = baseDir
	cfg.DatabasePath = filepath.Join(baseDir, "sessionguard.db")

	data, err := os.ReadFile(filepath.Join(baseDir, "config.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// TriggerPolicy returns the periodic trigger intervals as a policy value.
func (c *Config) TriggerPolicy() signals.TriggerPolicy {
	return signals.TriggerPolicy{
		ToolCallInterval: c.ToolCallInterval,
		TimeInterval:     time.Duration(c.TimeInterval),
	}
}
