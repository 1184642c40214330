// Package config defines the explicit configuration value handed to each
// component at construction. Nothing reads configuration at module level, so
// multiple independent pipeline instances never cross-talk.
package config

import (
	"path/filepath"
	"time"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/sandbox"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the full skillgate configuration
type Config struct {
	// BasePath is the root of all skillgate state (default ~/.skillgate)
	BasePath string `mapstructure:"base_path"`
	// MaxInstallRisk is the highest audit risk level that may be installed
	MaxInstallRisk string `mapstructure:"max_install_risk"`
	// SandboxMode selects the execution strategy for sandbox tests
	SandboxMode string `mapstructure:"sandbox_mode"`
	// SandboxTimeout bounds each sandbox execution
	SandboxTimeout time.Duration `mapstructure:"sandbox_timeout"`
	// MemoryLimitMB is the advisory memory ceiling for limited mode
	MemoryLimitMB int `mapstructure:"memory_limit_mb"`
	// Store selects the report store backend (json or sqlite)
	Store string `mapstructure:"store"`
	// LogLevel and LogFormat configure the global logger
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	SamplerType  string  `mapstructure:"sampler_type"`
	SamplerRatio float64 `mapstructure:"sampler_ratio"`
}

// SetDefaults registers the configuration defaults on a viper instance
func SetDefaults(v *viper.Viper) {
	v.SetDefault("base_path", "")
	v.SetDefault("max_install_risk", string(audit.RiskMedium))
	v.SetDefault("sandbox_mode", string(sandbox.ModeSimulate))
	v.SetDefault("sandbox_timeout", 30*time.Second)
	v.SetDefault("memory_limit_mb", 512)
	v.SetDefault("store", "json")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "fmt")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sampler_type", "always")
	v.SetDefault("tracing.sampler_ratio", 1.0)
}

// Load decodes the configuration from a viper instance and validates it
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	decoderConfig := &mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "mapstructure",
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create config decoder")
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configured enum values
func (c *Config) Validate() error {
	if _, err := audit.ParseRiskLevel(c.MaxInstallRisk); err != nil {
		return errors.Wrap(err, "invalid max_install_risk")
	}
	if _, err := sandbox.ParseMode(c.SandboxMode); err != nil {
		return errors.Wrap(err, "invalid sandbox_mode")
	}
	switch c.Store {
	case "json", "sqlite":
	default:
		return errors.Errorf("invalid store backend %q: expected json or sqlite", c.Store)
	}
	return nil
}

// MaxRisk returns the parsed risk ceiling
func (c *Config) MaxRisk() audit.RiskLevel {
	level, _ := audit.ParseRiskLevel(c.MaxInstallRisk)
	return level
}

// SkillsDir is the install root
func (c *Config) SkillsDir() string {
	return filepath.Join(c.BasePath, "skills")
}

// BackupsDir holds timestamped backups of overwritten skills
func (c *Config) BackupsDir() string {
	return filepath.Join(c.BasePath, "backups")
}

// ScratchDir holds per-attempt download directories
func (c *Config) ScratchDir() string {
	return filepath.Join(c.BasePath, "scratch")
}

// SandboxDir holds disposable sandbox test directories
func (c *Config) SandboxDir() string {
	return filepath.Join(c.BasePath, "sandbox")
}

// ReportsDir is the JSON report store root
func (c *Config) ReportsDir() string {
	return filepath.Join(c.BasePath, "reports")
}

// DBPath is the SQLite report store database file
func (c *Config) DBPath() string {
	return filepath.Join(c.BasePath, "storage.db")
}
