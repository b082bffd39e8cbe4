package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/hueni/internal/rules"
)

// Config represents the application configuration
type Config struct {
	Hue             HueConfig         `yaml:"hue"`
	Transit         TransitConfig     `yaml:"transit"`
	Poll            PollConfig        `yaml:"poll"`
	Effects         EffectsConfig     `yaml:"effects"`
	Reconciler      ReconcilerConfig  `yaml:"reconciler"`
	Log             LogConfig         `yaml:"log"`
	Database        DatabaseConfig    `yaml:"database"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	Tracing         TracingConfig     `yaml:"tracing"`
	Metrics         MetricsConfig     `yaml:"metrics"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // Bound on the final light restore
	Stops           Stops             `yaml:"stops" validate:"required,min=1,dive"`
}

// HueConfig contains Hue bridge connection settings
type HueConfig struct {
	Bridge     string   `yaml:"bridge" validate:"required"`
	Username   string   `yaml:"username"`    // Whitelisted bridge user; empty triggers pairing
	DeviceType string   `yaml:"device_type"` // Device type announced when pairing
	Timeout    Duration `yaml:"timeout"`     // HTTP timeout for bridge requests

	PairAttempts int      `yaml:"pair_attempts" validate:"gte=0"` // Link button polls before giving up
	PairInterval Duration `yaml:"pair_interval"`                  // Delay between link button polls
}

// TransitConfig contains 511 transit API settings
type TransitConfig struct {
	Token     string   `yaml:"token" validate:"required_without=TokenFile"`
	TokenFile string   `yaml:"token_file"`
	Agency    string   `yaml:"agency" validate:"required"` // Only routes of this agency are monitored
	BaseURL   string   `yaml:"base_url" validate:"omitempty,url"`
	Timeout   Duration `yaml:"timeout"`
}

// PollConfig controls the reconciliation loop timing
type PollConfig struct {
	Interval Duration `yaml:"interval"` // Sleep between cycles
	Duration Duration `yaml:"duration"` // Total run length, 0 = until interrupted
}

// EffectsConfig controls how rule states are merged and applied
type EffectsConfig struct {
	Merge                 bool    `yaml:"merge"`                   // Average competing rules instead of last-wins
	TransitionTime        *uint16 `yaml:"transition_time"`         // Default transition for triggered lights (1/10 s)
	RestoreTransitionTime *uint16 `yaml:"restore_transition_time"` // Transition used when restoring natural state
}

// MergeMode returns the collation policy selected by the merge flag.
func (e EffectsConfig) MergeMode() rules.MergeMode {
	if e.Merge {
		return rules.Average
	}
	return rules.LastWins
}

// ReconcilerConfig contains reconciler settings
type ReconcilerConfig struct {
	RateLimitRPS float64 `yaml:"rate_limit_rps" validate:"gte=0"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the configured level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// DatabaseConfig contains the audit ledger settings
type DatabaseConfig struct {
	Path              string   `yaml:"path"`               // Empty disables the ledger
	Retention         Duration `yaml:"retention"`          // Entries older than this are pruned
	RetentionInterval Duration `yaml:"retention_interval"` // How often pruning runs while hueni is running
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port" validate:"gte=0,lte=65535"`
}

// TracingConfig contains OTLP trace export settings
type TracingConfig struct {
	Endpoint string `yaml:"endpoint"` // host:port of an OTLP/HTTP collector, empty = disabled
	Insecure bool   `yaml:"insecure"`
}

// MetricsConfig contains OTLP metric export settings
type MetricsConfig struct {
	Endpoint string   `yaml:"endpoint"` // host:port of an OTLP/HTTP collector, empty = disabled
	Insecure bool     `yaml:"insecure"`
	Interval Duration `yaml:"interval"` // Export interval
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration. A bare integer is read as
// seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	s := strings.TrimSpace(value.Value)

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q, use seconds or a unit such as 15s or 2m", value.Line, s)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns a configuration with every default applied and no stops.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file. It does not validate; callers apply
// command-line overrides first and then call Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML document, expanding ${VAR} references and applying defaults.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Hue defaults
	if cfg.Hue.DeviceType == "" {
		cfg.Hue.DeviceType = "hueni"
	}
	if cfg.Hue.Timeout == 0 {
		cfg.Hue.Timeout = Duration(30 * time.Second)
	}
	if cfg.Hue.PairAttempts == 0 {
		cfg.Hue.PairAttempts = 30
	}
	if cfg.Hue.PairInterval == 0 {
		cfg.Hue.PairInterval = Duration(2 * time.Second)
	}

	// Transit defaults
	if cfg.Transit.Agency == "" {
		cfg.Transit.Agency = "SF-MUNI"
	}
	if cfg.Transit.Timeout == 0 {
		cfg.Transit.Timeout = Duration(30 * time.Second)
	}

	// Poll defaults
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = Duration(15 * time.Second)
	}

	// Effects defaults, in bridge units of 100ms
	if cfg.Effects.TransitionTime == nil {
		tt := uint16(4)
		cfg.Effects.TransitionTime = &tt
	}
	if cfg.Effects.RestoreTransitionTime == nil {
		tt := uint16(1)
		cfg.Effects.RestoreTransitionTime = &tt
	}

	// Bridge allows roughly 10 light commands per second
	if cfg.Reconciler.RateLimitRPS == 0 {
		cfg.Reconciler.RateLimitRPS = 10.0
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// Ledger retention
	if cfg.Database.Retention == 0 {
		cfg.Database.Retention = Duration(30 * 24 * time.Hour)
	}
	if cfg.Database.RetentionInterval == 0 {
		cfg.Database.RetentionInterval = Duration(time.Hour)
	}

	if cfg.Metrics.Interval == 0 {
		cfg.Metrics.Interval = Duration(60 * time.Second)
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(10 * time.Second)
	}
}

// ResolveToken returns the transit API token, reading token_file when no inline
// token is configured.
func (c *TransitConfig) ResolveToken() (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}
	if c.TokenFile == "" {
		return "", fmt.Errorf("no transit token configured: set transit.token or transit.token_file")
	}
	data, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read transit token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("transit token file %s is empty", c.TokenFile)
	}
	return token, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
