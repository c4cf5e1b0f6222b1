// ABOUTME: Configuration loading and parsing for slack-pulse
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Image handling modes for the analysis job.
const (
	ImageModeInline = "inline"
	ImageModeUpload = "upload"
)

// Config represents the complete slack-pulse configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Slack     SlackConfig     `yaml:"slack" toml:"slack"`
	LLM       LLMConfig       `yaml:"llm" toml:"llm"`
	Blob      BlobConfig      `yaml:"blob" toml:"blob"`
	Analysis  AnalysisConfig  `yaml:"analysis" toml:"analysis"`
	Jobs      JobsConfig      `yaml:"jobs" toml:"jobs"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// BaseURL is the public URL Slack reaches us at (used for the OAuth redirect)
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public HTTPS so Slack can reach the webhook
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo)
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
	// EncryptionKey seals bot tokens at rest; empty stores them as-is
	EncryptionKey string `yaml:"encryption_key" toml:"encryption_key"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// SlackConfig holds Slack app credentials and client tuning
type SlackConfig struct {
	SigningSecret string   `yaml:"signing_secret" toml:"signing_secret"`
	ClientID      string   `yaml:"client_id" toml:"client_id"`
	ClientSecret  string   `yaml:"client_secret" toml:"client_secret"`
	Scopes        []string `yaml:"scopes" toml:"scopes"`
	APIURL        string   `yaml:"api_url" toml:"api_url"`
	RateLimit     float64  `yaml:"rate_limit" toml:"rate_limit"`
	RateBurst     int      `yaml:"rate_burst" toml:"rate_burst"`
	HistoryLimit  int      `yaml:"history_limit" toml:"history_limit"`
	MentionDepth  int      `yaml:"mention_depth" toml:"mention_depth"`

	RequestTimeout time.Duration `yaml:"-" toml:"-"`
	MaxRequestAge  time.Duration `yaml:"-" toml:"-"`
	DedupeTTL      time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
	MaxRequestAgeRaw  string `yaml:"max_request_age" toml:"max_request_age"`
	DedupeTTLRaw      string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// LLMConfig holds chat model configuration
type LLMConfig struct {
	APIKey          string  `yaml:"api_key" toml:"api_key"`
	BaseURL         string  `yaml:"base_url" toml:"base_url"`
	Region          string  `yaml:"region" toml:"region"`
	Model           string  `yaml:"model" toml:"model"`
	VisionModel     string  `yaml:"vision_model" toml:"vision_model"`
	Temperature     float32 `yaml:"temperature" toml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens" toml:"max_tokens"`
	BreakerFailures int     `yaml:"breaker_failures" toml:"breaker_failures"`

	Timeout      time.Duration `yaml:"-" toml:"-"`
	BreakerReset time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw      string `yaml:"timeout" toml:"timeout"`
	BreakerResetRaw string `yaml:"breaker_reset" toml:"breaker_reset"`
}

// BlobConfig holds object storage configuration
type BlobConfig struct {
	Bucket        string `yaml:"bucket" toml:"bucket"`
	Region        string `yaml:"region" toml:"region"`
	Endpoint      string `yaml:"endpoint" toml:"endpoint"`
	PublicBaseURL string `yaml:"public_base_url" toml:"public_base_url"`
	UsePathStyle  bool   `yaml:"use_path_style" toml:"use_path_style"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// AnalysisConfig holds sentiment job behavior
type AnalysisConfig struct {
	// ImageMode is "inline" (data URL to the vision model) or "upload" (blob store URL)
	ImageMode string `yaml:"image_mode" toml:"image_mode"`
	// Vision disables the image stage entirely when false
	Vision *bool `yaml:"vision" toml:"vision"`
}

// VisionEnabled reports whether the image stage should run.
func (a AnalysisConfig) VisionEnabled() bool {
	return a.Vision == nil || *a.Vision
}

// JobsConfig holds worker pool configuration
type JobsConfig struct {
	Workers     int `yaml:"workers" toml:"workers"`
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts"`

	PollInterval time.Duration `yaml:"-" toml:"-"`
	Timeout      time.Duration `yaml:"-" toml:"-"`
	RetryBackoff time.Duration `yaml:"-" toml:"-"`

	PollIntervalRaw string `yaml:"poll_interval" toml:"poll_interval"`
	TimeoutRaw      string `yaml:"timeout" toml:"timeout"`
	RetryBackoffRaw string `yaml:"retry_backoff" toml:"retry_backoff"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// DefaultScopes are requested during installation when none are configured.
var DefaultScopes = []string{"app_mentions:read", "chat:write", "files:read", "channels:history", "groups:history"}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if len(c.Slack.Scopes) == 0 {
		c.Slack.Scopes = DefaultScopes
	}
	if c.Slack.RateLimit == 0 {
		c.Slack.RateLimit = 1
	}
	if c.Slack.RateBurst == 0 {
		c.Slack.RateBurst = 3
	}
	if c.Slack.HistoryLimit == 0 {
		c.Slack.HistoryLimit = 100
	}
	if c.Slack.MentionDepth == 0 {
		c.Slack.MentionDepth = 5
	}
	if c.Slack.RequestTimeout == 0 {
		c.Slack.RequestTimeout = 10 * time.Second
	}
	// An explicit "0" disables the replay window, so only fill when unset.
	if c.Slack.MaxRequestAgeRaw == "" {
		c.Slack.MaxRequestAge = 5 * time.Minute
	}
	if c.Slack.DedupeTTL == 0 {
		c.Slack.DedupeTTL = 10 * time.Minute
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "mixtral-8x7b-32768"
	}
	if c.LLM.VisionModel == "" {
		c.LLM.VisionModel = c.LLM.Model
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60 * time.Second
	}
	if c.LLM.BreakerFailures == 0 {
		c.LLM.BreakerFailures = 5
	}
	if c.LLM.BreakerReset == 0 {
		c.LLM.BreakerReset = 30 * time.Second
	}
	if c.Blob.Timeout == 0 {
		c.Blob.Timeout = 30 * time.Second
	}
	if c.Analysis.ImageMode == "" {
		c.Analysis.ImageMode = ImageModeInline
	}
	if c.Jobs.Workers == 0 {
		c.Jobs.Workers = 4
	}
	if c.Jobs.MaxAttempts == 0 {
		c.Jobs.MaxAttempts = 1
	}
	if c.Jobs.PollInterval == 0 {
		c.Jobs.PollInterval = time.Second
	}
	if c.Jobs.Timeout == 0 {
		c.Jobs.Timeout = 5 * time.Minute
	}
	if c.Jobs.RetryBackoff == 0 {
		c.Jobs.RetryBackoff = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	if c.Slack.SigningSecret == "" {
		return fmt.Errorf("slack.signing_secret is required")
	}

	switch c.Analysis.ImageMode {
	case ImageModeInline:
	case ImageModeUpload:
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required when analysis.image_mode is %q", ImageModeUpload)
		}
	default:
		return fmt.Errorf("analysis.image_mode must be %q or %q, got %q", ImageModeInline, ImageModeUpload, c.Analysis.ImageMode)
	}

	if c.Jobs.Workers < 0 {
		return fmt.Errorf("jobs.workers must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"slack.request_timeout", cfg.Slack.RequestTimeoutRaw, &cfg.Slack.RequestTimeout},
		{"slack.max_request_age", cfg.Slack.MaxRequestAgeRaw, &cfg.Slack.MaxRequestAge},
		{"slack.dedupe_ttl", cfg.Slack.DedupeTTLRaw, &cfg.Slack.DedupeTTL},
		{"llm.timeout", cfg.LLM.TimeoutRaw, &cfg.LLM.Timeout},
		{"llm.breaker_reset", cfg.LLM.BreakerResetRaw, &cfg.LLM.BreakerReset},
		{"blob.timeout", cfg.Blob.TimeoutRaw, &cfg.Blob.Timeout},
		{"jobs.poll_interval", cfg.Jobs.PollIntervalRaw, &cfg.Jobs.PollInterval},
		{"jobs.timeout", cfg.Jobs.TimeoutRaw, &cfg.Jobs.Timeout},
		{"jobs.retry_backoff", cfg.Jobs.RetryBackoffRaw, &cfg.Jobs.RetryBackoff},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
