// Package config loads and validates the TranscriptRelay YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Interval bounds and defaults.
const (
	DefaultIntervalSeconds   = 30
	MinIntervalSeconds       = 5
	MaxIntervalSeconds       = 3600
	DefaultMaxRecordFailures = 3
)

// Environment variables that override file values.
const (
	EnvAPIKey     = "NOTION_API_KEY"
	EnvDatabaseID = "NOTION_DATABASE_ID"
	EnvInterval   = "SYNC_INTERVAL"
	EnvSourcePath = "VOICEINK_DB_PATH"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// NotionAPIKey is the internal integration secret ("ntn_..." or "secret_...").
	NotionAPIKey string `yaml:"notion_api_key"`

	// NotionDatabaseID is the target database. A pasted Notion URL or a
	// dashed UUID is accepted and normalised to 32 hex characters.
	NotionDatabaseID string `yaml:"notion_database_id"`

	// SyncIntervalSeconds controls how often the source is polled.
	// Minimum 5, maximum 3600. Defaults to 30 if unset.
	SyncIntervalSeconds int `yaml:"sync_interval_seconds"`

	// SourcePath is the VoiceInk store. Discovered automatically when empty.
	SourcePath string `yaml:"source_path,omitempty"`

	// StatePath overrides the sync state location.
	StatePath string `yaml:"state_path,omitempty"`

	// MaxRecordFailures is how many times Notion may reject a record's
	// content before it is skipped. Defaults to 3.
	MaxRecordFailures int `yaml:"max_record_failures,omitempty"`

	// LogFile, when set, receives logs in addition to stderr and is rotated
	// automatically.
	LogFile string `yaml:"log_file,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "transcriptrelay".
	ServiceName string `yaml:"service_name,omitempty"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Interval returns the sync interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// DefaultPath returns the default config file path: ~/.config/transcriptrelay/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "transcriptrelay", "config.yaml"), nil
}

// Load reads the configuration file at path, applies environment overrides,
// and validates the result. A missing file is not an error as long as the
// environment supplies the credentials.
func Load(path string) (*Config, error) {
	var cfg Config

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	default:
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true) // reject unknown keys to catch typos early
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		if errors.Is(err, ErrInvalid) && f == nil {
			return nil, fmt.Errorf("%w (no config file at %s; run `transcriptrelay setup`)", err, path)
		}
		return nil, err
	}
	return &cfg, nil
}

// Write persists the configuration to path with owner-only permissions,
// creating parent directories as needed.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// applyEnv overrides file values with any set environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.NotionAPIKey = v
	}
	if v := os.Getenv(EnvDatabaseID); v != "" {
		c.NotionDatabaseID = v
	}
	if v := os.Getenv(EnvSourcePath); v != "" {
		c.SourcePath = v
	}
	if v := os.Getenv(EnvInterval); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a whole number of seconds", ErrInvalid, EnvInterval, v)
		}
		c.SyncIntervalSeconds = n
	}
	return nil
}

// validate checks that all required fields are present and well-formed, and
// fills in defaults.
func (c *Config) validate() error {
	c.NotionAPIKey = strings.TrimSpace(c.NotionAPIKey)
	if c.NotionAPIKey == "" {
		return fmt.Errorf("%w: notion_api_key is required", ErrInvalid)
	}

	if c.NotionDatabaseID == "" {
		return fmt.Errorf("%w: notion_database_id is required", ErrInvalid)
	}
	id, err := NormalizeDatabaseID(c.NotionDatabaseID)
	if err != nil {
		return err
	}
	c.NotionDatabaseID = id

	if c.SyncIntervalSeconds == 0 {
		c.SyncIntervalSeconds = DefaultIntervalSeconds
	}
	if c.SyncIntervalSeconds < MinIntervalSeconds {
		return fmt.Errorf("%w: sync_interval_seconds %d is too short (minimum %d)", ErrInvalid, c.SyncIntervalSeconds, MinIntervalSeconds)
	}
	if c.SyncIntervalSeconds > MaxIntervalSeconds {
		return fmt.Errorf("%w: sync_interval_seconds %d is too long (maximum %d)", ErrInvalid, c.SyncIntervalSeconds, MaxIntervalSeconds)
	}

	if c.MaxRecordFailures == 0 {
		c.MaxRecordFailures = DefaultMaxRecordFailures
	}
	if c.MaxRecordFailures < 0 {
		return fmt.Errorf("%w: max_record_failures must be positive", ErrInvalid)
	}

	for _, p := range []*string{&c.SourcePath, &c.StatePath, &c.LogFile} {
		expanded, err := expandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("%w: telemetry.otlp_endpoint is required when telemetry is configured", ErrInvalid)
		}
	}

	return nil
}

var (
	dashedUUID = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	trailingID = regexp.MustCompile(`(?i)([0-9a-f]{32})$`)
)

// NormalizeDatabaseID accepts a database ID as 32 hex characters, as a dashed
// UUID, or embedded in a Notion URL (https://www.notion.so/<ws>/<Title>-<id>?v=...),
// and returns the lower-case 32 hex character form.
func NormalizeDatabaseID(s string) (string, error) {
	s = strings.TrimSpace(s)

	if m := dashedUUID.FindString(s); m != "" {
		return strings.ToLower(strings.ReplaceAll(m, "-", "")), nil
	}

	candidate := s
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		candidate = path.Base(u.Path)
	}
	if m := trailingID.FindStringSubmatch(candidate); m != nil {
		return strings.ToLower(m[1]), nil
	}
	return "", fmt.Errorf("%w: notion_database_id %q is not a Notion database ID or URL", ErrInvalid, s)
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
