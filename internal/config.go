package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Signature digest algorithms.
const (
	AlgorithmSHA256 = "sha256"
	AlgorithmSHA1   = "sha1"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Node     NodeConfig        `yaml:"node"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Sites    SitesConfig       `yaml:"sites"`
	Auth     AuthConfig        `yaml:"auth"`
	Dispatch DispatchConfig    `yaml:"dispatch"`
	Notices  NoticesConfig     `yaml:"notices"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Node.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Sites.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Dispatch.Validate(); err != nil {
		return err
	}
	return c.Notices.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// NodeConfig identifies this installation to its replicas.
type NodeConfig struct {
	SiteURL    string `yaml:"site_url"`
	UploadsDir string `yaml:"uploads_dir"`
}

// Validate validates the node configuration.
func (c *NodeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SiteURL, validation.Required, is.URL),
		validation.Field(&c.UploadsDir, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SitesConfig holds the site registry source and cache policy.
type SitesConfig struct {
	Path        string `yaml:"path"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
}

// CacheTTL returns the per-site cache lifetime.
func (c *SitesConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

// Validate validates the sites configuration.
func (c *SitesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.CacheTTLSec, validation.Min(1)),
	)
}

// AuthConfig holds the inbound API credentials replicas must sign with.
// When both key and secret are empty the node runs source-only and the
// inbound replica API rejects all writes.
type AuthConfig struct {
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	Algorithm    string `yaml:"algorithm"`
	FreshnessSec int    `yaml:"freshness_sec"`
	IncludeIP    bool   `yaml:"include_ip"`
}

// Freshness returns how far an inbound request timestamp may drift.
func (c *AuthConfig) Freshness() time.Duration {
	return time.Duration(c.FreshnessSec) * time.Second
}

// Enabled reports whether the inbound replica API accepts signed writes.
func (c *AuthConfig) Enabled() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Algorithm, validation.Required, validation.In(AlgorithmSHA256, AlgorithmSHA1)),
		validation.Field(&c.FreshnessSec, validation.Min(1)),
	); err != nil {
		return err
	}
	if (c.APIKey == "") != (c.APISecret == "") {
		return fmt.Errorf("auth: api_key and api_secret must be set together")
	}
	return nil
}

// DispatchConfig controls outbound replication requests.
type DispatchConfig struct {
	TimeoutSec int    `yaml:"timeout_sec"`
	Parallel   bool   `yaml:"parallel"`
	Debug      bool   `yaml:"debug"`
	Algorithm  string `yaml:"algorithm"`
	IncludeIP  bool   `yaml:"include_ip"`
	SourceIP   string `yaml:"source_ip"`
}

// Timeout returns the per-request transport timeout. A hung remote site
// must not stall replication indefinitely.
func (c *DispatchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Validate validates the dispatch configuration.
func (c *DispatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TimeoutSec, validation.Required, validation.Min(1)),
		validation.Field(&c.Algorithm, validation.Required, validation.In(AlgorithmSHA256, AlgorithmSHA1)),
		validation.Field(&c.SourceIP, validation.Required.When(c.IncludeIP), is.IP),
	)
}

// NoticesConfig controls how long per-dispatch outcomes are retained.
type NoticesConfig struct {
	TTLSec int `yaml:"ttl_sec"`
}

// TTL returns the notice lifetime.
func (c *NoticesConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

// Validate validates the notices configuration.
func (c *NoticesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TTLSec, validation.Min(1)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Node: NodeConfig{
			SiteURL:    "http://localhost:8080",
			UploadsDir: "./uploads",
		},
		SQLite: SQLiteConfig{
			Path: "./replicast.db",
		},
		Sites: SitesConfig{
			Path:        "config/sites.yaml",
			CacheTTLSec: 600,
		},
		Auth: AuthConfig{
			Algorithm:    AlgorithmSHA256,
			FreshnessSec: 300,
		},
		Dispatch: DispatchConfig{
			TimeoutSec: 30,
			Algorithm:  AlgorithmSHA256,
		},
		Notices: NoticesConfig{
			TTLSec: 180,
		},
	}
}
