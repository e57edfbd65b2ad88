package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete fulfilment service configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Staging    StagingConfig    `yaml:"staging"`
	Store      StoreConfig      `yaml:"store"`
	Fulfilment FulfilmentConfig `yaml:"fulfilment"`
	Cache      CacheConfig      `yaml:"cache"`
	Auth       AuthConfig       `yaml:"auth"`
}

// ServerConfig holds HTTP server settings for the intake API
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	PublicURL         string        `yaml:"public_url"` // base for links in callbacks
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// StagingConfig holds staging tree settings
type StagingConfig struct {
	Root         string      `yaml:"root"`
	CatalogueDir string      `yaml:"catalogue_dir"` // catalogue response drop directory
	Sweep        SweepConfig `yaml:"sweep"`
}

// SweepConfig holds housekeeping sweep settings
type SweepConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Retention time.Duration `yaml:"retention"`
	DryRun    bool          `yaml:"dry_run"`
}

// StoreConfig holds remote file store settings
type StoreConfig struct {
	Type     string `yaml:"type"` // "s3", "local"
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // optional, for S3-compatible stores
	Path     string `yaml:"path"`     // local store root
}

// FulfilmentConfig holds pipeline tuning knobs
type FulfilmentConfig struct {
	Workers            int           `yaml:"workers"`              // retrieval worker pool size
	PublishWorkers     int           `yaml:"publish_workers"`      // concurrent volume publishes
	SizeThresholdMB    int64         `yaml:"size_threshold_mb"`    // single-package size limit
	BlockSizeMB        int64         `yaml:"block_size_mb"`        // upload block size
	CommitPollInterval time.Duration `yaml:"commit_poll_interval"` // batch status poll interval
	CommitWaitBudget   time.Duration `yaml:"commit_wait_budget"`   // total commit wait
	JobDeadline        time.Duration `yaml:"job_deadline"`         // per-job overall deadline
	ReadmeValidity     time.Duration `yaml:"readme_validity"`      // README expiry window
	JobStorePath       string        `yaml:"job_store_path"`       // badger directory
	CallbackTimeout    time.Duration `yaml:"callback_timeout"`     // callback POST timeout
}

// CacheConfig holds product cache settings
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	TTL     time.Duration `yaml:"ttl"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	Type         string `yaml:"type"` // "htpasswd", "none"
	HtpasswdFile string `yaml:"htpasswd_file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			PublicURL:         "http://localhost:8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Staging: StagingConfig{
			Root: "/var/lib/fulfild/staging",
			Sweep: SweepConfig{
				Enabled:   true,
				Interval:  time.Hour,
				Retention: 24 * time.Hour,
			},
		},
		Store: StoreConfig{
			Type:   "s3",
			Region: "eu-west-2",
		},
		Fulfilment: FulfilmentConfig{
			Workers:            16,
			PublishWorkers:     4,
			SizeThresholdMB:    700,
			BlockSizeMB:        4,
			CommitPollInterval: 5 * time.Second,
			CommitWaitBudget:   10 * time.Minute,
			JobDeadline:        2 * time.Hour,
			ReadmeValidity:     28 * 24 * time.Hour,
			CallbackTimeout:    10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: false,
			Addr:    "127.0.0.1:6379",
			TTL:     time.Hour,
		},
		Auth: AuthConfig{
			Type: "none",
		},
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if c.Staging.Root == "" {
		return fmt.Errorf("staging.root is required")
	}
	if c.Staging.CatalogueDir == "" {
		c.Staging.CatalogueDir = filepath.Join(filepath.Dir(c.Staging.Root), "catalogue")
	}

	switch c.Store.Type {
	case "s3":
		if c.Store.Bucket == "" {
			return fmt.Errorf("store.bucket is required for s3 store")
		}
	case "local":
		if c.Store.Path == "" {
			c.Store.Path = filepath.Join(filepath.Dir(c.Staging.Root), "store")
		}
	default:
		return fmt.Errorf("unknown store.type: %q", c.Store.Type)
	}

	if c.Fulfilment.Workers <= 0 {
		c.Fulfilment.Workers = 16
	}
	if c.Fulfilment.PublishWorkers <= 0 {
		c.Fulfilment.PublishWorkers = 4
	}
	if c.Fulfilment.SizeThresholdMB <= 0 {
		return fmt.Errorf("fulfilment.size_threshold_mb must be positive")
	}
	if c.Fulfilment.BlockSizeMB <= 0 {
		c.Fulfilment.BlockSizeMB = 4
	}
	if c.Fulfilment.JobStorePath == "" {
		c.Fulfilment.JobStorePath = filepath.Join(filepath.Dir(c.Staging.Root), "jobs")
	}

	return nil
}

// SizeThresholdBytes returns the volume size threshold in bytes.
func (c *Config) SizeThresholdBytes() int64 {
	return c.Fulfilment.SizeThresholdMB * 1024 * 1024
}

// BlockSizeBytes returns the upload block size in bytes.
func (c *Config) BlockSizeBytes() int64 {
	return c.Fulfilment.BlockSizeMB * 1024 * 1024
}
