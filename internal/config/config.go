package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/iconsync/internal/catalog"
	"github.com/ligustah/iconsync/internal/fetcher"
	iconhttp "github.com/ligustah/iconsync/internal/http"
	"github.com/ligustah/iconsync/internal/progress"
)

// Config defines configuration for the iconsync CLI.
type Config struct {
	PageURL          string
	AssetURLTemplate string
	Variations       []string
	Output           string
	Catalog          string
	Extension        string
	Capacity         int
	MaxBytes         int64
	Progress         bool
	HTTP             HTTPConfig
	Retry            RetryConfig
}

// HTTPConfig defines transport settings.
type HTTPConfig struct {
	Timeout   time.Duration
	UserAgent string
}

// RetryConfig defines retry behavior for catalog requests. Icon transfers
// always get exactly one retry pass.
type RetryConfig struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		PageURL:          catalog.DefaultPageURL,
		AssetURLTemplate: catalog.DefaultAssetURLTemplate,
		Variations:       append([]string(nil), catalog.DefaultVariations...),
		Output:           "output",
		Extension:        "svg",
		Capacity:         fetcher.DefaultCapacity,
		HTTP: HTTPConfig{
			Timeout:   30 * time.Second,
			UserAgent: iconhttp.DefaultUserAgent,
		},
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// fileConfig is used for file unmarshaling with string durations and sizes.
type fileConfig struct {
	PageURL          string          `yaml:"page_url" toml:"page_url"`
	AssetURLTemplate string          `yaml:"asset_url_template" toml:"asset_url_template"`
	Variations       []string        `yaml:"variations" toml:"variations"`
	Output           string          `yaml:"output" toml:"output"`
	Catalog          string          `yaml:"catalog" toml:"catalog"`
	Extension        string          `yaml:"extension" toml:"extension"`
	Capacity         int             `yaml:"capacity" toml:"capacity"`
	MaxBody          string          `yaml:"max_body" toml:"max_body"`
	Progress         bool            `yaml:"progress" toml:"progress"`
	HTTP             fileHTTPConfig  `yaml:"http" toml:"http"`
	Retry            fileRetryConfig `yaml:"retry" toml:"retry"`
}

type fileHTTPConfig struct {
	Timeout   string `yaml:"timeout" toml:"timeout"`
	UserAgent string `yaml:"user_agent" toml:"user_agent"`
}

type fileRetryConfig struct {
	Attempts   int    `yaml:"attempts" toml:"attempts"`
	Backoff    string `yaml:"backoff" toml:"backoff"`
	MaxBackoff string `yaml:"max_backoff" toml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file, or a TOML file when
// path ends in ".toml".
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := Default()

	if fc.PageURL != "" {
		cfg.PageURL = fc.PageURL
	}
	if fc.AssetURLTemplate != "" {
		cfg.AssetURLTemplate = fc.AssetURLTemplate
	}
	if len(fc.Variations) > 0 {
		cfg.Variations = fc.Variations
	}
	if fc.Output != "" {
		cfg.Output = fc.Output
	}
	cfg.Catalog = fc.Catalog
	if fc.Extension != "" {
		cfg.Extension = fc.Extension
	}
	if fc.Capacity != 0 {
		cfg.Capacity = fc.Capacity
	}
	if fc.MaxBody != "" {
		size, err := progress.ParseBytes(fc.MaxBody)
		if err != nil {
			return Config{}, fmt.Errorf("parse max_body: %w", err)
		}
		cfg.MaxBytes = size
	}
	cfg.Progress = fc.Progress
	if fc.HTTP.Timeout != "" {
		d, err := time.ParseDuration(fc.HTTP.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse http.timeout: %w", err)
		}
		cfg.HTTP.Timeout = d
	}
	if fc.HTTP.UserAgent != "" {
		cfg.HTTP.UserAgent = fc.HTTP.UserAgent
	}
	if fc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = fc.Retry.Attempts
	}
	if fc.Retry.Backoff != "" {
		d, err := time.ParseDuration(fc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if fc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(fc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the ICONSYNC_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("ICONSYNC_PAGE_URL"); v != "" {
		c.PageURL = v
	}
	if v := os.Getenv("ICONSYNC_ASSET_URL_TEMPLATE"); v != "" {
		c.AssetURLTemplate = v
	}
	if v := os.Getenv("ICONSYNC_VARIATIONS"); v != "" {
		var variations []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				variations = append(variations, part)
			}
		}
		c.Variations = variations
	}
	if v := os.Getenv("ICONSYNC_OUTPUT"); v != "" {
		c.Output = v
	}
	if v := os.Getenv("ICONSYNC_CATALOG"); v != "" {
		c.Catalog = v
	}
	if v := os.Getenv("ICONSYNC_EXTENSION"); v != "" {
		c.Extension = v
	}
	if v := os.Getenv("ICONSYNC_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse ICONSYNC_CAPACITY: %w", err)
		}
		c.Capacity = n
	}
	if v := os.Getenv("ICONSYNC_MAX_BODY"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse ICONSYNC_MAX_BODY: %w", err)
		}
		c.MaxBytes = size
	}
	if v := os.Getenv("ICONSYNC_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("ICONSYNC_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse ICONSYNC_TIMEOUT: %w", err)
		}
		c.HTTP.Timeout = d
	}
	if v := os.Getenv("ICONSYNC_USER_AGENT"); v != "" {
		c.HTTP.UserAgent = v
	}
	if v := os.Getenv("ICONSYNC_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse ICONSYNC_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("ICONSYNC_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse ICONSYNC_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("ICONSYNC_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse ICONSYNC_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Output == "" {
		return errors.New("config: output is required")
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("config: capacity must be positive, got %d", c.Capacity)
	}
	if c.MaxBytes < 0 {
		return errors.New("config: max_body must not be negative")
	}
	if c.Retry.Attempts < 0 {
		return errors.New("config: retry.attempts must not be negative")
	}
	if c.Catalog == "" {
		if c.PageURL == "" {
			return errors.New("config: page_url is required without a catalog file")
		}
		if !strings.Contains(c.AssetURLTemplate, "{name}") {
			return errors.New("config: asset_url_template must contain {name}")
		}
		if len(c.Variations) == 0 {
			return errors.New("config: at least one variation is required")
		}
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.PageURL != "" {
		c.PageURL = override.PageURL
	}
	if override.AssetURLTemplate != "" {
		c.AssetURLTemplate = override.AssetURLTemplate
	}
	if len(override.Variations) > 0 {
		c.Variations = override.Variations
	}
	if override.Output != "" {
		c.Output = override.Output
	}
	if override.Catalog != "" {
		c.Catalog = override.Catalog
	}
	if override.Extension != "" {
		c.Extension = override.Extension
	}
	if override.Capacity != 0 {
		c.Capacity = override.Capacity
	}
	if override.MaxBytes != 0 {
		c.MaxBytes = override.MaxBytes
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.HTTP.UserAgent != "" {
		c.HTTP.UserAgent = override.HTTP.UserAgent
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}

// HTTPOptions returns client options for c.
func (c Config) HTTPOptions() iconhttp.Options {
	opts := iconhttp.DefaultOptions()
	opts.Timeout = c.HTTP.Timeout
	opts.UserAgent = c.HTTP.UserAgent
	opts.RetryAttempts = c.Retry.Attempts
	opts.RetryBackoff = c.Retry.Backoff
	opts.RetryMaxBackoff = c.Retry.MaxBackoff
	return opts
}

// CatalogOptions returns discovery options for c.
func (c Config) CatalogOptions() catalog.Options {
	return catalog.Options{
		PageURL:          c.PageURL,
		AssetURLTemplate: c.AssetURLTemplate,
		Variations:       c.Variations,
	}
}
