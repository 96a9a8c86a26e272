// Package config handles loading and validating the mebooks configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/madeddie/mebooks/fetch"
)

// Config is the top-level configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Proxy    ProxyConfig     `yaml:"proxy"`
	Fetch    FetchConfig     `yaml:"fetch"`
	Log      LogConfig       `yaml:"log"`
	Catalogs []CatalogConfig `yaml:"catalogs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr  string      `yaml:"addr"`
	Title string      `yaml:"title"`
	Auth  *AuthConfig `yaml:"auth,omitempty"`
	// RateLimit is the number of API requests allowed per client IP per
	// minute. Zero disables limiting.
	RateLimit int `yaml:"rate_limit"`
}

// AuthConfig holds Basic Auth credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ProxyConfig controls how cross-origin catalogs are reached.
type ProxyConfig struct {
	OwnURL        string   `yaml:"own_url"`
	PublicURL     string   `yaml:"public_url"`
	AllowPublic   bool     `yaml:"allow_public"`
	Force         bool     `yaml:"force"`
	SkipCORSCheck bool     `yaml:"skip_cors_check"`
	VendorHosts   []string `yaml:"vendor_hosts"`
	Origin        string   `yaml:"origin"`
}

// FetchConfig tunes outbound requests.
type FetchConfig struct {
	Timeout           string  `yaml:"timeout"`
	RetryMax          int     `yaml:"retry_max"`
	UserAgent         string  `yaml:"user_agent"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxRedirects      int     `yaml:"max_redirects"`
	CacheEntries      int     `yaml:"cache_entries"`
	PreviewWorkers    int     `yaml:"preview_workers"`
	PreviewLimit      int     `yaml:"preview_limit"`
}

// ParsedTimeout returns the request timeout as a time.Duration.
func (f FetchConfig) ParsedTimeout() (time.Duration, error) {
	if f.Timeout == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(f.Timeout)
	if err != nil {
		return 0, fmt.Errorf("config: invalid fetch timeout %q: %w", f.Timeout, err)
	}
	return d, nil
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File, when set, receives a copy of the log, rotated by size.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// SlogLevel maps Level onto slog; unknown values mean info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// CatalogConfig describes a catalog known at startup.
type CatalogConfig struct {
	Name    string      `yaml:"name"`
	URL     string      `yaml:"url"`
	Version string      `yaml:"version"`
	Auth    *AuthConfig `yaml:"auth,omitempty"`
	// Depth is how many navigation levels a crawl of this catalog follows.
	Depth int `yaml:"depth"`
}

// Slug returns a URL-safe identifier for the catalog.
func (c CatalogConfig) Slug() string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(c.Name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case r == ' ' || r == '-' || r == '_':
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Load reads config from the given YAML file path, then overlays the
// environment (and a .env file in the working directory, if any). An
// empty path yields the defaults plus environment.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv loads path without overriding variables already set.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("config: load %s: %w", path, err)
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.Title == "" {
		c.Server.Title = "mebooks"
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 120
	}
	if c.Proxy.PublicURL == "" {
		c.Proxy.PublicURL = fetch.DefaultPublicProxyURL
	}
	if c.Proxy.VendorHosts == nil {
		c.Proxy.VendorHosts = append([]string(nil), fetch.DefaultVendorHosts...)
	}
	def := fetch.DefaultClientConfig()
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = def.UserAgent
	}
	if c.Fetch.RetryMax == 0 {
		c.Fetch.RetryMax = def.RetryMax
	}
	if c.Fetch.RequestsPerSecond == 0 {
		c.Fetch.RequestsPerSecond = def.RequestsPerSecond
	}
	if c.Fetch.Burst == 0 {
		c.Fetch.Burst = def.Burst
	}
	if c.Fetch.MaxRedirects == 0 {
		c.Fetch.MaxRedirects = fetch.DefaultMaxRedirects
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 50
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 28
	}
}

// applyEnv overlays deployment settings from the environment.
func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: invalid boolean %q", key, v)
		}
		*dst = b
		return nil
	}

	str("OWN_PROXY_URL", &c.Proxy.OwnURL)
	str("PUBLIC_PROXY_URL", &c.Proxy.PublicURL)
	str("APP_ORIGIN", &c.Proxy.Origin)
	str("MEBOOKS_ADDR", &c.Server.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	for key, dst := range map[string]*bool{
		"ALLOW_PUBLIC_PROXY": &c.Proxy.AllowPublic,
		"FORCE_PROXY":        &c.Proxy.Force,
		"SKIP_CORS_CHECK":    &c.Proxy.SkipCORSCheck,
	} {
		if err := boolean(key, dst); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validate() error {
	if _, err := c.Fetch.ParsedTimeout(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Proxy.Force && c.Proxy.OwnURL == "" && !c.Proxy.AllowPublic {
		return fmt.Errorf("config: proxy.force requires proxy.own_url or proxy.allow_public")
	}
	slugs := make(map[string]bool)
	for i, cat := range c.Catalogs {
		if cat.Name == "" {
			return fmt.Errorf("config: catalog[%d]: name is required", i)
		}
		if cat.URL == "" {
			return fmt.Errorf("config: catalog[%d] (%s): url is required", i, cat.Name)
		}
		if cat.Depth < 0 {
			return fmt.Errorf("config: catalog[%d] (%s): depth must not be negative", i, cat.Name)
		}
		slug := cat.Slug()
		if slugs[slug] {
			return fmt.Errorf("config: catalog[%d] (%s): duplicate slug %q", i, cat.Name, slug)
		}
		slugs[slug] = true
	}
	return nil
}

// ProxySettings converts the proxy section for the fetch package.
func (c *Config) ProxySettings() fetch.ProxyConfig {
	return fetch.ProxyConfig{
		OwnProxyURL:      c.Proxy.OwnURL,
		PublicProxyURL:   c.Proxy.PublicURL,
		AllowPublicProxy: c.Proxy.AllowPublic,
		ForceProxy:       c.Proxy.Force,
		SkipCORSCheck:    c.Proxy.SkipCORSCheck,
		VendorHosts:      c.Proxy.VendorHosts,
		Origin:           c.Proxy.Origin,
	}
}

// ClientSettings converts the fetch section for fetch.NewHTTPClient.
func (c *Config) ClientSettings() fetch.ClientConfig {
	timeout, _ := c.Fetch.ParsedTimeout()
	return fetch.ClientConfig{
		Timeout:           timeout,
		RetryMax:          c.Fetch.RetryMax,
		UserAgent:         c.Fetch.UserAgent,
		RequestsPerSecond: c.Fetch.RequestsPerSecond,
		Burst:             c.Fetch.Burst,
	}
}

// DefaultConfigPaths returns the list of paths to check for configuration,
// in order of priority.
func DefaultConfigPaths() []string {
	paths := []string{"config.yaml", "config.yml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "mebooks", "config.yaml"),
			filepath.Join(home, ".config", "mebooks", "config.yml"),
		)
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths,
			filepath.Join(xdg, "mebooks", "config.yaml"),
			filepath.Join(xdg, "mebooks", "config.yml"),
		)
	}

	return paths
}

// FindConfig returns the first existing config file from the default paths,
// or an empty string if none found.
func FindConfig() string {
	for _, p := range DefaultConfigPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
