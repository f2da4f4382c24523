// Package config loads the renew CLI configuration from YAML and the
// environment.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"git.sr.ht/~jakintosh/renew/pkg/session"
)

const (
	// PathEnv names the environment variable holding a config file path.
	PathEnv = "RENEW_CONFIG"
	// LocalFile is read from the working directory when no path is given.
	LocalFile = "renew.yaml"
)

// Config is the root configuration. Sources, highest priority first:
//  1. the explicit path passed to Load;
//  2. RENEW_CONFIG;
//  3. ./renew.yaml;
//  4. the environment alone.
//
// Environment variables always overlay values read from a file.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Store   StoreConfig   `yaml:"store"`
	Refresh RefreshConfig `yaml:"refresh"`
	Cookie  CookieConfig  `yaml:"cookie"`
	NATS    NATSConfig    `yaml:"nats"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url" env:"RENEW_API_URL"     env-default:"http://127.0.0.1:8080"`
	Timeout time.Duration `yaml:"timeout"  env:"RENEW_API_TIMEOUT" env-default:"30s"`
}

type StoreConfig struct {
	// Path of the sqlite file holding the session. Empty keeps the session
	// in memory.
	Path string `yaml:"path" env:"RENEW_STORE_PATH"`
}

type RefreshConfig struct {
	Interval             time.Duration `yaml:"interval"               env:"RENEW_REFRESH_INTERVAL" env-default:"30s"`
	NetworkFailurePolicy string        `yaml:"network_failure_policy" env:"RENEW_NETWORK_POLICY"   env-default:"keep"`
}

type CookieConfig struct {
	Name string `yaml:"name" env:"RENEW_COOKIE_NAME" env-default:"auth_access_token"`
	URL  string `yaml:"url"  env:"RENEW_COOKIE_URL"`
}

type NATSConfig struct {
	URL     string `yaml:"url"     env:"RENEW_NATS_URL"`
	Subject string `yaml:"subject" env:"RENEW_NATS_SUBJECT" env-default:"renew.auth-change"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" env:"RENEW_METRICS_ADDR"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"RENEW_LOG_LEVEL" env-default:"info"`
}

// Default returns the configuration with every default applied.
func Default() *Config {
	var cfg Config
	_ = cleanenv.ReadEnv(&cfg)
	return &cfg
}

func Load(path string) (*Config, error) {
	var cfg Config

	read := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file does not exist: %s", p)
		}
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		return &cfg, nil
	}

	var (
		c   *Config
		err error
	)
	switch {
	case path != "":
		c, err = read(path)
	case os.Getenv(PathEnv) != "":
		c, err = read(os.Getenv(PathEnv))
	case fileExists(LocalFile):
		c, err = read(LocalFile)
	default:
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
		c = &cfg
	}
	if err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute url, got %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be > 0")
	}
	if c.Refresh.Interval < time.Second {
		return fmt.Errorf("refresh.interval must be at least 1s")
	}
	if _, err := c.Refresh.Policy(); err != nil {
		return err
	}
	if c.Cookie.URL != "" {
		if u, err := url.Parse(c.Cookie.URL); err != nil || u.Host == "" {
			return fmt.Errorf("cookie.url must be an absolute url, got %q", c.Cookie.URL)
		}
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return fmt.Errorf("nats.subject is required when nats.url is set")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// Policy maps network_failure_policy onto the session's policy.
func (r RefreshConfig) Policy() (session.NetworkFailurePolicy, error) {
	switch strings.ToLower(r.NetworkFailurePolicy) {
	case "", "keep":
		return session.KeepSessionOnNetworkFailure, nil
	case "clear":
		return session.ClearOnNetworkFailure, nil
	default:
		return 0, fmt.Errorf("refresh.network_failure_policy must be 'keep' or 'clear', got %q", r.NetworkFailurePolicy)
	}
}

func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// SaveToFile writes the configuration as YAML, creating parent directories.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
