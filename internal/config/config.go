// Package config loads process settings from .env files and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/tidwall/gjson"

	"github.com/shehryarbajwa/browserfarm/internal/farm"
)

// Driver names accepted by DRIVER.
const (
	DriverPlaywright = "playwright"
	DriverCDP        = "cdp"
)

// Config is the full process configuration
type Config struct {
	FarmURL        string        `envconfig:"FARM_URL" default:"http://localhost:9000"`
	FarmAPIKey     string        `envconfig:"FARM_API_KEY"`
	FarmAPIKeyFile string        `envconfig:"FARM_API_KEY_FILE"`
	FarmTimeout    time.Duration `envconfig:"FARM_TIMEOUT" default:"30s"`
	FarmRPS        float64       `envconfig:"FARM_RPS" default:"5"`

	// DebugHost is where launched browsers expose their debugging ports.
	DebugHost           string        `envconfig:"DEBUG_HOST" default:"localhost"`
	Driver              string        `envconfig:"DRIVER" default:"playwright"`
	PlaywrightDriverDir string        `envconfig:"PLAYWRIGHT_DRIVER_DIR"`
	ActionTimeout       time.Duration `envconfig:"ACTION_TIMEOUT" default:"30s"`

	ListenAddr        string        `envconfig:"LISTEN_ADDR" default:":8080"`
	MaxConcurrentRuns int64         `envconfig:"MAX_CONCURRENT_RUNS" default:"10"`
	MaxRunsPerClient  int64         `envconfig:"MAX_RUNS_PER_CLIENT" default:"3"`
	RunTimeout        time.Duration `envconfig:"RUN_TIMEOUT" default:"10m"`
	RateLimitPerHour  int           `envconfig:"RATE_LIMIT_PER_HOUR" default:"100"`
	RateLimitBurst    int           `envconfig:"RATE_LIMIT_BURST" default:"10"`

	// ReportDir enables the run archive when set.
	ReportDir       string        `envconfig:"REPORT_DIR"`
	ReportRetention time.Duration `envconfig:"REPORT_RETENTION" default:"168h"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load reads the given .env files (".env" when none are named, silently
// skipped if absent), then the process environment. Variables already set in
// the environment win over file values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", strings.Join(files, ", "), err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.FarmAPIKey == "" && cfg.FarmAPIKeyFile != "" {
		key, err := readAPIKeyFile(cfg.FarmAPIKeyFile)
		if err != nil {
			return nil, err
		}
		cfg.FarmAPIKey = key
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	u, err := url.Parse(c.FarmURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: FARM_URL %q is not an http(s) url", c.FarmURL)
	}
	switch c.Driver {
	case DriverPlaywright, DriverCDP:
	default:
		return fmt.Errorf("config: unknown DRIVER %q (want %s or %s)", c.Driver, DriverPlaywright, DriverCDP)
	}
	if c.DebugHost == "" {
		return errors.New("config: DEBUG_HOST is empty")
	}
	if c.FarmTimeout <= 0 || c.ActionTimeout <= 0 || c.RunTimeout <= 0 {
		return errors.New("config: timeouts must be positive")
	}
	if c.FarmRPS < 0 {
		return errors.New("config: FARM_RPS must not be negative")
	}
	if c.MaxConcurrentRuns <= 0 || c.MaxRunsPerClient <= 0 {
		return errors.New("config: run limits must be positive")
	}
	if c.RateLimitPerHour <= 0 || c.RateLimitBurst <= 0 {
		return errors.New("config: rate limits must be positive")
	}
	if c.ReportDir != "" && c.ReportRetention <= 0 {
		return errors.New("config: REPORT_RETENTION must be positive")
	}
	return nil
}

// Farm returns the farm client settings
func (c *Config) Farm() farm.Config {
	return farm.Config{
		BaseURL: c.FarmURL,
		APIKey:  c.FarmAPIKey,
		Timeout: c.FarmTimeout,
		RPS:     c.FarmRPS,
	}
}

// readAPIKeyFile reads a JSON document of the form {"API_KEY": "..."}.
func readAPIKeyFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: read api key file: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("config: api key file %s is not json", path)
	}
	key := gjson.GetBytes(raw, "API_KEY")
	if key.String() == "" {
		return "", fmt.Errorf("config: api key file %s has no API_KEY", path)
	}
	return key.String(), nil
}
