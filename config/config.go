// Package config loads the syncer's YAML configuration. Values of the form ${NAME}
// are expanded from the environment before parsing so that credentials need not be
// written to the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lendz/syncer/internal/archive"
	"github.com/lendz/syncer/internal/ratelimit"
	"github.com/lendz/syncer/internal/token"

	"gopkg.in/yaml.v2"
)

// Config represents the entire application configuration.
type Config struct {
	DatabasePath   string          `yaml:"database_path"`
	SQLDir         string          `yaml:"sql_dir"`
	HTTPTimeoutStr string          `yaml:"http_timeout"`
	Log            LogConfig       `yaml:"log"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Dialpad        DialpadConfig   `yaml:"dialpad"`
	LoanPASS       LoanPASSConfig  `yaml:"loanpass"`
	Archive        ArchiveConfig   `yaml:"archive"`
	Redis          RedisConfig     `yaml:"redis"`
	Web            WebConfig       `yaml:"web"`
	HTTPTimeout    time.Duration   // Parsed from HTTPTimeoutStr
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig holds the per-pipeline request budget.
type RateLimitConfig struct {
	MaxPerWindow int           `yaml:"max_per_window"`
	WindowStr    string        `yaml:"window"`
	Window       time.Duration // Parsed from WindowStr
}

// DialpadConfig holds Dialpad settings. The token is only required by the pipelines
// which call Dialpad.
type DialpadConfig struct {
	BaseURL               string             `yaml:"base_url"`
	APIToken              string             `yaml:"api_token"`
	LookbackStr           string             `yaml:"lookback"`
	MaxPages              int                `yaml:"max_pages"`
	TranscriptLookbackStr string             `yaml:"transcript_lookback"`
	TranscriptBatchSize   int                `yaml:"transcript_batch_size"`
	Lookback              time.Duration      // Parsed from LookbackStr
	TranscriptLookback    time.Duration      // Parsed from TranscriptLookbackStr
	Token                 *token.BearerToken // Built from APIToken, nil if unset
}

// LoanPASSConfig holds LoanPASS settings.
type LoanPASSConfig struct {
	BaseURL          string             `yaml:"base_url"`
	APIToken         string             `yaml:"api_token"`
	PricingProfileID string             `yaml:"pricing_profile_id"`
	Token            *token.BearerToken // Built from APIToken, nil if unset
}

// ArchiveConfig selects the raw page archive.
type ArchiveConfig struct {
	Kind            string `yaml:"kind"`
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
	Dir             string `yaml:"dir"`
}

// Options converts the configuration to archive options.
func (a ArchiveConfig) Options() archive.Options {
	return archive.Options{
		Kind:            a.Kind,
		Bucket:          a.Bucket,
		CredentialsFile: a.CredentialsFile,
		Endpoint:        a.Endpoint,
		Dir:             a.Dir,
	}
}

// RedisConfig holds the optional run lock settings. An empty address disables the
// lock.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	LockTTLStr string        `yaml:"lock_ttl"`
	LockTTL    time.Duration // Parsed from LockTTLStr
}

// WebConfig holds settings specific to the trigger server.
type WebConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// Load loads and validates the configuration from the given file path.
func Load(filePath string) (*Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", filePath)
	}

	configFile, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal([]byte(os.ExpandEnv(string(configFile))), &cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse YAML config file: %w", err)
	}

	if err := validateAndPrepare(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// parseDuration parses s, or returns def if s is empty.
func parseDuration(name, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}

// validateAndPrepare checks for required fields, applies defaults and sets up
// derived values.
func validateAndPrepare(c *Config) error {
	var err error

	// General
	if c.DatabasePath == "" {
		return errors.New("database_path is missing")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.HTTPTimeout, err = parseDuration("http_timeout", c.HTTPTimeoutStr, 30*time.Second); err != nil {
		return err
	}

	// Rate limit
	rl := &c.RateLimit
	if rl.MaxPerWindow == 0 {
		rl.MaxPerWindow = ratelimit.DefaultMaxPerWindow
	}
	if rl.MaxPerWindow < 0 {
		return errors.New("rate_limit.max_per_window must be positive")
	}
	if rl.Window, err = parseDuration("rate_limit.window", rl.WindowStr, ratelimit.DefaultWindow); err != nil {
		return err
	}

	// Dialpad
	dc := &c.Dialpad
	if dc.BaseURL == "" {
		return errors.New("dialpad.base_url is missing")
	}
	if dc.APIToken != "" {
		if dc.Token, err = token.NewBearerToken(token.DialpadToken, dc.APIToken); err != nil {
			return fmt.Errorf("dialpad.api_token: %w", err)
		}
	}
	if dc.Lookback, err = parseDuration("dialpad.lookback", dc.LookbackStr, 2*time.Hour); err != nil {
		return err
	}
	if dc.TranscriptLookback, err = parseDuration("dialpad.transcript_lookback", dc.TranscriptLookbackStr, 20*time.Minute); err != nil {
		return err
	}
	if dc.MaxPages < 0 {
		return errors.New("dialpad.max_pages cannot be negative")
	}
	if dc.TranscriptBatchSize == 0 {
		dc.TranscriptBatchSize = 100
	}
	if dc.TranscriptBatchSize < 0 {
		return errors.New("dialpad.transcript_batch_size must be positive")
	}

	// LoanPASS
	lc := &c.LoanPASS
	if lc.BaseURL == "" {
		return errors.New("loanpass.base_url is missing")
	}
	if lc.APIToken != "" {
		if lc.Token, err = token.NewBearerToken(token.LoanPASSToken, lc.APIToken); err != nil {
			return fmt.Errorf("loanpass.api_token: %w", err)
		}
	}

	// Archive
	switch c.Archive.Kind {
	case "gcs":
		if c.Archive.Bucket == "" {
			return errors.New("archive.bucket is missing")
		}
	case "dir":
		if c.Archive.Dir == "" {
			return errors.New("archive.dir is missing")
		}
	case "", "none":
	default:
		return fmt.Errorf("archive.kind %q is not one of gcs, dir or none", c.Archive.Kind)
	}

	// Redis
	if c.Redis.LockTTL, err = parseDuration("redis.lock_ttl", c.Redis.LockTTLStr, time.Hour); err != nil {
		return err
	}

	// Web
	if c.Web.ListenAddress == "" {
		c.Web.ListenAddress = "127.0.0.1:8080"
	}

	return nil
}
