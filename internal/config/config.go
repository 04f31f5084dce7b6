package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/webp-autogen/pkg/icron"
	"github.com/MimeLyc/webp-autogen/pkg/log"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
// Values come from an optional TOML file first, then environment variables.
//
// Environment Variables:
// Uploads:
// - UPLOAD_DIR: upload root on disk (default: /var/www/html/wp-content/uploads)
// - UPLOAD_BASE_URL: public URL of the upload root (default: /wp-content/uploads)
//
// Site:
// - SITE_ROOT: site document root holding .htaccess (default: /var/www/html)
// - SERVER_SOFTWARE: web server identification string (default: empty)
//
// Conversion:
// - BATCH_LIMIT: max new conversions per batch call (default: 200)
// - POLL_DELAY: delay between poller calls (default: 1s)
// - DEFAULT_QUALITY: quality used until one is saved (default: 80)
// - ENCODER: native or cwebp (default: native)
// - CWEBP_PATH: cwebp binary (default: cwebp)
// - CRON_EXPR: periodic sweep schedule, empty disables (default: 0 3 * * *)
// - UPLOAD_WORKERS: upload conversion workers (default: 1)
//
// HTTP:
// - HTTP_ADDR: listen address (default: :8080)
// - ADMIN_JWT_SECRET: enables the admin capability check when set
//
// System:
// - DATA_DIR: sqlite database directory (default: /app/data)
// - SETTINGS_FILE: runtime settings file (default: /app/config/settings.json)
// - LOG_LEVEL: debug, info, warn, error (default: info)
// - LOG_FILE: write logs to this file instead of stdout (optional)
type Config struct {
	Uploads UploadsConfig `json:"uploads" toml:"uploads"`
	Site    SiteConfig    `json:"site" toml:"site"`
	Convert ConvertConfig `json:"convert" toml:"convert"`
	HTTP    HTTPConfig    `json:"http" toml:"http"`
	System  SystemConfig  `json:"system" toml:"system"`
}

type UploadsConfig struct {
	Dir     string `json:"dir" toml:"dir"`
	BaseURL string `json:"base_url" toml:"base_url"`
}

type SiteConfig struct {
	Root           string `json:"root" toml:"root"`
	ServerSoftware string `json:"server_software" toml:"server_software"`
}

// HtaccessPath is the rewrite configuration file the installer edits.
func (c SiteConfig) HtaccessPath() string {
	return filepath.Join(c.Root, ".htaccess")
}

type ConvertConfig struct {
	BatchLimit     int           `json:"batch_limit" toml:"batch_limit"`
	PollDelay      time.Duration `json:"poll_delay" toml:"-"`
	PollDelayText  string        `json:"-" toml:"poll_delay"`
	DefaultQuality int           `json:"default_quality" toml:"default_quality"`
	Encoder        string        `json:"encoder" toml:"encoder"`
	CwebpPath      string        `json:"cwebp_path" toml:"cwebp_path"`
	CronExpr       string        `json:"cron_expr" toml:"cron_expr"`
	UploadWorkers  int           `json:"upload_workers" toml:"upload_workers"`
}

type HTTPConfig struct {
	Addr           string `json:"addr" toml:"addr"`
	AdminJWTSecret string `json:"-" toml:"admin_jwt_secret"`
}

type SystemConfig struct {
	DataDir      string `json:"data_dir" toml:"data_dir"`
	SettingsFile string `json:"settings_file" toml:"settings_file"`
	LogLevel     string `json:"log_level" toml:"log_level"`
	LogFile      string `json:"log_file" toml:"log_file"`
}

func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "webp-autogen.db")
}

const (
	EncoderNative = "native"
	EncoderCwebp  = "cwebp"

	DefaultBatchLimit = 200
	DefaultPollDelay  = time.Second
	DefaultQuality    = 80
)

// Option is a function type for configuring Config
type Option func(*Config)

// WithFile decodes a TOML file over the defaults before the environment is applied.
// A missing file is not an error.
func WithFile(path string) Option {
	return func(c *Config) {
		if strings.TrimSpace(path) == "" {
			return
		}
		if err := decodeFile(path, c); err != nil {
			log.Warn("Ignoring config file %s: %v", path, err)
		}
	}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Uploads: UploadsConfig{
			Dir:     "/var/www/html/wp-content/uploads",
			BaseURL: "/wp-content/uploads",
		},
		Site: SiteConfig{
			Root: "/var/www/html",
		},
		Convert: ConvertConfig{
			BatchLimit:     DefaultBatchLimit,
			PollDelay:      DefaultPollDelay,
			DefaultQuality: DefaultQuality,
			Encoder:        EncoderNative,
			CwebpPath:      "cwebp",
			CronExpr:       "0 3 * * *",
			UploadWorkers:  1,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		System: SystemConfig{
			DataDir:      "/app/data",
			SettingsFile: DefaultRuntimeSettingsFile,
			LogLevel:     "info",
		},
	}
}

// NewFromEnv creates a Config from defaults, an optional TOML file (CONFIG_FILE),
// environment variables and options, in that order.
func NewFromEnv(opts ...Option) (*Config, error) {
	config := Default()
	WithFile(os.Getenv("CONFIG_FILE"))(&config)
	for _, opt := range opts {
		opt(&config)
	}
	applyEnv(&config)

	config.normalize()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", config)
	return &config, nil
}

func applyEnv(c *Config) {
	c.Uploads.Dir = getEnvString("UPLOAD_DIR", c.Uploads.Dir)
	c.Uploads.BaseURL = getEnvString("UPLOAD_BASE_URL", c.Uploads.BaseURL)

	c.Site.Root = getEnvString("SITE_ROOT", c.Site.Root)
	c.Site.ServerSoftware = getEnvString("SERVER_SOFTWARE", c.Site.ServerSoftware)

	c.Convert.BatchLimit = getEnvInt("BATCH_LIMIT", c.Convert.BatchLimit)
	c.Convert.PollDelay = getEnvDuration("POLL_DELAY", c.Convert.PollDelay)
	c.Convert.DefaultQuality = getEnvInt("DEFAULT_QUALITY", c.Convert.DefaultQuality)
	c.Convert.Encoder = getEnvString("ENCODER", c.Convert.Encoder)
	c.Convert.CwebpPath = getEnvString("CWEBP_PATH", c.Convert.CwebpPath)
	if value, ok := os.LookupEnv("CRON_EXPR"); ok {
		c.Convert.CronExpr = value
	}
	c.Convert.UploadWorkers = getEnvInt("UPLOAD_WORKERS", c.Convert.UploadWorkers)

	c.HTTP.Addr = getEnvString("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.AdminJWTSecret = getEnvString("ADMIN_JWT_SECRET", c.HTTP.AdminJWTSecret)

	c.System.DataDir = getEnvString("DATA_DIR", c.System.DataDir)
	c.System.SettingsFile = getEnvString("SETTINGS_FILE", c.System.SettingsFile)
	c.System.LogLevel = getEnvString("LOG_LEVEL", c.System.LogLevel)
	c.System.LogFile = getEnvString("LOG_FILE", c.System.LogFile)
}

func (c *Config) normalize() {
	c.Uploads.Dir = filepath.Clean(strings.TrimSpace(c.Uploads.Dir))
	c.Uploads.BaseURL = strings.TrimRight(strings.TrimSpace(c.Uploads.BaseURL), "/")
	c.Convert.Encoder = strings.ToLower(strings.TrimSpace(c.Convert.Encoder))
	c.Convert.CronExpr = strings.TrimSpace(c.Convert.CronExpr)
	if c.Convert.UploadWorkers <= 0 {
		c.Convert.UploadWorkers = 1
	}
}

// Validate checks if all required configuration is properly set
func (c *Config) Validate() error {
	if c.Uploads.Dir == "" || c.Uploads.Dir == "." {
		return fmt.Errorf("UPLOAD_DIR is required")
	}
	if c.Convert.BatchLimit <= 0 {
		return fmt.Errorf("BATCH_LIMIT must be positive, got %d", c.Convert.BatchLimit)
	}
	if c.Convert.PollDelay < 0 {
		return fmt.Errorf("POLL_DELAY must not be negative")
	}
	if err := ValidateQuality(c.Convert.DefaultQuality); err != nil {
		return fmt.Errorf("DEFAULT_QUALITY: %w", err)
	}
	switch c.Convert.Encoder {
	case EncoderNative, EncoderCwebp:
	default:
		return fmt.Errorf("ENCODER must be %q or %q, got %q", EncoderNative, EncoderCwebp, c.Convert.Encoder)
	}
	if c.Convert.CronExpr != "" {
		if _, err := icron.Parse(c.Convert.CronExpr); err != nil {
			return fmt.Errorf("CRON_EXPR: %w", err)
		}
	}
	return nil
}

func decodeFile(path string, c *Config) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := toml.NewDecoder(file).Decode(c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if c.Convert.PollDelayText != "" {
		d, err := time.ParseDuration(c.Convert.PollDelayText)
		c.Convert.PollDelayText = ""
		if err != nil {
			return fmt.Errorf("parse poll_delay: %w", err)
		}
		c.Convert.PollDelay = d
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("1500ms") or whole seconds ("2").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
